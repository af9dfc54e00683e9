// Package proxy exposes a lifecycle host as an HTTP proxy. Browsers pointed
// at it as a forward proxy send absolute-form request URIs; plain requests
// to the proxy's own address are resolved against the game origin.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/pathdefender-sw/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pdsw_proxy_requests_total",
	Help: "Total proxied requests by outcome",
}, []string{"outcome"}) // "ok", "bad_request", "failed"

// hopHeaders are connection-scoped and never forwarded (RFC 9110 7.6.1).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Fetcher routes a request through the agent. *lifecycle.Host satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Handler serves requests through a Fetcher.
type Handler struct {
	host   Fetcher
	origin *url.URL
	logger zerolog.Logger
}

// New creates a proxy handler. origin must be absolute.
func New(host Fetcher, origin *url.URL) (*Handler, error) {
	if host == nil {
		return nil, errors.New("host is required")
	}
	if origin == nil || !origin.IsAbs() {
		return nil, fmt.Errorf("origin must be an absolute URL")
	}
	return &Handler{
		host:   host,
		origin: origin,
		logger: logging.NewLogger("proxy"),
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Tunnels are opaque to the agent; https assets must be requested in
	// absolute form.
	if r.Method == http.MethodConnect {
		proxyRequestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "CONNECT tunnelling is not supported", http.StatusMethodNotAllowed)
		return
	}

	out, err := h.outbound(r)
	if err != nil {
		proxyRequestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.host.Fetch(r.Context(), out)
	if err != nil {
		proxyRequestsTotal.WithLabelValues("failed").Inc()
		h.logger.Error().Err(err).Str("url", out.URL.String()).Msg("Proxy request failed")
		http.Error(w, fmt.Sprintf("fetch failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	removeHopHeaders(header)

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Warn().Err(err).Str("url", out.URL.String()).Msg("Failed to write response")
	}
	proxyRequestsTotal.WithLabelValues("ok").Inc()
}

// outbound builds the request handed to the host.
func (h *Handler) outbound(r *http.Request) (*http.Request, error) {
	var target *url.URL
	if r.URL.IsAbs() {
		target = cloneURL(r.URL)
	} else {
		target = h.origin.ResolveReference(&url.URL{
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		})
	}
	if target.Host == "" {
		return nil, fmt.Errorf("request %q has no host", r.URL.String())
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	out.ContentLength = r.ContentLength
	out.Header = r.Header.Clone()
	removeHopHeaders(out.Header)
	return out, nil
}

// removeHopHeaders drops hop-by-hop headers, including any named in
// Connection.
func removeHopHeaders(header http.Header) {
	for _, value := range header.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				header.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		header.Del(name)
	}
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}
