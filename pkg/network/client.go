// Package network forwards intercepted requests to the network. It is the
// counterpart of the browser's fetch(): responses of any status are returned
// as responses, only transport failures are errors.
package network

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/Sternrassler/pathdefender-sw/pkg/logging"
	"github.com/rs/zerolog"
)

// Prometheus metrics for network fetches.
var (
	networkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdsw_network_requests_total",
		Help: "Total network fetches by host and status",
	}, []string{"host", "status"})

	networkRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pdsw_network_request_duration_seconds",
		Help:    "Network fetch duration in seconds by host",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	networkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdsw_network_errors_total",
		Help: "Total network fetch errors by class",
	}, []string{"class"})
)

// Fetcher sends a request to the network.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds the network client configuration.
type Config struct {
	// Timeout bounds a whole fetch. Zero means no timeout; an unresponsive
	// upstream then keeps the request pending until ctx ends.
	Timeout time.Duration

	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper
}

// DefaultConfig returns the default configuration (no timeout).
func DefaultConfig() Config {
	return Config{}
}

// Client is the network fetcher.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a new network client.
func New(cfg Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		logger: logging.NewLogger("network"),
	}
}

// Fetch forwards req unmodified and returns whatever the network answers.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if ctx != req.Context() {
		req = req.Clone(ctx)
	}

	host := req.URL.Host
	startTime := time.Now()
	defer func() {
		networkRequestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("Forwarding request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		networkErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		networkRequestsTotal.WithLabelValues(host, "network_error").Inc()
		c.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Network request failed")
		return nil, &FetchError{
			URL:        req.URL.String(),
			ErrorClass: ErrorClassNetwork,
			Err:        err,
		}
	}

	networkRequestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
	if class := ClassifyStatus(resp.StatusCode); class != "" {
		networkErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str("url", req.URL.String()).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream returned error status")
	}

	return resp, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
