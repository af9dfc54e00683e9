package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Sternrassler/pathdefender-sw/internal/testutil"
	"github.com/Sternrassler/pathdefender-sw/pkg/agent"
	"github.com/Sternrassler/pathdefender-sw/pkg/cache"
	"github.com/Sternrassler/pathdefender-sw/pkg/lifecycle"
	"github.com/Sternrassler/pathdefender-sw/pkg/manifest"
	"github.com/Sternrassler/pathdefender-sw/pkg/network"
	"github.com/rs/zerolog"
)

// recordingHost captures the outbound request and replies with resp or err.
type recordingHost struct {
	got  *http.Request
	resp *http.Response
	err  error
}

func (h *recordingHost) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	h.got = req
	if h.err != nil {
		return nil, h.err
	}
	return h.resp, nil
}

func okResponse(body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func mustOrigin(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("http://game.local/")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, mustOrigin(t)); err == nil {
		t.Error("New() should fail without a host")
	}
	if _, err := New(&recordingHost{}, &url.URL{Path: "/"}); err == nil {
		t.Error("New() should fail with a relative origin")
	}
}

func TestServeHTTP_TargetResolution(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"origin form", "/index.html", "http://game.local/index.html"},
		{"origin form with query", "/css2?family=Inter", "http://game.local/css2?family=Inter"},
		{"absolute form", "https://cdn.tailwindcss.com/", "https://cdn.tailwindcss.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := &recordingHost{resp: okResponse("ok", nil)}
			h, err := New(host, mustOrigin(t))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if host.got == nil {
				t.Fatal("host was not called")
			}
			if host.got.URL.String() != tt.want {
				t.Errorf("outbound URL = %s, want %s", host.got.URL, tt.want)
			}
		})
	}
}

func TestServeHTTP_StripsHopHeaders(t *testing.T) {
	upstream := http.Header{}
	upstream.Set("Content-Type", "text/css")
	upstream.Set("Connection", "X-Upstream-Hop")
	upstream.Set("X-Upstream-Hop", "1")
	upstream.Set("Keep-Alive", "timeout=5")

	host := &recordingHost{resp: okResponse("body{}", upstream)}
	h, _ := New(host, mustOrigin(t))

	req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
	req.Header.Set("Proxy-Authorization", "Basic Zm9vOmJhcg==")
	req.Header.Set("Accept", "text/css")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if host.got.Header.Get("Proxy-Authorization") != "" {
		t.Error("Proxy-Authorization forwarded")
	}
	if host.got.Header.Get("Accept") != "text/css" {
		t.Error("end-to-end header Accept dropped")
	}

	resp := rec.Result()
	if resp.Header.Get("X-Upstream-Hop") != "" || resp.Header.Get("Keep-Alive") != "" {
		t.Errorf("hop-by-hop headers leaked: %v", resp.Header)
	}
	if resp.Header.Get("Content-Type") != "text/css" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "body{}" {
		t.Errorf("body = %q", body)
	}
}

func TestServeHTTP_FetchError(t *testing.T) {
	host := &recordingHost{err: lifecycle.ErrNoResponse}
	h, _ := New(host, mustOrigin(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestServeHTTP_RefusesConnect(t *testing.T) {
	host := &recordingHost{resp: okResponse("ok", nil)}
	h, _ := New(host, mustOrigin(t))

	req := httptest.NewRequest(http.MethodConnect, "/", nil)
	req.URL = &url.URL{Host: "cdn.tailwindcss.com:443"}
	req.Host = "cdn.tailwindcss.com:443"
	req.RequestURI = "cdn.tailwindcss.com:443"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if host.got != nil {
		t.Errorf("CONNECT forwarded as %s %s", host.got.Method, host.got.URL)
	}
}

func TestServeHTTP_PreservesStatus(t *testing.T) {
	host := &recordingHost{resp: &http.Response{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{},
		Body:       http.NoBody,
	}}
	h, _ := New(host, mustOrigin(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRemoveHopHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("Connection", "close, X-Foo")
	header.Set("X-Foo", "1")
	header.Set("Transfer-Encoding", "chunked")
	header.Set("Cache-Control", "max-age=60")

	removeHopHeaders(header)

	for _, name := range []string{"Connection", "X-Foo", "Transfer-Encoding"} {
		if header.Get(name) != "" {
			t.Errorf("%s not removed", name)
		}
	}
	if header.Get("Cache-Control") == "" {
		t.Error("Cache-Control removed")
	}
}

// Served through a real agent: after install the shell survives the origin
// going away.
func TestServeHTTP_OfflineAfterInstall(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/", testutil.NewAssetResponse("<html>shell</html>", "text/html"))
	origin.SetResponse("/a.png", testutil.NewAssetResponse("png", "image/png"))

	fetcher := network.New(network.Config{Transport: origin.Transport()})
	a, err := agent.New(agent.Config{
		Manifest: manifest.Manifest{Version: "v1", Assets: []string{"/", "/a.png"}},
		Origin:   origin.BaseURL(),
	}, cache.NewMemoryStorage(), fetcher)
	if err != nil {
		t.Fatalf("agent.New() error = %v", err)
	}

	host := lifecycle.NewHost(fetcher, zerolog.Nop())
	a.Register(host)
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h, _ := New(host, origin.BaseURL())
	srv := httptest.NewServer(h)
	defer srv.Close()

	before := origin.RequestCount()
	resp, err := http.Get(srv.URL + "/a.png")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "png" {
		t.Errorf("body = %q, want png", body)
	}
	if origin.RequestCount() != before {
		t.Error("cached asset was fetched from the origin")
	}

	// Uncached and unreachable: the load fails.
	origin.Close()
	resp, err = http.Get(srv.URL + "/live.json")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}
