// Package testutil provides testing utilities for the offline agent.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock asset response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable asset server standing in for the game origin
// and the third-party CDNs it references.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requestCount int
	perLocator   map[string]int
}

// NewMockOrigin creates a new mock origin server.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers:   make(map[string]http.HandlerFunc),
		perLocator: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hostKey := r.Host + r.URL.RequestURI()
		pathKey := r.URL.RequestURI()

		mock.mu.Lock()
		mock.requestCount++
		handler, exists := mock.handlers[hostKey]
		key := hostKey
		if !exists {
			handler, exists = mock.handlers[pathKey]
			key = pathKey
		}
		mock.perLocator[key]++
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// BaseURL returns the mock server URL parsed, with a trailing slash.
func (m *MockOrigin) BaseURL() *url.URL {
	u, _ := url.Parse(m.server.URL + "/")
	return u
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.perLocator = make(map[string]int)
}

// SetHandler sets a custom handler for a locator. A locator is either a
// request URI ("/index.html") served for any host, or an absolute URL
// ("https://cdn.tailwindcss.com") matched on host and request URI.
func (m *MockOrigin) SetHandler(locator string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[locatorKey(locator)] = handler
}

// SetResponse configures a simple response for a locator.
func (m *MockOrigin) SetResponse(locator string, resp MockResponse) {
	m.SetHandler(locator, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockOrigin) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// RequestCountFor returns the number of requests that hit a locator.
func (m *MockOrigin) RequestCountFor(locator string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perLocator[locatorKey(locator)]
}

// Transport returns a RoundTripper that sends every request, whatever its
// host or scheme, to the mock server. The Host header is preserved so
// absolute locators still match their handlers.
func (m *MockOrigin) Transport() http.RoundTripper {
	return &redirectTransport{target: m.BaseURL()}
}

type redirectTransport struct {
	target *url.URL
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if out.Host == "" {
		out.Host = req.URL.Host
	}
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

func locatorKey(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || !u.IsAbs() {
		return locator
	}
	uri := u.RequestURI()
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return u.Host + uri
}

// NewAssetResponse creates a 200 OK response with the given body and content type.
func NewAssetResponse(body, contentType string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": contentType,
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "internal server error",
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
	}
}

// NewPartialContentResponse creates a 206 Partial Content response.
func NewPartialContentResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusPartialContent,
		Body:       body,
		Headers: map[string]string{
			"Content-Range": "bytes 0-3/100",
		},
	}
}
