package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Entry represents a captured response stored under a request URL.
type Entry struct {
	// URL is the request key (absolute URL without fragment)
	URL string `json:"url"`

	// Method is the request method; always GET for stored entries
	Method string `json:"method"`

	// StatusCode is the HTTP status code of the captured response
	StatusCode int `json:"status_code"`

	// Status is the status line text (e.g. "200 OK")
	Status string `json:"status"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Data is the response body
	Data []byte `json:"data"`

	// CachedAt is when the response was captured
	CachedAt time.Time `json:"cached_at"`
}

// ResponseToEntry captures resp as the answer to req.
// The response body is read fully and restored for the caller.
func ResponseToEntry(req *http.Request, resp *http.Response) (*Entry, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		resp.Body.Close()
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	return &Entry{
		URL:        URLKey(req.URL),
		Method:     method,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header.Clone(),
		Data:       body,
		CachedAt:   time.Now(),
	}, nil
}

// Response rebuilds an HTTP response from the entry. Every call returns an
// independent body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}

	headers := e.Headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}

	return &http.Response{
		Status:        status,
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(e.Data)),
		ContentLength: int64(len(e.Data)),
		Request:       req,
	}
}

// validate checks that the entry may be stored.
func (e *Entry) validate() error {
	if e == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if e.Method != http.MethodGet {
		return fmt.Errorf("%w: %s %s", ErrMethodNotCacheable, e.Method, e.URL)
	}
	if e.StatusCode == http.StatusPartialContent {
		return fmt.Errorf("%w: %s", ErrPartialResponse, e.URL)
	}
	if e.URL == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidEntry)
	}
	return nil
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Headers = e.Headers.Clone()
	c.Data = bytes.Clone(e.Data)
	return &c
}
