package cache

import (
	"fmt"
	"net/http"
	"net/url"
)

// URLKey returns the cache key for u: the absolute URL with its fragment
// removed and an empty path on a host-based URL written as "/".
//
// Example:
//   https://example.com/index.html#top -> https://example.com/index.html
//   https://cdn.example.com            -> https://cdn.example.com/
func URLKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	return NormalizeURL(u).String()
}

// NormalizeURL returns a copy of u in key form. A request for a bare host
// always carries the path "/", so the stored key must too.
func NormalizeURL(u *url.URL) *url.URL {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	if c.Host != "" && c.Opaque == "" && c.Path == "" {
		c.Path = "/"
		c.RawPath = ""
	}
	return &c
}

// RequestKey returns the cache key for req. Only GET requests have one.
func RequestKey(req *http.Request) (string, error) {
	if req == nil || req.URL == nil {
		return "", fmt.Errorf("request cannot be nil")
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return "", fmt.Errorf("%w: %s", ErrMethodNotCacheable, req.Method)
	}
	return URLKey(req.URL), nil
}
