package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCacheMiss indicates the request has no stored response
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrMethodNotCacheable indicates a non-GET request was stored
	ErrMethodNotCacheable = errors.New("request method not cacheable")

	// ErrPartialResponse indicates a 206 response was stored
	ErrPartialResponse = errors.New("partial response not cacheable")

	// ErrDuplicateRequest indicates one batch contains the same request twice
	ErrDuplicateRequest = errors.New("duplicate request in batch")
)

// Store is a single named cache.
type Store interface {
	// Name returns the store name (the cache version tag).
	Name() string

	// Match returns the entry stored for req, or ErrCacheMiss.
	Match(ctx context.Context, req *http.Request) (*Entry, error)

	// Put stores one entry, replacing any entry under the same key.
	Put(ctx context.Context, entry *Entry) error

	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []*Entry) error

	// Delete removes the entry stored for req and reports whether one existed.
	Delete(ctx context.Context, req *http.Request) (bool, error)

	// Keys returns the stored request URLs in insertion order.
	Keys(ctx context.Context) ([]string, error)
}

// Storage is the collection of named stores for one origin.
type Storage interface {
	// Open returns the named store, creating it if absent.
	Open(ctx context.Context, name string) (Store, error)

	// Has reports whether the named store exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the named store and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)

	// Keys returns the store names in creation order.
	Keys(ctx context.Context) ([]string, error)

	// Match searches every store in creation order and returns the first hit,
	// or ErrCacheMiss.
	Match(ctx context.Context, req *http.Request) (*Entry, error)
}

// validateBatch checks every entry and rejects duplicate keys.
func validateBatch(entries []*Entry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if err := entry.validate(); err != nil {
			return err
		}
		if _, dup := seen[entry.URL]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, entry.URL)
		}
		seen[entry.URL] = struct{}{}
	}
	return nil
}
