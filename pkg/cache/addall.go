package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sternrassler/pathdefender-sw/pkg/batch"
)

// ErrBadResponse indicates a non-2xx response while adding a request.
var ErrBadResponse = errors.New("bad response status")

// Fetcher sends a request to the network.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// AddAll fetches every URL and stores the responses in store as one batch.
//
// The batch is all-or-nothing: if any fetch fails or returns a non-2xx
// status, the remaining fetches are cancelled and nothing is written.
// Re-adding URLs that are already stored replaces their entries in place.
func AddAll(ctx context.Context, store Store, fetcher Fetcher, runner *batch.Runner, urls []*url.URL) error {
	if store == nil || fetcher == nil {
		return fmt.Errorf("store and fetcher are required")
	}
	if runner == nil {
		runner = batch.NewRunner(batch.DefaultConfig())
	}

	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		key := URLKey(u)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, key)
		}
		seen[key] = struct{}{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make([]*Entry, len(urls))
	errs := runner.Run(ctx, len(urls), func(ctx context.Context, i int) error {
		entry, err := fetchEntry(ctx, fetcher, urls[i])
		if err != nil {
			cancel()
			return err
		}
		entries[i] = entry
		return nil
	})

	if err := firstCause(errs); err != nil {
		return fmt.Errorf("add all: %w", err)
	}

	if err := store.PutAll(ctx, entries); err != nil {
		return fmt.Errorf("add all: %w", err)
	}
	return nil
}

func fetchEntry(ctx context.Context, fetcher Fetcher, u *url.URL) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrBadResponse, u, resp.StatusCode)
	}

	return ResponseToEntry(req, resp)
}

// firstCause returns the first error that is not the cancellation triggered
// by an earlier failure.
func firstCause(errs []error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}
