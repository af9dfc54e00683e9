// Package agent implements the Path Defender offline cache agent: it
// pre-caches the app shell on install, answers requests cache-first with a
// network fallback, and drops stale cache versions on activation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sternrassler/pathdefender-sw/pkg/batch"
	"github.com/Sternrassler/pathdefender-sw/pkg/cache"
	"github.com/Sternrassler/pathdefender-sw/pkg/lifecycle"
	"github.com/Sternrassler/pathdefender-sw/pkg/logging"
	"github.com/Sternrassler/pathdefender-sw/pkg/manifest"
	"github.com/rs/zerolog"
)

// Config holds the agent configuration.
type Config struct {
	// Manifest names the current cache version and the assets cached under it.
	Manifest manifest.Manifest

	// Origin is the scope relative asset locators resolve against.
	Origin *url.URL

	// Concurrency bounds parallel fetches during install and deletions
	// during activation.
	Concurrency int
}

// DefaultConfig returns the shipped manifest scoped to origin.
func DefaultConfig(origin *url.URL) Config {
	return Config{
		Manifest:    manifest.Default(),
		Origin:      origin,
		Concurrency: batch.DefaultConfig().MaxConcurrency,
	}
}

// Agent is the offline cache agent.
type Agent struct {
	cacheName string
	assets    []*url.URL
	storage   cache.Storage
	network   cache.Fetcher
	runner    *batch.Runner
	logger    zerolog.Logger
}

// New creates an agent over storage, fetching through network.
func New(cfg Config, storage cache.Storage, network cache.Fetcher) (*Agent, error) {
	if storage == nil {
		return nil, fmt.Errorf("cache storage is required")
	}
	if network == nil {
		return nil, fmt.Errorf("network fetcher is required")
	}
	if err := cfg.Manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	assets, err := cfg.Manifest.Resolve(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest: %w", err)
	}

	return &Agent{
		cacheName: cfg.Manifest.Version,
		assets:    assets,
		storage:   storage,
		network:   network,
		runner:    batch.NewRunner(batch.Config{MaxConcurrency: cfg.Concurrency}),
		logger:    logging.NewLogger("offline-agent"),
	}, nil
}

// CacheName returns the current cache version tag.
func (a *Agent) CacheName() string {
	return a.cacheName
}

// Assets returns the resolved manifest URLs.
func (a *Agent) Assets() []*url.URL {
	out := make([]*url.URL, len(a.assets))
	copy(out, a.assets)
	return out
}

// Register wires the agent's handlers into the host.
func (a *Agent) Register(r lifecycle.Registrar) {
	r.OnInstall(a.Install)
	r.OnActivate(a.Activate)
	r.OnFetch(a.Intercept)
}

// Install pre-caches the manifest. Population errors are logged and
// swallowed, so the agent still installs; fetches then fall through to
// the network.
func (a *Agent) Install(ev *lifecycle.ExtendableEvent) {
	a.logger.Info().Msg("Install event triggered")
	_ = ev.WaitUntil(func(ctx context.Context) error {
		if err := a.Precache(ctx); err != nil {
			a.logger.Error().Err(err).Str("cache", a.cacheName).Msg("Failed to cache during install")
		}
		return nil
	})
}

// Precache opens the current cache and adds every manifest asset as one
// all-or-nothing batch. There is no retry.
func (a *Agent) Precache(ctx context.Context) error {
	store, err := a.storage.Open(ctx, a.cacheName)
	if err != nil {
		return fmt.Errorf("open cache %q: %w", a.cacheName, err)
	}

	a.logger.Info().
		Str("cache", a.cacheName).
		Int("assets", len(a.assets)).
		Msg("Caching app shell assets")

	return cache.AddAll(ctx, store, a.network, a.runner, a.assets)
}

// Activate deletes every cache store except the current one.
func (a *Agent) Activate(ev *lifecycle.ExtendableEvent) {
	a.logger.Info().Msg("Activate event triggered")
	_ = ev.WaitUntil(a.Prune)
}

// Prune deletes stale stores concurrently. Deletion errors are joined and
// returned as-is; the agent does not act on them.
func (a *Agent) Prune(ctx context.Context) error {
	names, err := a.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}

	stale := make([]string, 0, len(names))
	for _, name := range names {
		if name != a.cacheName {
			stale = append(stale, name)
		}
	}

	errs := a.runner.Run(ctx, len(stale), func(ctx context.Context, i int) error {
		a.logger.Info().Str("cache", stale[i]).Msg("Deleting old cache")
		if _, err := a.storage.Delete(ctx, stale[i]); err != nil {
			return fmt.Errorf("delete cache %q: %w", stale[i], err)
		}
		return nil
	})
	return errors.Join(errs...)
}

// Intercept answers http and https requests cache-first. Other schemes are
// left to the host's default handling.
func (a *Agent) Intercept(ev *lifecycle.FetchEvent) {
	req := ev.Request
	if req == nil || req.URL == nil {
		return
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return
	}

	_ = ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
		resp, err := a.Respond(ctx, req)
		if err != nil {
			a.logger.Error().Err(err).Str("url", req.URL.String()).Msg("Fetch failed")
			// No offline fallback page: the host reports a failed load.
			return nil, nil
		}
		return resp, nil
	})
}

// Respond returns the cached response for req from any store, or else
// exactly one network fetch.
func (a *Agent) Respond(ctx context.Context, req *http.Request) (*http.Response, error) {
	entry, err := a.storage.Match(ctx, req)
	if err == nil {
		a.logger.Debug().Str("url", req.URL.String()).Msg("Serving from cache")
		return entry.Response(req), nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return nil, fmt.Errorf("cache match: %w", err)
	}

	a.logger.Debug().Str("url", req.URL.String()).Msg("Fetching from network")
	return a.network.Fetch(ctx, req)
}
