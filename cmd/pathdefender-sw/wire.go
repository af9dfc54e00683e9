package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Sternrassler/pathdefender-sw/pkg/agent"
	"github.com/Sternrassler/pathdefender-sw/pkg/cache"
	"github.com/Sternrassler/pathdefender-sw/pkg/config"
	"github.com/Sternrassler/pathdefender-sw/pkg/lifecycle"
	"github.com/Sternrassler/pathdefender-sw/pkg/logging"
	"github.com/Sternrassler/pathdefender-sw/pkg/network"
	"github.com/redis/go-redis/v9"
)

// runtime is the wired agent and its dependencies.
type runtime struct {
	origin  *url.URL
	storage cache.Storage
	agent   *agent.Agent
	host    *lifecycle.Host
	close   func() error
}

// newStorage opens the configured cache storage. The returned close func
// releases the backend connection.
func newStorage(ctx context.Context, cfg *config.Config) (cache.Storage, func() error, error) {
	switch cfg.Storage {
	case config.StorageRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger := logging.NewLogger("main")
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
		return cache.NewRedisStorage(redisClient, cfg.RedisPrefix), redisClient.Close, nil
	case config.StorageMemory:
		return cache.NewMemoryStorage(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// build wires storage, network, agent and host. The host is not started.
func build(ctx context.Context, cfg *config.Config) (*runtime, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}
	m, err := cfg.Manifest()
	if err != nil {
		return nil, err
	}

	storage, closeStorage, err := newStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fetcher := network.New(network.Config{Timeout: cfg.FetchTimeout})

	a, err := agent.New(agent.Config{
		Manifest:    m,
		Origin:      origin,
		Concurrency: cfg.Concurrency,
	}, storage, fetcher)
	if err != nil {
		closeStorage()
		return nil, fmt.Errorf("create agent: %w", err)
	}

	host := lifecycle.NewHost(fetcher, logging.NewLogger("lifecycle"))
	a.Register(host)

	return &runtime{
		origin:  origin,
		storage: storage,
		agent:   a,
		host:    host,
		close:   closeStorage,
	}, nil
}
