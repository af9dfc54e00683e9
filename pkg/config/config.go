// Package config loads the proxy configuration from PDSW_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/pathdefender-sw/pkg/logging"
	"github.com/Sternrassler/pathdefender-sw/pkg/manifest"
	"github.com/caarlos0/env/v11"
)

// Storage kinds.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Config is the runtime configuration of the pathdefender-sw binary.
type Config struct {
	Addr    string `env:"PDSW_ADDR" envDefault:":8080"`
	Origin  string `env:"PDSW_ORIGIN" envDefault:"http://localhost:8000/"`
	Storage string `env:"PDSW_STORAGE" envDefault:"memory"`

	RedisAddr   string `env:"PDSW_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"PDSW_REDIS_DB" envDefault:"0"`
	RedisPrefix string `env:"PDSW_REDIS_PREFIX" envDefault:"pdsw"`

	// ManifestPath is a YAML manifest; empty means the shipped one.
	ManifestPath string `env:"PDSW_MANIFEST"`
	// CacheName overrides the manifest version tag.
	CacheName   string `env:"PDSW_CACHE_NAME"`
	Concurrency int    `env:"PDSW_CONCURRENCY" envDefault:"6"`

	// FetchTimeout of zero leaves network fetches unbounded.
	FetchTimeout    time.Duration `env:"PDSW_FETCH_TIMEOUT" envDefault:"0s"`
	ShutdownTimeout time.Duration `env:"PDSW_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"PDSW_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"PDSW_LOG_PRETTY" envDefault:"false"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that cannot be caught by parsing.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage {
	case StorageMemory, StorageRedis:
	default:
		errs = append(errs, fmt.Errorf("storage must be %q or %q, got %q", StorageMemory, StorageRedis, c.Storage))
	}
	if _, err := c.OriginURL(); err != nil {
		errs = append(errs, err)
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("fetch timeout must not be negative"))
	}
	if c.Storage == StorageRedis && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, errors.New("redis address is required for redis storage"))
	}
	if !logging.LogLevel(c.LogLevel).Valid() {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// OriginURL parses Origin. It must be an absolute http(s) URL.
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", c.Origin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute http(s) URL, got %q", c.Origin)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Manifest returns the configured manifest with the cache name override
// applied.
func (c Config) Manifest() (manifest.Manifest, error) {
	m := manifest.Default()
	if c.ManifestPath != "" {
		loaded, err := manifest.Load(c.ManifestPath)
		if err != nil {
			return manifest.Manifest{}, err
		}
		m = loaded
	}
	if c.CacheName != "" {
		m.Version = c.CacheName
	}
	return m, nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.LogLevel),
		Pretty: c.LogPretty,
		Output: os.Stderr,
	}
}
