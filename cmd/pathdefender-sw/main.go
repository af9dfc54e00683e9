// Command pathdefender-sw runs the Path Defender offline cache agent behind
// an HTTP proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/pathdefender-sw/pkg/config"
	"github.com/Sternrassler/pathdefender-sw/pkg/logging"
	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	if err := newRootCmd(&cfg).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

// newRootCmd builds the command tree. Flags default to the values already
// loaded from the environment, so a flag given on the command line wins.
func newRootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pathdefender-sw",
		Short: "Offline cache agent for Path Defender",
		Long: `pathdefender-sw pre-caches the Path Defender app shell and serves it
cache-first, falling back to the network for everything else.
- serve: run the agent behind an HTTP proxy
- install: populate the cache once and exit
- caches: list cache stores and their entries`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logging.Setup(cfg.Logging())
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.Origin, "origin", cfg.Origin, "game origin that relative assets resolve against (PDSW_ORIGIN)")
	flags.StringVar(&cfg.Storage, "storage", cfg.Storage, "cache storage backend: memory or redis (PDSW_STORAGE)")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address (PDSW_REDIS_ADDR)")
	flags.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "redis database (PDSW_REDIS_DB)")
	flags.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "redis key prefix (PDSW_REDIS_PREFIX)")
	flags.StringVar(&cfg.ManifestPath, "manifest", cfg.ManifestPath, "YAML asset manifest (PDSW_MANIFEST)")
	flags.StringVar(&cfg.CacheName, "cache-name", cfg.CacheName, "override the manifest cache version (PDSW_CACHE_NAME)")
	flags.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "parallel fetches and deletions (PDSW_CONCURRENCY)")
	flags.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "network fetch timeout, 0 for none (PDSW_FETCH_TIMEOUT)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (PDSW_LOG_LEVEL)")
	flags.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human-readable log output (PDSW_LOG_PRETTY)")

	cmd.AddCommand(
		newServeCmd(cfg),
		newInstallCmd(cfg),
		newCachesCmd(cfg),
	)

	return cmd
}
