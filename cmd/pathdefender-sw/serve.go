package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sternrassler/pathdefender-sw/pkg/config"
	"github.com/Sternrassler/pathdefender-sw/pkg/logging"
	"github.com/Sternrassler/pathdefender-sw/pkg/metrics"
	"github.com/Sternrassler/pathdefender-sw/pkg/proxy"
	"github.com/spf13/cobra"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Install the agent and serve requests through it",
		Long:  "Run install and activate, then proxy HTTP requests cache-first until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (PDSW_ADDR)")
	cmd.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout (PDSW_SHUTDOWN_TIMEOUT)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger("main")

	rt, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.host.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	logger.Info().
		Str("cache", rt.agent.CacheName()).
		Str("state", rt.host.State().String()).
		Msg("Agent ready")

	handler, err := newMux(rt.host, rt.origin)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("origin", rt.origin.String()).Msg("Starting proxy server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newMux routes /health and /metrics locally and everything else through
// the agent. Absolute-form requests always go to the agent.
func newMux(host proxy.Fetcher, origin *url.URL) (http.Handler, error) {
	p, err := proxy.New(host, origin)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", p)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.IsAbs() {
			p.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	}), nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}
