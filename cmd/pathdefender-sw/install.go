package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/pathdefender-sw/pkg/cache"
	"github.com/Sternrassler/pathdefender-sw/pkg/config"
	"github.com/spf13/cobra"
)

func newInstallCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Populate the cache once and exit",
		Long:  "Run install and activate against the configured storage. Useful to pre-warm a shared Redis store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	return cmd
}

// runInstall fails when the current store lacks any manifest asset, since
// the agent itself only logs population errors.
func runInstall(ctx context.Context, cfg *config.Config, out io.Writer) error {
	rt, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.host.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	return verifyInstall(ctx, rt, out)
}

// verifyInstall checks every manifest asset by key. Entries left in a
// reused store by an earlier manifest do not count.
func verifyInstall(ctx context.Context, rt *runtime, out io.Writer) error {
	store, err := rt.storage.Open(ctx, rt.agent.CacheName())
	if err != nil {
		return err
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}

	stored := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		stored[key] = struct{}{}
	}

	assets := rt.agent.Assets()
	var missing []string
	for _, u := range assets {
		if _, ok := stored[cache.URLKey(u)]; !ok {
			missing = append(missing, cache.URLKey(u))
		}
	}

	fmt.Fprintf(out, "%s: cached %d of %d assets\n", rt.agent.CacheName(), len(assets)-len(missing), len(assets))
	if len(missing) > 0 {
		return fmt.Errorf("install incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
