package main

import (
	"context"
	"fmt"
	"io"

	"github.com/Sternrassler/pathdefender-sw/pkg/config"
	"github.com/spf13/cobra"
)

func newCachesCmd(cfg *config.Config) *cobra.Command {
	var namesOnly bool

	cmd := &cobra.Command{
		Use:   "caches",
		Short: "List cache stores",
		Long:  "List cache stores in creation order together with their entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCaches(cmd.Context(), cfg, cmd.OutOrStdout(), namesOnly)
		},
	}

	cmd.Flags().BoolVar(&namesOnly, "names", false, "print store names only")

	return cmd
}

func runCaches(ctx context.Context, cfg *config.Config, out io.Writer, namesOnly bool) error {
	storage, closeStorage, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	names, err := storage.Keys(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "no caches")
		return nil
	}

	for _, name := range names {
		if namesOnly {
			fmt.Fprintln(out, name)
			continue
		}

		store, err := storage.Open(ctx, name)
		if err != nil {
			return err
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%d entries)\n", name, len(keys))
		for _, key := range keys {
			fmt.Fprintf(out, "  %s\n", key)
		}
	}
	return nil
}
