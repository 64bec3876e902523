package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/settings"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncheck"
	"github.com/spf13/cobra"
)

func newCacheCmd(inv *invocation) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached version checks",
	}
	cmd.AddCommand(newCacheClearCmd(inv))
	return cmd
}

func newCacheClearCmd(inv *invocation) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached version checks",
		Long: `Remove every cached version check result from the configured cache
backend. Other data stored in the same backend is left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := inv.Settings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cache-backend") {
				s.CacheBackend = strings.ToLower(backend)
			}
			return runCacheClear(cmd.Context(), cmd.OutOrStdout(), s)
		},
	}

	cmd.Flags().StringVar(&backend, "cache-backend", "", "Cache backend: file, sqlite, redis or memory")

	return cmd
}

func runCacheClear(ctx context.Context, w io.Writer, s *settings.Settings) error {
	store := openCache(ctx, s)
	defer store.Close()

	cfg := checkerConfig(s)
	cfg.EnableCaching = true
	versioncheck.New(cfg, versioncheck.WithCache(store)).ClearCache(ctx)

	fmt.Fprintf(w, "Cleared cached version checks (%s).\n", s.CacheBackend)
	return nil
}
