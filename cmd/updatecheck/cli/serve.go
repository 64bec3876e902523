package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/manifest"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/metrics"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/server"
	"github.com/spf13/cobra"
)

const defaultServeAddr = ":8080"

func newServeCmd() *cobra.Command {
	var (
		manifestPath   string
		addr           string
		requestTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve version checks from a release manifest",
		Long: `Run a version service that answers POST ` + server.CheckPath + ` from a
release manifest file. The manifest is re-read whenever it changes on disk, so
publishing a release only needs a file update.

Also serves GET ` + server.LatestPath + `?platform=, ` + server.HealthPath + ` and
Prometheus metrics on ` + server.MetricsPath + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), manifestPath, addr, requestTimeout)
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Release manifest (YAML or JSON)")
	cmd.Flags().StringVar(&addr, "addr", defaultServeAddr, "Listen address")
	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 0, "Per-request timeout (default 10s)")
	//nolint:errcheck,gosec // flag is defined above
	cmd.MarkFlagRequired("manifest")

	return cmd
}

func runServe(ctx context.Context, w io.Writer, manifestPath, addr string, requestTimeout time.Duration) error {
	src := manifest.NewSource(manifestPath)
	// Refuse to start on a broken manifest; later edits are picked up live.
	if _, err := src.Manifest(); err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	srv := server.New(src,
		server.WithMetrics(metrics.New()),
		server.WithRequestTimeout(requestTimeout),
	)

	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, addr, ready) }()

	select {
	case bound := <-ready:
		fmt.Fprintf(w, "Serving version checks on http://%s\n", bound)
	case err := <-errCh:
		return err
	}
	return <-errCh
}
