package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/cachestore"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/logging"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/manifest"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/paths"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/settings"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/telemetry"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncheck"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

type checkOptions struct {
	currentVersion string
	platform       string
	buildNumber    string
	locale         string

	apiURL        string
	timeout       time.Duration
	noCache       bool
	cacheDuration int
	cacheBackend  string
	manifestPath  string
	headers       []string

	jsonOutput bool
}

func newCheckCmd(inv *invocation) *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer version is available",
		Long: `Ask the version service whether a newer release exists for the given
version and platform.

A cached answer younger than the cache duration is used without contacting the
service. When the service cannot be reached, the last cached answer is shown
instead, however old it is.

With --manifest the answer is computed locally from a release manifest file
and the service is never contacted.

Output is human readable on a terminal and JSON otherwise (or with --json).
The command exits non-zero when the check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := inv.Settings()
			if err != nil {
				return err
			}
			if err := applyCheckFlags(cmd.Flags(), s, opts); err != nil {
				return err
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), s, inv.telemetry, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.currentVersion, "current-version", "", "Installed app version, e.g. 1.2.0")
	f.StringVar(&opts.platform, "platform", "", "App platform: ios or android")
	f.StringVar(&opts.buildNumber, "build-number", "", "Installed build number")
	f.StringVar(&opts.locale, "locale", "", "Preferred locale for release notes, e.g. de-DE")
	f.StringVar(&opts.apiURL, "api-url", "", "Version service endpoint")
	f.DurationVar(&opts.timeout, "timeout", 0, "Request timeout")
	f.BoolVar(&opts.noCache, "no-cache", false, "Neither read nor write the cache")
	f.IntVar(&opts.cacheDuration, "cache-duration", 0, "Minutes a cached answer stays fresh")
	f.StringVar(&opts.cacheBackend, "cache-backend", "", "Cache backend: file, sqlite, redis or memory")
	f.StringVar(&opts.manifestPath, "manifest", "", "Answer from this release manifest instead of the service")
	f.StringArrayVar(&opts.headers, "header", nil, "Extra request header as key=value (repeatable)")
	f.BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON")

	//nolint:errcheck,gosec // flags are defined above
	cmd.MarkFlagRequired("current-version")
	//nolint:errcheck,gosec // flags are defined above
	cmd.MarkFlagRequired("platform")

	return cmd
}

// applyCheckFlags overrides settings with the flags the user actually set.
func applyCheckFlags(flags *pflag.FlagSet, s *settings.Settings, opts checkOptions) error {
	if flags.Changed("api-url") {
		s.APIURL = opts.apiURL
	}
	if flags.Changed("timeout") {
		if opts.timeout <= 0 {
			return fmt.Errorf("--timeout must be positive, got %s", opts.timeout)
		}
		s.Timeout = opts.timeout
	}
	if flags.Changed("no-cache") {
		s.EnableCaching = !opts.noCache
	}
	if flags.Changed("cache-duration") {
		if opts.cacheDuration < 0 {
			return fmt.Errorf("--cache-duration must not be negative, got %d", opts.cacheDuration)
		}
		s.CacheDurationMinutes = opts.cacheDuration
	}
	if flags.Changed("cache-backend") {
		s.CacheBackend = strings.ToLower(opts.cacheBackend)
	}
	for _, h := range opts.headers {
		k, v, ok := strings.Cut(h, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("invalid --header %q, expected key=value", h)
		}
		if s.Headers == nil {
			s.Headers = make(map[string]string)
		}
		s.Headers[k] = v
	}
	return nil
}

func runCheck(ctx context.Context, w io.Writer, s *settings.Settings, tel telemetry.Client, opts checkOptions) error {
	platform, err := versioncheck.ParsePlatform(opts.platform)
	if err != nil {
		return fmt.Errorf("--platform: %w", err)
	}
	req := versioncheck.Request{
		CurrentVersion: strings.TrimSpace(opts.currentVersion),
		Platform:       platform,
		BuildNumber:    strings.TrimSpace(opts.buildNumber),
		Locale:         strings.TrimSpace(opts.locale),
	}

	checkerOpts := []versioncheck.Option{}
	if tel != nil {
		checkerOpts = append(checkerOpts, versioncheck.WithObserver(telemetry.Observer(tel)))
	}
	if opts.manifestPath != "" {
		checkerOpts = append(checkerOpts, versioncheck.WithFetcher(manifest.NewSource(opts.manifestPath)))
	}
	if s.EnableCaching {
		store := openCache(ctx, s)
		defer store.Close()
		checkerOpts = append(checkerOpts, versioncheck.WithCache(store))
	}

	checker := versioncheck.New(checkerConfig(s), checkerOpts...)
	res := checker.Check(ctx, req)

	if err := printResult(w, res, req.Locale, opts.jsonOutput || !isTerminal(w)); err != nil {
		return err
	}
	if !res.Success {
		return NewSilentError(errors.New(res.Error))
	}
	return nil
}

func checkerConfig(s *settings.Settings) versioncheck.Config {
	cfg := versioncheck.DefaultConfig()
	cfg.APIURL = s.APIURL
	cfg.Timeout = s.Timeout
	cfg.EnableCaching = s.EnableCaching
	cfg.CacheDuration = s.CacheDuration()
	cfg.UserAgent = s.UserAgent
	if cfg.UserAgent == "" {
		cfg.UserAgent = "updatecheck/" + Version
	}
	cfg.Headers = s.Headers
	return cfg
}

// openCache opens the configured store. A store that cannot be opened
// degrades to an in-memory cache: caching problems never fail a check.
//
//nolint:ireturn // returns whichever backend is configured
func openCache(ctx context.Context, s *settings.Settings) cachestore.Store {
	store, err := cachestore.Open(s.CacheBackend, cachestore.Options{
		Path:      cachePath(s),
		RedisAddr: s.RedisAddr,
	})
	if err != nil {
		logging.Warn(logging.WithComponent(ctx, "cli"), "cache unavailable, using memory",
			slog.String("backend", s.CacheBackend),
			slog.String("error", err.Error()),
		)
		return cachestore.NewMemory()
	}
	return store
}

func cachePath(s *settings.Settings) string {
	if s.CachePath != "" {
		return s.CachePath
	}
	var (
		p   string
		err error
	)
	if s.CacheBackend == cachestore.BackendSQLite {
		p, err = paths.CacheDB()
	} else {
		p, err = paths.CacheFile()
	}
	if err != nil {
		return ""
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printResult(w io.Writer, res versioncheck.Result, locale string, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
		return nil
	}
	printHuman(w, res, locale)
	return nil
}

// printHuman prints the result the way a person reads it on a terminal.
func printHuman(w io.Writer, res versioncheck.Result, locale string) {
	if !res.Success {
		fmt.Fprintf(w, "Version check failed: %s\n", res.Error)
		return
	}

	if res.UpdateAvailable {
		fmt.Fprintf(w, "A newer version is available: %s (current: %s)\n", res.LatestVersion, res.CurrentVersion)
		if res.ForceUpdate {
			fmt.Fprintln(w, "This update is required.")
		}
		if res.DownloadURL != "" {
			fmt.Fprintf(w, "Download: %s\n", res.DownloadURL)
		}
	} else {
		fmt.Fprintf(w, "You are on the latest version (%s).\n", res.CurrentVersion)
	}

	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
	if notes := res.ReleaseNotes.For(locale); notes != "" && res.UpdateAvailable {
		fmt.Fprintln(w, "\nRelease notes:")
		for _, line := range strings.Split(strings.TrimRight(notes, "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if res.Source == versioncheck.SourceStaleCache {
		fmt.Fprintln(w, "\n(The version service could not be reached; showing the last known answer.)")
	}
}
