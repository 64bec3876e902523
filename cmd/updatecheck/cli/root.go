package cli

import (
	"fmt"
	"runtime"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/logging"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/settings"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/telemetry"
	"github.com/spf13/cobra"
)

const gettingStarted = `

Getting Started:
  Ask the version service whether a newer release exists:

    updatecheck check --current-version 1.2.0 --platform android

  Settings are read from ~/.config/updatecheck/settings.json and
  settings.local.json. Command-line flags override them.
`

const environmentHelp = `
Environment Variables:
  UPDATECHECK_CONFIG_DIR         Use a different configuration directory.
  UPDATECHECK_LOG_LEVEL          Log verbosity (debug, info, warn, error).
  UPDATECHECK_TELEMETRY_OPTOUT   Set to any value to disable telemetry.
  UPDATECHECK_<SETTING>          Override a setting, e.g. UPDATECHECK_API_URL.
`

// Version information (can be set at build time)
var (
	Version = "dev"
	Commit  = "unknown"
)

// invocation is the state shared by the subcommands of one run.
type invocation struct {
	verbose bool

	settings    *settings.Settings
	settingsErr error
	telemetry   telemetry.Client
}

// Settings returns the loaded settings or the error loading them.
func (inv *invocation) Settings() (*settings.Settings, error) {
	if inv.settingsErr != nil {
		return nil, fmt.Errorf("loading settings: %w", inv.settingsErr)
	}
	return inv.settings, nil
}

func (inv *invocation) load(cmd *cobra.Command) {
	inv.settings, inv.settingsErr = settings.Load()

	logging.SetLogLevelGetter(func() string {
		if inv.settings == nil {
			return ""
		}
		return inv.settings.LogLevel
	})
	if inv.verbose {
		logging.InitWriter(cmd.ErrOrStderr())
	} else {
		// Init falls back to stderr when the log file cannot be opened.
		_ = logging.Init()
	}

	var telemetryEnabled *bool
	if inv.settings != nil {
		telemetryEnabled = inv.settings.Telemetry
	}
	inv.telemetry = telemetry.NewClient(Version, telemetryEnabled)
}

// finish tracks the command and flushes logs and telemetry.
func (inv *invocation) finish(cmd *cobra.Command) {
	if inv.telemetry != nil {
		inv.telemetry.TrackCommand(cmd)
		inv.telemetry.Close()
	}
	logging.Close()
}

// wrap runs run between load and finish. cobra skips post-run hooks when
// RunE fails, so finish is deferred here instead.
func (inv *invocation) wrap(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		inv.load(cmd)
		defer inv.finish(cmd)
		return run(cmd, args)
	}
}

// wrapAll applies wrap to every runnable command below and including cmd.
func (inv *invocation) wrapAll(cmd *cobra.Command) {
	for _, sub := range cmd.Commands() {
		inv.wrapAll(sub)
	}
	if cmd.RunE != nil {
		cmd.RunE = inv.wrap(cmd.RunE)
	}
}

func NewRootCmd() *cobra.Command {
	inv := &invocation{}

	cmd := &cobra.Command{
		Use:   "updatecheck",
		Short: "App version checks",
		Long:  "Check whether a newer app release is available, or serve release data to clients." + gettingStarted + environmentHelp,
		// Let main.go handle error printing to avoid duplication
		SilenceErrors: true,
		SilenceUsage:  true,
		// Hide completion command from help but keep it functional
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVarP(&inv.verbose, "verbose", "v", false, "Log to stderr instead of the log file")

	cmd.AddCommand(newCheckCmd(inv))
	cmd.AddCommand(newCompareCmd())
	cmd.AddCommand(newCacheCmd(inv))
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	inv.wrapAll(cmd)

	cmd.SetHelpCommand(newHelpCmd(cmd))

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "updatecheck %s (%s)\n", Version, Commit)
			fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
