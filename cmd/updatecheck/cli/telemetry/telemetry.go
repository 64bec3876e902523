// Package telemetry sends anonymous, opt-in usage events to PostHog.
package telemetry

import (
	"context"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncheck"
	"github.com/posthog/posthog-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// PostHogAPIKey is set at build time for production
	PostHogAPIKey = "phc_development_key"
	// PostHogEndpoint is set at build time for production
	PostHogEndpoint = "https://eu.i.posthog.com"
)

// OptOutEnvVar disables telemetry regardless of settings when set to any value.
const OptOutEnvVar = "UPDATECHECK_TELEMETRY_OPTOUT"

// Event names.
const (
	EventCommandExecuted = "cli_command_executed"
	EventCheckCompleted  = "update_check_completed"
)

// appID scopes the protected machine id to this tool.
const appID = "updatecheck"

// Client defines the telemetry interface
type Client interface {
	TrackCommand(cmd *cobra.Command)
	TrackCheck(req versioncheck.Request, res versioncheck.Result)
	Close()
}

// NoOpClient is a no-op implementation for when telemetry is disabled
type NoOpClient struct{}

func (n *NoOpClient) TrackCommand(_ *cobra.Command)                            {}
func (n *NoOpClient) TrackCheck(_ versioncheck.Request, _ versioncheck.Result) {}
func (n *NoOpClient) Close()                                                   {}

// silentLogger suppresses PostHog log output - expected for CLI best-effort telemetry
type silentLogger struct{}

func (silentLogger) Logf(_ string, _ ...interface{})   {}
func (silentLogger) Debugf(_ string, _ ...interface{}) {}
func (silentLogger) Warnf(_ string, _ ...interface{})  {}
func (silentLogger) Errorf(_ string, _ ...interface{}) {}

// PostHogClient is the real telemetry client
type PostHogClient struct {
	client    posthog.Client
	machineID string
	mu        sync.RWMutex
}

// NewClient creates a telemetry client. telemetryEnabled comes from
// settings; nil means never configured, which counts as disabled.
//
//nolint:ireturn // Factory function - returns NoOpClient or PostHogClient based on settings
func NewClient(version string, telemetryEnabled *bool) Client {
	// Environment variable takes priority
	if os.Getenv(OptOutEnvVar) != "" {
		return &NoOpClient{}
	}
	if telemetryEnabled == nil || !*telemetryEnabled {
		return &NoOpClient{}
	}

	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return &NoOpClient{}
	}

	// Fast timeouts: telemetry must never hold up the CLI.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 100 * time.Millisecond,
		}).DialContext,
		TLSHandshakeTimeout:   100 * time.Millisecond,
		ResponseHeaderTimeout: 100 * time.Millisecond,
	}

	client, err := posthog.NewWithConfig(PostHogAPIKey, posthog.Config{
		Endpoint:           PostHogEndpoint,
		ShutdownTimeout:    100 * time.Millisecond,
		BatchUploadTimeout: 200 * time.Millisecond,
		Transport:          transport,
		Logger:             silentLogger{},
		DisableGeoIP:       posthog.Ptr(true),
		DefaultEventProperties: posthog.NewProperties().
			Set("cli_version", version).
			Set("os", runtime.GOOS).
			Set("arch", runtime.GOARCH),
	})
	if err != nil {
		return &NoOpClient{}
	}

	return newPostHogClient(client, id)
}

func newPostHogClient(client posthog.Client, machineID string) *PostHogClient {
	return &PostHogClient{client: client, machineID: machineID}
}

// TrackCommand records the command execution
func (p *PostHogClient) TrackCommand(cmd *cobra.Command) {
	if cmd == nil || cmd.Hidden {
		return
	}
	switch cmd.Name() {
	case "help", "completion":
		return
	}

	// Collect flag names (not values) for privacy
	var flags []string
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		flags = append(flags, flag.Name)
	})

	props := posthog.NewProperties().Set("command", cmd.CommandPath())
	if len(flags) > 0 {
		props.Set("flags", strings.Join(flags, ","))
	}
	p.enqueue(EventCommandExecuted, props)
}

// TrackCheck records the outcome of a version check. Versions are not sent.
func (p *PostHogClient) TrackCheck(req versioncheck.Request, res versioncheck.Result) {
	props := posthog.NewProperties().
		Set("platform", string(req.Platform)).
		Set("source", string(res.Source)).
		Set("success", res.Success).
		Set("update_available", res.UpdateAvailable).
		Set("force_update", res.ForceUpdate)
	p.enqueue(EventCheckCompleted, props)
}

func (p *PostHogClient) enqueue(event string, props posthog.Properties) {
	p.mu.RLock()
	id := p.machineID
	c := p.client
	p.mu.RUnlock()

	if c == nil {
		return
	}

	//nolint:errcheck // Best-effort telemetry, failures should not affect CLI
	_ = c.Enqueue(posthog.Capture{
		DistinctId: id,
		Event:      event,
		Properties: props,
	})
}

// Close flushes pending events
func (p *PostHogClient) Close() {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()

	if c != nil {
		_ = c.Close()
	}
}

// Observer reports every completed check of a versioncheck.Checker to c.
func Observer(c Client) versioncheck.Observer {
	return checkObserver{client: c}
}

type checkObserver struct {
	client Client
}

func (o checkObserver) ObserveCheck(_ context.Context, req versioncheck.Request, res versioncheck.Result, _ time.Duration) {
	o.client.TrackCheck(req, res)
}

func (o checkObserver) ObserveCacheError(context.Context, string, error) {}
