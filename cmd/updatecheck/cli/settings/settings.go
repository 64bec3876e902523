// Package settings loads updatecheck configuration from the config directory.
//
// Precedence, lowest first: defaults, settings.json, settings.local.json,
// UPDATECHECK_* environment variables. Command-line flags are applied on top
// by the cli package.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/paths"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (UPDATECHECK_API_URL, ...).
const EnvPrefix = "UPDATECHECK"

// Setting keys as they appear in settings.json.
const (
	KeyAPIURL               = "api_url"
	KeyTimeout              = "timeout"
	KeyEnableCaching        = "enable_caching"
	KeyCacheDurationMinutes = "cache_duration_minutes"
	KeyCacheBackend         = "cache_backend"
	KeyCachePath            = "cache_path"
	KeyRedisAddr            = "redis_addr"
	KeyUserAgent            = "user_agent"
	KeyHeaders              = "headers"
	KeyLogLevel             = "log_level"
	KeyTelemetry            = "telemetry"
)

// Defaults.
const (
	DefaultAPIURL               = "http://localhost:8080/api/version/check"
	DefaultTimeout              = 10 * time.Second
	DefaultCacheDurationMinutes = 60
	DefaultCacheBackend         = "file"
)

// Settings is the resolved configuration.
type Settings struct {
	APIURL  string
	Timeout time.Duration

	EnableCaching        bool
	CacheDurationMinutes int
	// CacheBackend is one of file, sqlite, redis, memory.
	CacheBackend string
	// CachePath overrides the default cache file or database location.
	CachePath string
	RedisAddr string

	UserAgent string
	Headers   map[string]string

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// UPDATECHECK_LOG_LEVEL takes precedence.
	LogLevel string

	// Telemetry controls anonymous usage analytics.
	// nil = never configured, true = opted in, false = opted out
	Telemetry *bool
}

// CacheDuration returns the fresh-lookup age ceiling.
func (s *Settings) CacheDuration() time.Duration {
	return time.Duration(s.CacheDurationMinutes) * time.Minute
}

// Load reads settings.json and applies settings.local.json overrides from
// the config directory. Missing files yield defaults.
func Load() (*Settings, error) {
	base, err := paths.InConfigDir(paths.SettingsFileName)
	if err != nil {
		return nil, fmt.Errorf("resolving settings path: %w", err)
	}
	local, err := paths.InConfigDir(paths.SettingsLocalFileName)
	if err != nil {
		return nil, fmt.Errorf("resolving local settings path: %w", err)
	}
	return LoadFiles(base, local)
}

// LoadFiles is Load with explicit file paths. Later files override earlier ones.
func LoadFiles(files ...string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, f := range files {
		if err := mergeFile(v, f); err != nil {
			return nil, err
		}
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyAPIURL, DefaultAPIURL)
	v.SetDefault(KeyTimeout, DefaultTimeout.String())
	v.SetDefault(KeyEnableCaching, true)
	v.SetDefault(KeyCacheDurationMinutes, DefaultCacheDurationMinutes)
	v.SetDefault(KeyCacheBackend, DefaultCacheBackend)
	v.SetDefault(KeyCachePath, "")
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyUserAgent, "")
	v.SetDefault(KeyLogLevel, "")
}

func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the config dir
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func fromViper(v *viper.Viper) (*Settings, error) {
	timeout, err := parseTimeout(v.GetString(KeyTimeout))
	if err != nil {
		return nil, err
	}

	s := &Settings{
		APIURL:               strings.TrimSpace(v.GetString(KeyAPIURL)),
		Timeout:              timeout,
		EnableCaching:        v.GetBool(KeyEnableCaching),
		CacheDurationMinutes: v.GetInt(KeyCacheDurationMinutes),
		CacheBackend:         strings.ToLower(strings.TrimSpace(v.GetString(KeyCacheBackend))),
		CachePath:            v.GetString(KeyCachePath),
		RedisAddr:            v.GetString(KeyRedisAddr),
		UserAgent:            v.GetString(KeyUserAgent),
		Headers:              v.GetStringMapString(KeyHeaders),
		LogLevel:             v.GetString(KeyLogLevel),
	}
	if v.IsSet(KeyTelemetry) {
		t := v.GetBool(KeyTelemetry)
		s.Telemetry = &t
	}
	if s.CacheBackend == "" {
		s.CacheBackend = DefaultCacheBackend
	}
	if s.CacheDurationMinutes < 0 {
		return nil, fmt.Errorf("%s must not be negative, got %d", KeyCacheDurationMinutes, s.CacheDurationMinutes)
	}
	return s, nil
}

// parseTimeout accepts a Go duration ("10s", "1m30s") or a bare number of
// seconds.
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultTimeout, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("%s must be positive, got %q", KeyTimeout, raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", KeyTimeout, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", KeyTimeout, raw)
	}
	return d, nil
}
