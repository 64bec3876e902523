package versioncheck

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Platform identifies the app store platform a version check is for.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ErrUnknownPlatform is returned by ParsePlatform.
var ErrUnknownPlatform = errors.New("unknown platform")

// ParsePlatform accepts "ios" or "android" in any case.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformIOS, PlatformAndroid:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
	}
}

// DefaultNamespace prefixes every cache key written by a Checker.
const DefaultNamespace = "version_check"

// Request is the body sent to the version service and the cache key material.
type Request struct {
	CurrentVersion string   `json:"current_version"`
	Platform       Platform `json:"platform"`
	BuildNumber    string   `json:"build_number,omitempty"`
	Locale         string   `json:"locale,omitempty"`
}

// CacheKey derives the cache key for r under namespace ns. Each field is
// query-escaped so a ':' inside a value cannot make two requests collide.
func (r Request) CacheKey(ns string) string {
	return strings.Join([]string{
		ns,
		url.QueryEscape(string(r.Platform)),
		url.QueryEscape(r.CurrentVersion),
		url.QueryEscape(r.BuildNumber),
		url.QueryEscape(r.Locale),
	}, ":")
}

// ReleaseNotes holds either a single text or a per-locale mapping, matching
// the two shapes the service may send.
type ReleaseNotes struct {
	Text     string
	ByLocale map[string]string
}

// TextNotes returns plain release notes.
func TextNotes(s string) *ReleaseNotes {
	return &ReleaseNotes{Text: s}
}

// LocalizedNotes returns per-locale release notes.
func LocalizedNotes(m map[string]string) *ReleaseNotes {
	return &ReleaseNotes{ByLocale: maps.Clone(m)}
}

// IsLocalized reports whether the notes are a locale map.
func (n *ReleaseNotes) IsLocalized() bool {
	return n != nil && n.ByLocale != nil
}

// For picks the notes for locale. Localized notes fall back from "pt-BR" to
// "pt", then to "en", then to the alphabetically first locale.
func (n *ReleaseNotes) For(locale string) string {
	if n == nil {
		return ""
	}
	if !n.IsLocalized() {
		return n.Text
	}
	candidates := []string{locale}
	if base, _, ok := strings.Cut(locale, "-"); ok {
		candidates = append(candidates, base)
	}
	if base, _, ok := strings.Cut(locale, "_"); ok {
		candidates = append(candidates, base)
	}
	candidates = append(candidates, "en")
	for _, c := range candidates {
		if s, ok := n.ByLocale[c]; ok && c != "" {
			return s
		}
	}
	keys := slices.Sorted(maps.Keys(n.ByLocale))
	if len(keys) == 0 {
		return ""
	}
	return n.ByLocale[keys[0]]
}

func (n ReleaseNotes) MarshalJSON() ([]byte, error) {
	if n.ByLocale != nil {
		return json.Marshal(n.ByLocale)
	}
	return json.Marshal(n.Text)
}

func (n *ReleaseNotes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("release_notes: empty value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("release_notes: %w", err)
		}
		*n = ReleaseNotes{Text: s}
		return nil
	case '{':
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("release_notes: %w", err)
		}
		*n = ReleaseNotes{ByLocale: m}
		return nil
	default:
		return fmt.Errorf("release_notes: expected string or object, got %s", data)
	}
}

// Source records where a Result came from. It is not part of the wire format.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceStaleCache  Source = "stale_cache"
	SourceSynthesized Source = "synthesized"
)

// Result is the outcome of a version check.
//
// When Success is false, UpdateAvailable and ForceUpdate are false and Error
// is non-empty.
type Result struct {
	Success         bool          `json:"success"`
	CurrentVersion  string        `json:"current_version"`
	Platform        string        `json:"platform"`
	UpdateAvailable bool          `json:"update_available"`
	ForceUpdate     bool          `json:"force_update"`
	LatestVersion   string        `json:"latest_version,omitempty"`
	DownloadURL     string        `json:"download_url,omitempty"`
	ReleaseNotes    *ReleaseNotes `json:"release_notes,omitempty"`
	Message         string        `json:"message,omitempty"`
	Error           string        `json:"error,omitempty"`
	CheckedAt       *time.Time    `json:"checked_at,omitempty"`

	Source Source `json:"-"`
}

// Failure builds a failed result for req.
func Failure(req Request, msg string) Result {
	return Result{
		Success:        false,
		CurrentVersion: req.CurrentVersion,
		Platform:       string(req.Platform),
		Error:          msg,
	}
}

// genericFailureMessage fills the error of a failure that carries no text.
const genericFailureMessage = "version check failed"

// normalize makes a result from an untrusted source well formed.
func (r Result) normalize(req Request, now time.Time) Result {
	if r.CurrentVersion == "" {
		r.CurrentVersion = req.CurrentVersion
	}
	if r.Platform == "" {
		r.Platform = string(req.Platform)
	}
	if !r.Success {
		r.UpdateAvailable = false
		r.ForceUpdate = false
		if strings.TrimSpace(r.Error) == "" {
			r.Error = r.Message
		}
		if strings.TrimSpace(r.Error) == "" {
			r.Error = genericFailureMessage
		}
	}
	if r.CheckedAt == nil {
		t := now.UTC()
		r.CheckedAt = &t
	}
	return r
}

// Config is the immutable configuration of a Checker.
type Config struct {
	// APIURL is the endpoint HTTPFetcher POSTs requests to.
	APIURL string
	// Timeout bounds a single fetch.
	Timeout time.Duration
	// EnableCaching turns on both the fresh lookup and the stale fallback.
	EnableCaching bool
	// CacheDuration is the fresh-lookup age ceiling. Zero or negative means
	// entries are never fresh but still serve as stale fallback.
	CacheDuration time.Duration
	UserAgent     string
	// Headers are added to every outbound request.
	Headers map[string]string
	// Namespace prefixes cache keys; ClearCache removes only this namespace.
	Namespace string
}

// DefaultConfig returns a new Config with the stock values.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		EnableCaching: true,
		CacheDuration: 60 * time.Minute,
		Namespace:     DefaultNamespace,
	}
}
