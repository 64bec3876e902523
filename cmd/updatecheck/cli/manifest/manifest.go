// Package manifest describes the latest release per platform and answers
// version checks from it. A manifest backs both the offline fetcher and the
// version service.
//
// Example (YAML; JSON with the same keys also works):
//
//	platforms:
//	  android:
//	    latest_version: 1.4.0
//	    latest_build_number: "140"
//	    min_supported_version: 1.2.0
//	    download_url: https://play.google.com/store/apps/details?id=com.example
//	    release_notes:
//	      en: Faster sync
//	      de: Schnellere Synchronisierung
//	  ios:
//	    latest_version: 1.4.0
//	    release_notes: Faster sync
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncheck"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncmp"
	"gopkg.in/yaml.v3"
)

// Failure messages returned to clients.
const (
	ErrMsgInvalidPlatform = "Invalid platform"
	ErrMsgInvalidVersion  = "Invalid version"
)

// ErrInvalidManifest wraps every validation failure.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest maps each platform to its current release.
type Manifest struct {
	Platforms map[versioncheck.Platform]Release `yaml:"platforms" json:"platforms"`
}

// Release is the latest published release on one platform.
type Release struct {
	LatestVersion       string `yaml:"latest_version" json:"latest_version"`
	LatestBuildNumber   string `yaml:"latest_build_number,omitempty" json:"latest_build_number,omitempty"`
	MinSupportedVersion string `yaml:"min_supported_version,omitempty" json:"min_supported_version,omitempty"`
	// ForceUpdate marks the latest release as mandatory for anyone behind it.
	ForceUpdate  bool   `yaml:"force_update,omitempty" json:"force_update,omitempty"`
	DownloadURL  string `yaml:"download_url,omitempty" json:"download_url,omitempty"`
	ReleaseNotes Notes  `yaml:"release_notes,omitempty" json:"release_notes,omitempty"`
	Message      string `yaml:"message,omitempty" json:"message,omitempty"`
}

// Notes is release notes as written in a manifest: a scalar or a locale map.
type Notes struct {
	Text     string
	ByLocale map[string]string
}

// IsZero lets omitempty drop empty notes.
func (n Notes) IsZero() bool {
	return n.Text == "" && n.ByLocale == nil
}

func (n *Notes) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*n = Notes{}
			return nil
		}
		*n = Notes{Text: value.Value}
		return nil
	case yaml.MappingNode:
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return fmt.Errorf("release_notes: %w", err)
		}
		*n = Notes{ByLocale: m}
		return nil
	default:
		return fmt.Errorf("release_notes: line %d: expected text or locale map", value.Line)
	}
}

func (n Notes) MarshalYAML() (any, error) {
	if n.ByLocale != nil {
		return n.ByLocale, nil
	}
	return n.Text, nil
}

// Wire converts the notes to their wire form; empty notes are nil.
func (n Notes) Wire() *versioncheck.ReleaseNotes {
	switch {
	case n.ByLocale != nil:
		return versioncheck.LocalizedNotes(n.ByLocale)
	case n.Text != "":
		return versioncheck.TextNotes(n.Text)
	default:
		return nil
	}
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied manifest path
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a YAML or JSON manifest and validates it.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks platform names, version strings and build numbers.
func (m *Manifest) Validate() error {
	if len(m.Platforms) == 0 {
		return fmt.Errorf("%w: no platforms", ErrInvalidManifest)
	}
	for p, rel := range m.Platforms {
		parsed, err := versioncheck.ParsePlatform(string(p))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
		if parsed != p {
			return fmt.Errorf("%w: platform key %q must be lowercase", ErrInvalidManifest, p)
		}
		if !versioncmp.IsValidVersion(rel.LatestVersion) {
			return fmt.Errorf("%w: %s: latest_version %q is not a valid version", ErrInvalidManifest, p, rel.LatestVersion)
		}
		if rel.MinSupportedVersion != "" && !versioncmp.IsValidVersion(rel.MinSupportedVersion) {
			return fmt.Errorf("%w: %s: min_supported_version %q is not a valid version", ErrInvalidManifest, p, rel.MinSupportedVersion)
		}
		if rel.LatestBuildNumber != "" {
			if _, err := strconv.ParseUint(rel.LatestBuildNumber, 10, 64); err != nil {
				return fmt.Errorf("%w: %s: latest_build_number %q is not a number", ErrInvalidManifest, p, rel.LatestBuildNumber)
			}
		}
	}
	return nil
}

// Evaluate answers req from the manifest. The result is always well formed;
// an unknown platform or unparsable version gives Success false.
func (m *Manifest) Evaluate(req versioncheck.Request, now time.Time) versioncheck.Result {
	checkedAt := now.UTC()

	rel, ok := m.Platforms[req.Platform]
	if !ok {
		res := versioncheck.Failure(req, ErrMsgInvalidPlatform)
		res.CheckedAt = &checkedAt
		return res
	}
	current, err := versioncmp.Parse(req.CurrentVersion)
	if err != nil {
		res := versioncheck.Failure(req, ErrMsgInvalidVersion)
		res.CheckedAt = &checkedAt
		return res
	}
	// Validate guarantees these parse for loaded manifests.
	latest, err := versioncmp.Parse(rel.LatestVersion)
	if err != nil {
		res := versioncheck.Failure(req, fmt.Sprintf("manifest: %v", err))
		res.CheckedAt = &checkedAt
		return res
	}

	cmp := current.Compare(latest)
	update := cmp < 0 || (cmp == 0 && buildBehind(req.BuildNumber, rel.LatestBuildNumber))

	force := false
	if update {
		force = rel.ForceUpdate
		if rel.MinSupportedVersion != "" {
			if minVer, err := versioncmp.Parse(rel.MinSupportedVersion); err == nil && current.LessThan(minVer) {
				force = true
			}
		}
	}

	return versioncheck.Result{
		Success:         true,
		CurrentVersion:  req.CurrentVersion,
		Platform:        string(req.Platform),
		UpdateAvailable: update,
		ForceUpdate:     force,
		LatestVersion:   rel.LatestVersion,
		DownloadURL:     rel.DownloadURL,
		ReleaseNotes:    rel.ReleaseNotes.Wire(),
		Message:         rel.Message,
		CheckedAt:       &checkedAt,
	}
}

// Latest returns the release for platform.
func (m *Manifest) Latest(p versioncheck.Platform) (Release, bool) {
	rel, ok := m.Platforms[p]
	return rel, ok
}

// buildBehind reports whether build is a number lower than latest. Missing
// or non-numeric build numbers never signal an update.
func buildBehind(build, latest string) bool {
	if build == "" || latest == "" {
		return false
	}
	b, err := strconv.ParseUint(build, 10, 64)
	if err != nil {
		return false
	}
	l, err := strconv.ParseUint(latest, 10, 64)
	if err != nil {
		return false
	}
	return b < l
}
