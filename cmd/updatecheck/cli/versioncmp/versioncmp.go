// Package versioncmp parses and orders dotted version strings such as
// "1.2", "1.2.10" or "2.0.0-beta+build.7".
//
// The grammar is deliberately looser than strict semver: any number of
// numeric components is accepted, leading zeros are allowed ("01" == 1) and
// missing trailing components compare as zero ("1.2" == "1.2.0").
package versioncmp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion is returned when a string does not parse as a version.
var ErrInvalidVersion = errors.New("invalid version")

// Version is a parsed version string.
type Version struct {
	core       []uint64
	prerelease string
	build      string
	raw        string
}

// Parse parses s into a Version.
//
// s is one or more dot-separated numeric components, optionally followed by
// a pre-release suffix introduced by "-" and/or build metadata introduced by
// "+". Empty components and non-digit characters in the numeric part are
// rejected.
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrInvalidVersion)
	}

	numeric, suffix := s, ""
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		numeric, suffix = s[:i], s[i:]
	}

	core, err := parseCore(numeric)
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: %w", ErrInvalidVersion, s, err)
	}

	v := Version{core: core, raw: s}
	if suffix == "" {
		return v, nil
	}

	if strings.HasPrefix(suffix, "-") {
		pre := suffix[1:]
		if i := strings.IndexByte(pre, '+'); i >= 0 {
			pre, suffix = pre[:i], pre[i:]
		} else {
			suffix = ""
		}
		if err := checkSuffix(pre); err != nil {
			return Version{}, fmt.Errorf("%w %q: pre-release: %w", ErrInvalidVersion, s, err)
		}
		v.prerelease = pre
	}
	if suffix != "" {
		build := suffix[1:]
		if err := checkSuffix(build); err != nil {
			return Version{}, fmt.Errorf("%w %q: build metadata: %w", ErrInvalidVersion, s, err)
		}
		v.build = build
	}

	return v, nil
}

func parseCore(s string) ([]uint64, error) {
	segments := strings.Split(s, ".")
	core := make([]uint64, 0, len(segments))
	for i, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("empty component at position %d", i)
		}
		for _, ch := range seg {
			if ch < '0' || ch > '9' {
				return nil, fmt.Errorf("non-numeric component %q", seg)
			}
		}
		n, err := strconv.ParseUint(seg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("component %q out of range", seg)
		}
		core = append(core, n)
	}
	return core, nil
}

// checkSuffix accepts identifiers made of [0-9A-Za-z-] separated by dots.
func checkSuffix(s string) error {
	if s == "" {
		return errors.New("empty suffix")
	}
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9', ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch == '-', ch == '.':
		default:
			return fmt.Errorf("unexpected character %q", ch)
		}
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
		return errors.New("empty identifier")
	}
	return nil
}

// String returns the string the version was parsed from.
func (v Version) String() string {
	return v.raw
}

// Core returns a copy of the numeric components.
func (v Version) Core() []uint64 {
	out := make([]uint64, len(v.core))
	copy(out, v.core)
	return out
}

// Prerelease returns the pre-release suffix without its "-" delimiter.
func (v Version) Prerelease() string {
	return v.prerelease
}

// Build returns the build metadata without its "+" delimiter.
func (v Version) Build() string {
	return v.build
}

// Compare returns -1, 0 or 1 when v is lower than, equal to or higher than
// other.
//
// Numeric components are compared left to right, missing components count as
// zero. On a numeric tie a version without a pre-release suffix ranks above
// one with a suffix and two suffixes compare lexicographically. Build
// metadata only breaks remaining ties, so that 0 means the versions are
// identical up to leading zeros and trailing zero components.
func (v Version) Compare(other Version) int {
	n := max(len(v.core), len(other.core))
	for i := range n {
		if c := compareUint(component(v.core, i), component(other.core, i)); c != 0 {
			return c
		}
	}
	if c := comparePrerelease(v.prerelease, other.prerelease); c != 0 {
		return c
	}
	return strings.Compare(v.build, other.build)
}

// LessThan reports whether v < other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// Equal reports whether v == other under Compare.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

func component(core []uint64, i int) uint64 {
	if i < len(core) {
		return core[i]
	}
	return 0
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func comparePrerelease(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	default:
		return strings.Compare(a, b)
	}
}

// Compare parses v1 and v2 and orders them. When either string is invalid
// the result is 0 and the error wraps ErrInvalidVersion; callers must not
// read the int in that case.
func Compare(v1, v2 string) (int, error) {
	a, err := Parse(v1)
	if err != nil {
		return 0, err
	}
	b, err := Parse(v2)
	if err != nil {
		return 0, err
	}
	return a.Compare(b), nil
}

// IsValidVersion reports whether v parses.
func IsValidVersion(v string) bool {
	_, err := Parse(v)
	return err == nil
}

// IsUpdateAvailable reports whether latest is a valid version strictly newer
// than current. Any parse failure yields false.
func IsUpdateAvailable(current, latest string) bool {
	if latest == "" {
		return false
	}
	c, err := Compare(current, latest)
	if err != nil {
		return false
	}
	return c < 0
}
