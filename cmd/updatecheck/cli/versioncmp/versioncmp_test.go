package versioncmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/mod/semver"
)

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v1   string
		v2   string
		want int
		desc string
	}{
		{"1.0.0", "1.0.0", 0, "identical"},
		{"1.2", "1.2.0", 0, "missing component is zero"},
		{"1.2.0.0", "1.2", 0, "trailing zeros on the left"},
		{"1.2.3", "1.2.10", -1, "numeric not lexicographic"},
		{"1.10.0", "1.9.9", 1, "minor dominates patch"},
		{"2.0.0", "1.99.99", 1, "major dominates"},
		{"01.2.3", "1.2.3", 0, "leading zero"},
		{"1.0.0.1", "1.0.0", 1, "fourth component"},
		{"1.0.0-beta", "1.0.0", -1, "pre-release before release"},
		{"1.0.0", "1.0.0-rc1", 1, "release after pre-release"},
		{"1.0.0-alpha", "1.0.0-beta", -1, "lexicographic suffix tie-break"},
		{"1.0.1-alpha", "1.0.0", 1, "numeric beats suffix"},
		{"1.0.0-beta.2", "1.0.0-beta.10", 1, "suffixes are plain strings"},
		{"1.0.0+build.1", "1.0.0+build.1", 0, "identical build metadata"},
		{"1.0.0", "1.0.0+build.1", -1, "build metadata only breaks ties"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			t.Parallel()
			got, err := Compare(tt.v1, tt.v2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "Compare(%q, %q)", tt.v1, tt.v2)
		})
	}
}

func TestCompare_InvalidFailsClosed(t *testing.T) {
	t.Parallel()

	for _, pair := range [][2]string{
		{"", "1.0.0"},
		{"1.0.0", ""},
		{"1.0.a", "1.0.0"},
		{"1.0.0", "v1.0.0"},
		{"1..0", "1.0"},
	} {
		_, err := Compare(pair[0], pair[1])
		require.ErrorIs(t, err, ErrInvalidVersion, "Compare(%q, %q)", pair[0], pair[1])
	}
}

func TestCompare_OrderingProperties(t *testing.T) {
	t.Parallel()

	versions := []string{
		"0.9", "1", "1.0.0-alpha", "1.0.0-beta", "1.0.0", "1.0.0+meta",
		"1.0.1", "1.2", "1.2.0.1", "1.2.10", "1.10.0", "2.0.0-rc.1", "2.0.0", "010.0",
	}

	for _, a := range versions {
		self, err := Compare(a, a)
		require.NoError(t, err)
		assert.Equal(t, 0, self, "reflexive for %q", a)

		for _, b := range versions {
			ab, err := Compare(a, b)
			require.NoError(t, err)
			ba, err := Compare(b, a)
			require.NoError(t, err)
			assert.Equal(t, ab, -ba, "antisymmetric for %q, %q", a, b)

			for _, c := range versions {
				bc, err := Compare(b, c)
				require.NoError(t, err)
				if ab < 0 && bc < 0 {
					ac, err := Compare(a, c)
					require.NoError(t, err)
					assert.Negative(t, ac, "transitive for %q < %q < %q", a, b, c)
				}
			}
		}
	}
}

// Strict three-component semver without suffixes must order exactly the way
// golang.org/x/mod/semver orders it.
func TestCompare_AgreesWithSemverOnStrictInput(t *testing.T) {
	t.Parallel()

	versions := []string{"0.0.1", "0.1.0", "1.0.0", "1.0.9", "1.0.10", "1.9.0", "1.10.0", "2.0.0", "10.0.0"}
	for _, a := range versions {
		for _, b := range versions {
			got, err := Compare(a, b)
			require.NoError(t, err)
			assert.Equal(t, semver.Compare("v"+a, "v"+b), got, "Compare(%q, %q)", a, b)
		}
	}
}

func TestIsValidVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"1.0.0", true},
		{"1", true},
		{"1.2.3.4.5", true},
		{"007.1", true},
		{"1.0.a", false},
		{"1.0.", false},
		{".1.0", false},
		{"1..0", false},
		{"v1.0.0", false},
		{"1.0.0-beta", true},
		{"1.0.0-beta.1", true},
		{"1.0.0+20240101", true},
		{"1.0.0-rc.1+build.5", true},
		{"1.0.0-", false},
		{"1.0.0+", false},
		{"1.0.0-beta..1", false},
		{"1.0.0-be ta", false},
		{"1.0.0beta", false},
		{"99999999999999999999.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsValidVersion(tt.in))
		})
	}
}

func TestIsUpdateAvailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current string
		latest  string
		want    bool
		desc    string
	}{
		{"1.0.0", "1.1.0", true, "minor bump"},
		{"1.0.0", "1.0.1", true, "patch bump"},
		{"2.0.0", "1.9.9", false, "current is newer"},
		{"1.0.0", "1.0.0", false, "same version"},
		{"1.0.0", "", false, "no latest version"},
		{"1.0.0-beta", "1.0.0", true, "release after beta"},
		{"1.0", "1.0.0", false, "equal with padding"},
		{"bogus", "2.0.0", false, "invalid current"},
		{"1.0.0", "latest", false, "invalid latest"},
		{"1.0.0", "1.0.0+build.5", true, "build metadata only"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsUpdateAvailable(tt.current, tt.latest))
		})
	}
}

func TestParse_Accessors(t *testing.T) {
	t.Parallel()

	v, err := Parse("1.02.3-rc.1+sha.abc")
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 2, 3}, v.Core())
	assert.Equal(t, "rc.1", v.Prerelease())
	assert.Equal(t, "sha.abc", v.Build())
	assert.Equal(t, "1.02.3-rc.1+sha.abc", v.String())

	core := v.Core()
	core[0] = 9
	assert.Equal(t, uint64(1), v.Core()[0], "Core must return a copy")
}

func TestCompare_BuildMetadataBreaksTies(t *testing.T) {
	t.Parallel()

	got, err := Compare("1.0.0", "1.0.0+build.5")
	require.NoError(t, err)
	assert.Equal(t, -1, got)

	got, err = Compare("1.0.0+b", "1.0.0+a")
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = Compare("1.0.0-rc.1+z", "1.0.0+a")
	require.NoError(t, err)
	assert.Equal(t, -1, got, "pre-release outranks build metadata")

	assert.True(t, IsUpdateAvailable("1.0.0", "1.0.0+build.5"))
	assert.False(t, IsUpdateAvailable("1.0.0+build.5", "1.0.0"))
}
