package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFixedVersion(t *testing.T) {
	tests := []struct {
		name       string
		ecosystem  string
		version    string
		major      *int
		minor      *int
		patch      *int
		prerelease string
		valid      bool
	}{
		{name: "npm semver", ecosystem: "npm", version: "4.18.0", major: intPtr(4), minor: intPtr(18), patch: intPtr(0), valid: true},
		{name: "leading v", ecosystem: "golang", version: "v1.21.3", major: intPtr(1), minor: intPtr(21), patch: intPtr(3), valid: true},
		{name: "prerelease", ecosystem: "maven", version: "2.0.0-beta.1", major: intPtr(2), minor: intPtr(0), patch: intPtr(0), prerelease: "beta.1", valid: true},
		{name: "two components", ecosystem: "maven", version: "1.2", major: intPtr(1), minor: intPtr(2), patch: intPtr(0), valid: true},
		{name: "pep440 release candidate", ecosystem: "PyPI", version: "2.0.0rc1", major: intPtr(2), minor: intPtr(0), valid: true},
		{name: "kb article", ecosystem: "microsoft", version: "KB5034441"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFixedVersion(tt.ecosystem, tt.version)
			assert.Equal(t, tt.major, got.Major, "major")
			assert.Equal(t, tt.minor, got.Minor, "minor")
			assert.Equal(t, tt.patch, got.Patch, "patch")
			assert.Equal(t, tt.prerelease, got.Prerelease)
			assert.Equal(t, tt.valid, got.Valid)
		})
	}
}

func TestParseFixedVersion_Unknown(t *testing.T) {
	for _, v := range []string{"", "  ", "unknown", "UNKNOWN"} {
		got := ParseFixedVersion("npm", v)
		require.Nil(t, got.Major)
		assert.False(t, got.Valid)
	}
}

func intPtr(n int) *int {
	return &n
}
