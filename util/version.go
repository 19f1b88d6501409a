// Package util provides identity, version and package URL helpers for the patch graph.
//
//revive:disable-next-line:var-naming
package util

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	npm "github.com/aquasecurity/go-npm-version/pkg"
	pep440 "github.com/aquasecurity/go-pep440-version"
)

// FixedVersion holds the parsed components of a patch's fixed_version.
// Components are nil when they cannot be parsed. Valid reports whether the
// ecosystem's own version grammar accepts the string.
type FixedVersion struct {
	Major      *int
	Minor      *int
	Patch      *int
	Prerelease string
	Valid      bool
}

// ParseFixedVersion parses version using the grammar of the ecosystem the
// vendor names (npm, pypi, anything else as semver).
func ParseFixedVersion(ecosystem, version string) FixedVersion {
	version = strings.TrimSpace(version)
	if version == "" || strings.EqualFold(version, "unknown") {
		return FixedVersion{}
	}

	result := parseComponents(version)

	switch EcosystemToPurlType(ecosystem) {
	case "npm":
		_, err := npm.NewVersion(version)
		result.Valid = err == nil
	case "pypi":
		_, err := pep440.Parse(version)
		result.Valid = err == nil
	default:
		_, err := semver.NewVersion(version)
		result.Valid = err == nil
	}

	return result
}

// parseComponents extracts major/minor/patch, trying semver first and then a
// plain dotted split for versions like "1.2" or "2".
func parseComponents(version string) FixedVersion {
	clean := strings.TrimPrefix(strings.TrimPrefix(version, "v"), "go")

	if v, err := semver.NewVersion(clean); err == nil {
		major := int(v.Major())
		minor := int(v.Minor())
		patch := int(v.Patch())
		return FixedVersion{Major: &major, Minor: &minor, Patch: &patch, Prerelease: v.Prerelease()}
	}

	result := FixedVersion{}
	core, pre, _ := strings.Cut(clean, "-")
	result.Prerelease = pre

	parts := strings.Split(core, ".")
	targets := []**int{&result.Major, &result.Minor, &result.Patch}
	for i, target := range targets {
		if i >= len(parts) {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			break
		}
		*target = &n
	}
	return result
}
