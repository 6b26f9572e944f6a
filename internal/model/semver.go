package model

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// AppVersion is the numeric core of a semantic version. Pre-release and build
// suffixes are accepted on input but do not take part in ordering.
type AppVersion struct {
	Major, Minor, Patch uint64
}

// String formats the version as major.minor.patch.
func (v AppVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 as v is lower than, equal to, or higher than o.
func (v AppVersion) Compare(o AppVersion) int {
	switch {
	case v.Major != o.Major:
		return cmpUint(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpUint(v.Minor, o.Minor)
	default:
		return cmpUint(v.Patch, o.Patch)
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ParseRuleVersion parses a rule bound. Bounds must be full
// major.minor.patch[-pre][+build] strings.
func ParseRuleVersion(s string) (AppVersion, error) {
	v, err := semver.StrictNewVersion(strings.TrimSpace(s))
	if err != nil {
		return AppVersion{}, fmt.Errorf("must be a semantic version (major.minor.patch[-pre][+build]): %w", err)
	}
	return AppVersion{Major: v.Major(), Minor: v.Minor(), Patch: v.Patch()}, nil
}

// ParseClientVersion parses the app version reported by a game client.
// Clients are allowed the looser forms semver accepts ("2.1", "v2.1.0").
func ParseClientVersion(s string) (AppVersion, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AppVersion{}, fmt.Errorf("empty version")
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return AppVersion{}, err
	}
	return AppVersion{Major: v.Major(), Minor: v.Minor(), Patch: v.Patch()}, nil
}
