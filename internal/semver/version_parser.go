// Package semver implements Composer-style version normalization, stability
// detection and constraint matching.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"composer-repos/internal/types"
)

// DefaultBranchAlias is the normalized version given to the default branch
// of a VCS repository.
const DefaultBranchAlias = "9999999-dev"

const modifierPattern = `[._-]?(?:(stable|beta|b|RC|alpha|a|patch|pl|p)((?:[.-]?\d+)*)?)?([.-]?dev)?`

var (
	classicalVersion = regexp.MustCompile(`(?i)^v?(\d{1,5})(\.\d+)?(\.\d+)?(\.\d+)?` + modifierPattern + `$`)
	dateVersion      = regexp.MustCompile(`(?i)^v?(\d{4}(?:[.:-]?\d{2}){1,6}(?:[.:-]?\d{1,3}){0,2})` + modifierPattern + `$`)
	stabilityFlag    = regexp.MustCompile(`(?i)@(?:stable|RC|beta|alpha|dev)$`)
	aliasSuffix      = regexp.MustCompile(`^([^,\s]+) +as +([^,\s]+)$`)
	buildMetadata    = regexp.MustCompile(`^([^,\s+]+)\+[^\s]+$`)
	devSuffix        = regexp.MustCompile(`(?i)^(.*?)[.-]?dev$`)
	branchVersion    = regexp.MustCompile(`(?i)^v?(\d+)(\.(?:\d+|[x*]))?(\.(?:\d+|[x*]))?(\.(?:\d+|[x*]))?$`)
	stabilitySuffix  = regexp.MustCompile(`(?i)` + modifierPattern + `$`)
	numericAlias     = regexp.MustCompile(`^((?:\d+\.)*\d+)(?:\.x)?-dev$`)
	commitReference  = regexp.MustCompile(`#.+$`)
	nonDigit         = regexp.MustCompile(`\D`)
)

// Normalize converts a pretty version into the canonical four-part form,
// for example "1.2" to "1.2.0.0" and "v2.0-beta1" to "2.0.0.0-beta1".
func Normalize(version string) (string, error) {
	original := version
	version = strings.TrimSpace(version)
	if version == "" {
		return "", invalidVersion(original, "empty version")
	}
	if m := aliasSuffix.FindStringSubmatch(version); m != nil {
		version = m[1]
	}
	version = stabilityFlag.ReplaceAllString(version, "")

	lower := strings.ToLower(version)
	switch lower {
	case "master", "trunk", "default":
		return "dev-" + version, nil
	}
	if strings.HasPrefix(lower, "dev-") {
		return "dev-" + version[4:], nil
	}
	if m := buildMetadata.FindStringSubmatch(version); m != nil {
		version = m[1]
	}

	if m := classicalVersion.FindStringSubmatch(version); m != nil {
		normalized := m[1]
		for _, part := range m[2:5] {
			if part == "" {
				part = ".0"
			}
			normalized += part
		}
		return appendModifier(normalized, m[5], m[6], m[7]), nil
	}
	if m := dateVersion.FindStringSubmatch(version); m != nil {
		normalized := nonDigit.ReplaceAllString(m[1], ".")
		return appendModifier(normalized, m[2], m[3], m[4]), nil
	}
	if m := devSuffix.FindStringSubmatch(version); m != nil {
		if branch, ok := normalizeNumericBranch(m[1]); ok {
			return branch, nil
		}
	}
	return "", invalidVersion(original, "invalid version string")
}

// MustNormalize panics on invalid input; it is meant for literals in tests
// and platform packages.
func MustNormalize(version string) string {
	normalized, err := Normalize(version)
	if err != nil {
		panic(err)
	}
	return normalized
}

func appendModifier(normalized string, stability string, number string, dev string) string {
	if stability != "" {
		if strings.EqualFold(stability, "stable") {
			return normalized
		}
		normalized += "-" + expandStability(stability)
		if number != "" {
			normalized += strings.TrimLeft(number, ".-")
		}
	}
	if dev != "" {
		normalized += "-dev"
	}
	return normalized
}

func expandStability(stability string) string {
	switch strings.ToLower(stability) {
	case "a":
		return "alpha"
	case "b":
		return "beta"
	case "p", "pl":
		return "patch"
	case "rc":
		return "RC"
	default:
		return strings.ToLower(stability)
	}
}

// NormalizeBranch normalizes a branch name. Numeric branches such as "1.x"
// become "1.9999999.9999999.9999999-dev"; anything else is prefixed with
// "dev-".
func NormalizeBranch(name string) string {
	name = strings.TrimSpace(name)
	if branch, ok := normalizeNumericBranch(name); ok {
		return branch
	}
	return "dev-" + name
}

func normalizeNumericBranch(name string) (string, bool) {
	m := branchVersion.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	version := m[1]
	for _, part := range m[2:5] {
		if part == "" {
			part = ".x"
		}
		version += part
	}
	replacer := strings.NewReplacer("x", "9999999", "X", "9999999", "*", "9999999")
	return replacer.Replace(version) + "-dev", true
}

// NormalizeDefaultBranch maps master-like branch versions to the default
// branch alias.
func NormalizeDefaultBranch(version string) string {
	switch version {
	case "dev-master", "dev-default", "dev-trunk":
		return DefaultBranchAlias
	}
	return version
}

// ParseStability derives the stability of a pretty or normalized version.
func ParseStability(version string) types.Stability {
	version = commitReference.ReplaceAllString(version, "")
	lower := strings.ToLower(version)
	if strings.HasPrefix(lower, "dev-") || strings.HasSuffix(lower, "-dev") {
		return types.StabilityDev
	}
	m := stabilitySuffix.FindStringSubmatch(lower)
	if m == nil {
		return types.StabilityStable
	}
	if m[3] != "" {
		return types.StabilityDev
	}
	switch m[1] {
	case "beta", "b":
		return types.StabilityBeta
	case "alpha", "a":
		return types.StabilityAlpha
	case "rc":
		return types.StabilityRC
	default:
		return types.StabilityStable
	}
}

// ParseNumericAliasPrefix returns the numeric prefix of a branch alias such
// as "1.2.x-dev" ("1.2.") or "" when the branch is not numeric.
func ParseNumericAliasPrefix(branch string) string {
	m := numericAlias.FindStringSubmatch(branch)
	if m == nil {
		return ""
	}
	return m[1] + "."
}

// IsBranch reports whether a normalized version is a named dev branch.
func IsBranch(version string) bool {
	return strings.HasPrefix(version, "dev-")
}

// manipulateVersion pads the parts after position with "0" and bumps the
// part at position by increment, carrying when the result goes negative.
func manipulateVersion(parts [4]string, position int, increment int) (string, bool) {
	for i := 3; i >= 0; i-- {
		switch {
		case i+1 > position:
			parts[i] = "0"
		case i+1 == position && increment != 0:
			n, _ := strconv.Atoi(parts[i])
			n += increment
			if n < 0 {
				parts[i] = "0"
				position--
				if i == 0 {
					return "", false
				}
				continue
			}
			parts[i] = strconv.Itoa(n)
		}
	}
	return strings.Join(parts[:], "."), true
}

func invalidVersion(version string, reason string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("%s: %q", reason, version))
}
