package types

import "strings"

type Stability string

const (
	StabilityStable Stability = "stable"
	StabilityRC     Stability = "RC"
	StabilityBeta   Stability = "beta"
	StabilityAlpha  Stability = "alpha"
	StabilityDev    Stability = "dev"
)

// stabilityValues orders stabilities from most to least preferred. A lower
// value is more stable.
var stabilityValues = map[Stability]int{
	StabilityStable: 0,
	StabilityRC:     5,
	StabilityBeta:   10,
	StabilityAlpha:  15,
	StabilityDev:    20,
}

// Value returns the ordinal of the stability, or -1 when unknown.
func (s Stability) Value() int {
	if v, ok := stabilityValues[s]; ok {
		return v
	}
	return -1
}

func (s Stability) Valid() bool {
	return s.Value() >= 0
}

// ParseStabilityName maps user input such as "rc" or "Beta" to a Stability.
func ParseStabilityName(value string) (Stability, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "stable":
		return StabilityStable, true
	case "rc":
		return StabilityRC, true
	case "beta":
		return StabilityBeta, true
	case "alpha":
		return StabilityAlpha, true
	case "dev":
		return StabilityDev, true
	default:
		return "", false
	}
}

// AcceptableStabilities returns every stability at least as stable as
// minimum, keyed for set lookups.
func AcceptableStabilities(minimum Stability) map[Stability]bool {
	threshold := minimum.Value()
	if threshold < 0 {
		threshold = StabilityStable.Value()
	}
	out := map[Stability]bool{}
	for stability, value := range stabilityValues {
		if value <= threshold {
			out[stability] = true
		}
	}
	return out
}

// AllStabilities lists stabilities from most to least stable.
func AllStabilities() []Stability {
	return []Stability{StabilityStable, StabilityRC, StabilityBeta, StabilityAlpha, StabilityDev}
}
