package policies

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"composer-repos/internal/types"
)

// StabilityPolicy decides whether a package version is stable enough given a
// global minimum and per-package overrides.
type StabilityPolicy struct {
	Minimum    types.Stability
	Flags      map[string]types.Stability
	acceptable map[types.Stability]bool
}

func NewStabilityPolicy(minimum types.Stability, flags map[string]types.Stability) (StabilityPolicy, error) {
	if minimum == "" {
		minimum = types.StabilityStable
	}
	if !minimum.Valid() {
		return StabilityPolicy{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid minimum stability %q", minimum))
	}
	normalized := map[string]types.Stability{}
	for name, stability := range flags {
		if !stability.Valid() {
			return StabilityPolicy{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid stability flag %q for %s", stability, name))
		}
		normalized[strings.ToLower(name)] = stability
	}
	return StabilityPolicy{
		Minimum:    minimum,
		Flags:      normalized,
		acceptable: types.AcceptableStabilities(minimum),
	}, nil
}

// AcceptableStabilities exposes the set derived from the minimum.
func (p StabilityPolicy) AcceptableStabilities() map[types.Stability]bool {
	return p.acceptable
}

// IsPackageAcceptable is true when any of the names passes its effective
// threshold: the per-name flag when present, otherwise the global minimum.
func (p StabilityPolicy) IsPackageAcceptable(names []string, stability types.Stability) bool {
	return IsPackageAcceptable(p.acceptable, p.Flags, names, stability)
}

// IsPackageAcceptable is the stateless form used by repositories during
// LoadPackages.
func IsPackageAcceptable(acceptable map[types.Stability]bool, flags map[string]types.Stability, names []string, stability types.Stability) bool {
	for _, name := range names {
		if flag, ok := flags[name]; ok {
			if stability.Value() <= flag.Value() {
				return true
			}
			continue
		}
		if acceptable[stability] {
			return true
		}
	}
	return false
}
