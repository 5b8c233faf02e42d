package semver

import (
	"strings"

	"composer-repos/internal/types"
)

// Constraint is a single "op version" comparison against a normalized
// version.
type Constraint struct {
	Op      string
	Version string
}

// NewConstraint builds a constraint, normalizing operator aliases.
func NewConstraint(op string, version string) *Constraint {
	switch op {
	case "=", "":
		op = "=="
	case "<>":
		op = "!="
	}
	return &Constraint{Op: op, Version: version}
}

// Equal is shorthand for an exact version constraint.
func Equal(version string) *Constraint {
	return NewConstraint("==", version)
}

func (c *Constraint) String() string {
	return c.Op + " " + c.Version
}

// Matches reports whether the two constraints have a non-empty
// intersection.
func (c *Constraint) Matches(other types.Constraint) bool {
	if provider, ok := other.(*Constraint); ok {
		return c.matchSpecific(provider, false)
	}
	return other.Matches(c)
}

// MatchesBranches is Matches with dev branches comparable to numbers.
func (c *Constraint) MatchesBranches(provider *Constraint) bool {
	return c.matchSpecific(provider, true)
}

func (c *Constraint) matchSpecific(provider *Constraint, compareBranches bool) bool {
	noEqualOp := strings.ReplaceAll(c.Op, "=", "")
	providerNoEqualOp := strings.ReplaceAll(provider.Op, "=", "")

	isEqualOp := c.Op == "=="
	isNonEqualOp := c.Op == "!="
	isProviderEqualOp := provider.Op == "=="
	isProviderNonEqualOp := provider.Op == "!="

	if isNonEqualOp || isProviderNonEqualOp {
		if isNonEqualOp && !isProviderNonEqualOp && !isProviderEqualOp && IsBranch(provider.Version) {
			return false
		}
		if isProviderNonEqualOp && !isNonEqualOp && !isEqualOp && IsBranch(c.Version) {
			return false
		}
		if !isEqualOp && !isProviderEqualOp {
			return true
		}
		return versionCompare(provider.Version, c.Version, "!=", compareBranches)
	}

	// Two ranges pointing the same direction always overlap.
	if c.Op != "==" && noEqualOp == providerNoEqualOp {
		return !IsBranch(c.Version) && !IsBranch(provider.Version)
	}

	version1, version2, op := provider.Version, c.Version, c.Op
	if isEqualOp {
		version1, version2, op = c.Version, provider.Version, provider.Op
	}
	if !versionCompare(version1, version2, op, compareBranches) {
		return false
	}
	// ">= 1.0" against "< 1.0" shares the boundary but not the interval.
	if provider.Op == providerNoEqualOp && c.Op != noEqualOp && CompareVersions(provider.Version, c.Version) == 0 {
		return false
	}
	return true
}

func versionCompare(a string, b string, op string, compareBranches bool) bool {
	aBranch := IsBranch(a)
	bBranch := IsBranch(b)
	if op == "!=" && (aBranch || bBranch) {
		return a != b
	}
	if aBranch && bBranch {
		return op == "==" && a == b
	}
	if !compareBranches && (aBranch || bBranch) {
		return false
	}
	return CompareOp(a, b, op)
}

// MultiConstraint combines constraints with AND (conjunctive) or OR.
type MultiConstraint struct {
	Constraints []types.Constraint
	Conjunctive bool
}

// NewMultiConstraint collapses single-element groups.
func NewMultiConstraint(constraints []types.Constraint, conjunctive bool) types.Constraint {
	switch len(constraints) {
	case 0:
		return MatchAll{}
	case 1:
		return constraints[0]
	}
	return &MultiConstraint{Constraints: constraints, Conjunctive: conjunctive}
}

func (m *MultiConstraint) Matches(provider types.Constraint) bool {
	if !m.Conjunctive {
		for _, constraint := range m.Constraints {
			if provider.Matches(constraint) {
				return true
			}
		}
		return false
	}
	if multi, ok := provider.(*MultiConstraint); ok && !multi.Conjunctive {
		return multi.Matches(m)
	}
	for _, constraint := range m.Constraints {
		if !provider.Matches(constraint) {
			return false
		}
	}
	return true
}

func (m *MultiConstraint) String() string {
	parts := make([]string, 0, len(m.Constraints))
	for _, constraint := range m.Constraints {
		parts = append(parts, constraint.String())
	}
	sep := " || "
	if m.Conjunctive {
		sep = " "
	}
	return "[" + strings.Join(parts, sep) + "]"
}

// MatchAll matches every version.
type MatchAll struct{}

func (MatchAll) Matches(types.Constraint) bool { return true }
func (MatchAll) String() string                { return "*" }

// MatchNone matches nothing.
type MatchNone struct{}

func (MatchNone) Matches(types.Constraint) bool { return false }
func (MatchNone) String() string                { return "[]" }

// MatchesVersion is a convenience for testing one normalized version.
func MatchesVersion(constraint types.Constraint, version string) bool {
	if constraint == nil {
		return true
	}
	return constraint.Matches(Equal(version))
}
