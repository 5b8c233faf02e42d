package semver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"composer-repos/internal/types"
)

const versionPattern = `v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:\.(\d+))?` + modifierPattern + `(?:\+[^\s]+)?`

var (
	orSplit          = regexp.MustCompile(`\s*\|\|?\s*`)
	andSplit         = regexp.MustCompile(`[,\s]+`)
	operatorOnly     = regexp.MustCompile(`^(?:<>|!=|>=?|<=?|==?|~|\^)$`)
	constraintFlag   = regexp.MustCompile(`(?i)^([^,\s]+?) ?@(stable|RC|beta|alpha|dev)$`)
	constraintRef    = regexp.MustCompile(`(?i)^(dev-[^,\s@]+?|[^,\s@]+?\.x-dev)#.+$`)
	wildcardAll      = regexp.MustCompile(`(?i)^(v)?[x*](\.[x*])*$`)
	tildeConstraint  = regexp.MustCompile(`(?i)^~>?` + versionPattern + `$`)
	caretConstraint  = regexp.MustCompile(`(?i)^\^` + versionPattern + `$`)
	xRangeConstraint = regexp.MustCompile(`(?i)^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:\.[x*])+$`)
	hyphenRange      = regexp.MustCompile(`(?i)^(` + versionPattern + `) +- +(` + versionPattern + `)$`)
	basicComparator  = regexp.MustCompile(`^(<>|!=|>=?|<=?|==?)?\s*(.*)`)
	stableSuffix     = regexp.MustCompile(`(?i)-` + modifierPattern + `$`)
)

// ParseConstraints parses a constraint expression such as "^1.2 || 2.0.*"
// into a constraint tree.
func ParseConstraints(expression string) (types.Constraint, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return nil, invalidConstraint(expression, "empty constraint")
	}
	var orGroups []types.Constraint
	for _, orPart := range orSplit.Split(trimmed, -1) {
		var andGroup []types.Constraint
		for _, token := range splitAndTokens(orPart) {
			parsed, err := parseConstraint(token)
			if err != nil {
				return nil, invalidConstraint(expression, err.Error())
			}
			andGroup = append(andGroup, parsed...)
		}
		if len(andGroup) == 0 {
			return nil, invalidConstraint(expression, "empty constraint group")
		}
		orGroups = append(orGroups, NewMultiConstraint(andGroup, true))
	}
	return NewMultiConstraint(orGroups, false), nil
}

// MustParseConstraints panics on invalid input.
func MustParseConstraints(expression string) types.Constraint {
	constraint, err := ParseConstraints(expression)
	if err != nil {
		panic(err)
	}
	return constraint
}

// splitAndTokens splits an AND group on commas and whitespace, rejoining
// operators separated from their version and hyphen ranges.
func splitAndTokens(value string) []string {
	raw := andSplit.Split(strings.TrimSpace(value), -1)
	var tokens []string
	for i := 0; i < len(raw); i++ {
		token := raw[i]
		if token == "" {
			continue
		}
		switch {
		case operatorOnly.MatchString(token) && i+1 < len(raw):
			tokens = append(tokens, token+raw[i+1])
			i++
		case token == "-" && len(tokens) > 0 && i+1 < len(raw):
			tokens[len(tokens)-1] = tokens[len(tokens)-1] + " - " + raw[i+1]
			i++
		case strings.EqualFold(token, "as") && len(tokens) > 0 && i+1 < len(raw):
			i++
		default:
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func parseConstraint(constraint string) ([]types.Constraint, error) {
	stabilityModifier := ""
	if m := constraintFlag.FindStringSubmatch(constraint); m != nil {
		constraint = m[1]
		if !strings.EqualFold(m[2], "stable") {
			stabilityModifier = m[2]
		}
	}
	if m := constraintRef.FindStringSubmatch(constraint); m != nil {
		constraint = m[1]
	}

	if m := wildcardAll.FindStringSubmatch(constraint); m != nil {
		if m[1] != "" || m[2] != "" {
			return []types.Constraint{NewConstraint(">=", "0.0.0.0-dev")}, nil
		}
		return []types.Constraint{MatchAll{}}, nil
	}

	if m := tildeConstraint.FindStringSubmatch(constraint); m != nil {
		if strings.HasPrefix(constraint, "~>") {
			return nil, fmt.Errorf("~> is not supported, use ~ instead")
		}
		position := 1
		switch {
		case m[4] != "":
			position = 4
		case m[3] != "":
			position = 3
		case m[2] != "":
			position = 2
		}
		suffix := ""
		if m[5] == "" && m[7] == "" {
			suffix = "-dev"
		}
		low, err := Normalize(constraint[1:] + suffix)
		if err != nil {
			return nil, err
		}
		highPosition := position - 1
		if highPosition < 1 {
			highPosition = 1
		}
		high, ok := manipulateVersion([4]string{m[1], m[2], m[3], m[4]}, highPosition, 1)
		if !ok {
			return nil, fmt.Errorf("invalid tilde constraint %q", constraint)
		}
		return []types.Constraint{NewConstraint(">=", low), NewConstraint("<", high+"-dev")}, nil
	}

	if m := caretConstraint.FindStringSubmatch(constraint); m != nil {
		position := 3
		switch {
		case m[1] != "0" || m[2] == "":
			position = 1
		case m[2] != "0" || m[3] == "":
			position = 2
		}
		suffix := ""
		if m[5] == "" && m[7] == "" {
			suffix = "-dev"
		}
		low, err := Normalize(constraint[1:] + suffix)
		if err != nil {
			return nil, err
		}
		high, ok := manipulateVersion([4]string{m[1], m[2], m[3], m[4]}, position, 1)
		if !ok {
			return nil, fmt.Errorf("invalid caret constraint %q", constraint)
		}
		return []types.Constraint{NewConstraint(">=", low), NewConstraint("<", high+"-dev")}, nil
	}

	if m := xRangeConstraint.FindStringSubmatch(constraint); m != nil {
		position := 1
		switch {
		case m[3] != "":
			position = 3
		case m[2] != "":
			position = 2
		}
		parts := [4]string{m[1], m[2], m[3], ""}
		low, _ := manipulateVersion(parts, position, 0)
		high, ok := manipulateVersion(parts, position, 1)
		if !ok {
			return nil, fmt.Errorf("invalid wildcard constraint %q", constraint)
		}
		if low+"-dev" == "0.0.0.0-dev" {
			return []types.Constraint{NewConstraint("<", high+"-dev")}, nil
		}
		return []types.Constraint{NewConstraint(">=", low+"-dev"), NewConstraint("<", high+"-dev")}, nil
	}

	if m := hyphenRange.FindStringSubmatch(constraint); m != nil {
		// Groups: 1 from, 2-5 from numbers, 6-8 from modifier, 9 to,
		// 10-13 to numbers, 14-16 to modifier.
		lowSuffix := ""
		if m[6] == "" && m[8] == "" {
			lowSuffix = "-dev"
		}
		low, err := Normalize(m[1])
		if err != nil {
			return nil, err
		}
		lower := NewConstraint(">=", low+lowSuffix)
		high, err := Normalize(m[9])
		if err != nil {
			return nil, err
		}
		if (m[11] != "" && m[12] != "") || m[14] != "" || m[16] != "" {
			return []types.Constraint{lower, NewConstraint("<=", high)}, nil
		}
		position := 1
		if m[11] != "" {
			position = 2
		}
		next, ok := manipulateVersion([4]string{m[10], m[11], m[12], m[13]}, position, 1)
		if !ok {
			return nil, fmt.Errorf("invalid hyphen range %q", constraint)
		}
		return []types.Constraint{lower, NewConstraint("<", next+"-dev")}, nil
	}

	if m := basicComparator.FindStringSubmatch(constraint); m != nil {
		version, err := Normalize(m[2])
		if err == nil {
			op := m[1]
			if op != "==" && op != "=" && op != "" && stabilityModifier != "" && ParseStability(version) == types.StabilityStable {
				version += "-" + stabilityModifier
			} else if op == "<" || op == ">=" {
				if !stableSuffix.MatchString(strings.ToLower(m[2])) && !strings.HasPrefix(m[2], "dev-") {
					version += "-dev"
				}
			}
			return []types.Constraint{NewConstraint(op, version)}, nil
		}
	}
	return nil, fmt.Errorf("could not parse version constraint %s", constraint)
}

func invalidConstraint(expression string, reason string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("invalid constraint %q: %s", expression, reason))
}
