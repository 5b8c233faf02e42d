package semver

import (
	"strings"
	"unicode"
)

// specialForms ranks pre-release and patch markers the way normalized
// versions are ordered. Matching is by prefix in declaration order, so
// "patch" ranks as "p".
var specialForms = []struct {
	name string
	rank int
}{
	{"dev", 0},
	{"alpha", 1},
	{"a", 1},
	{"beta", 2},
	{"b", 2},
	{"RC", 3},
	{"rc", 3},
	{"#", 4},
	{"pl", 5},
	{"p", 5},
}

// CompareVersions returns -1, 0 or 1 ordering two normalized versions.
func CompareVersions(a string, b string) int {
	left := canonicalParts(a)
	right := canonicalParts(b)
	i := 0
	for ; i < len(left) && i < len(right); i++ {
		if cmp := comparePart(left[i], right[i]); cmp != 0 {
			return cmp
		}
	}
	switch {
	case i < len(left):
		if isNumeric(left[i]) {
			return 1
		}
		return comparePart(left[i], "#")
	case i < len(right):
		if isNumeric(right[i]) {
			return -1
		}
		return comparePart("#", right[i])
	default:
		return 0
	}
}

// CompareOp evaluates a op b with op one of ==, !=, <, <=, >, >=.
func CompareOp(a string, b string, op string) bool {
	cmp := CompareVersions(a, b)
	switch op {
	case "==", "=":
		return cmp == 0
	case "!=", "<>":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	default:
		return false
	}
}

func canonicalParts(version string) []string {
	var parts []string
	var current strings.Builder
	kind := 0
	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
	}
	for _, r := range version {
		next := 0
		switch {
		case unicode.IsDigit(r):
			next = 1
		case unicode.IsLetter(r):
			next = 2
		}
		if next == 0 {
			flush()
			kind = 0
			continue
		}
		if next != kind {
			flush()
			kind = next
		}
		current.WriteRune(r)
	}
	flush()
	return parts
}

func comparePart(a string, b string) int {
	aNum := isNumeric(a)
	bNum := isNumeric(b)
	switch {
	case aNum && bNum:
		return compareNumeric(a, b)
	case aNum:
		return compareInts(specialRank("#"), specialRank(b))
	case bNum:
		return compareInts(specialRank(a), specialRank("#"))
	default:
		return compareInts(specialRank(a), specialRank(b))
	}
}

func specialRank(form string) int {
	for _, entry := range specialForms {
		if strings.HasPrefix(form, entry.name) {
			return entry.rank
		}
	}
	return -6
}

func compareNumeric(a string, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return compareInts(len(a), len(b))
	}
	return strings.Compare(a, b)
}

func compareInts(a int, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isNumeric(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
