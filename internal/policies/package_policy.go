package policies

import (
	"regexp"
	"strings"
)

// NamePatterns matches package names against glob patterns such as
// "vendor/*", "*-bundle" or an exact "vendor/package". Matching is
// case-insensitive.
type NamePatterns struct {
	Patterns []string
	exact    map[string]struct{}
	prefixes []string
	globs    []*regexp.Regexp
	wildcard bool
}

func NewNamePatterns(patterns []string) NamePatterns {
	policy := NamePatterns{}
	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		policy.Patterns = append(policy.Patterns, trimmed)
	}
	policy.compile()
	return policy
}

func (p NamePatterns) Empty() bool {
	return len(p.Patterns) == 0
}

func (p NamePatterns) Matches(name string) bool {
	if p.wildcard {
		return true
	}
	name = strings.ToLower(name)
	if _, ok := p.exact[name]; ok {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, glob := range p.globs {
		if glob.MatchString(name) {
			return true
		}
	}
	return false
}

type patternKind int

const (
	patternExact patternKind = iota
	patternPrefix
	patternWildcard
	patternGlob
)

func (p *NamePatterns) compile() {
	p.exact = map[string]struct{}{}
	p.prefixes = nil
	p.globs = nil
	p.wildcard = false
	for _, pattern := range p.Patterns {
		name, kind := parseNamePattern(pattern)
		switch kind {
		case patternWildcard:
			p.wildcard = true
		case patternExact:
			p.exact[name] = struct{}{}
		case patternPrefix:
			p.prefixes = append(p.prefixes, name)
		case patternGlob:
			p.globs = append(p.globs, GlobToRegexp(name))
		}
	}
}

func parseNamePattern(value string) (string, patternKind) {
	pattern := strings.ToLower(strings.TrimSpace(value))
	if pattern == "*" {
		return "", patternWildcard
	}
	stars := strings.Count(pattern, "*")
	switch {
	case stars == 0:
		return pattern, patternExact
	case stars == 1 && strings.HasSuffix(pattern, "*"):
		return strings.TrimSuffix(pattern, "*"), patternPrefix
	default:
		return pattern, patternGlob
	}
}

// GlobToRegexp converts a package name glob into an anchored,
// case-insensitive regular expression where "*" matches any run of
// characters.
func GlobToRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile(`(?i)^` + strings.Join(parts, ".*") + `$`)
}
