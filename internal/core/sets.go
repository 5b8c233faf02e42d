package core

import "composer-repos/internal/types"

// packageSet keeps insertion order and dedupes by structural key.
type packageSet struct {
	keys  map[string]struct{}
	items []types.Package
}

func newPackageSet() *packageSet {
	return &packageSet{keys: map[string]struct{}{}}
}

func (s *packageSet) add(pkg types.Package) {
	key := types.PackageKey(pkg)
	if _, ok := s.keys[key]; ok {
		return
	}
	s.keys[key] = struct{}{}
	s.items = append(s.items, pkg)
}

func (s *packageSet) addAll(packages []types.Package) {
	for _, pkg := range packages {
		s.add(pkg)
	}
}

func (s *packageSet) has(pkg types.Package) bool {
	_, ok := s.keys[types.PackageKey(pkg)]
	return ok
}

func (s *packageSet) list() []types.Package {
	if s.items == nil {
		return []types.Package{}
	}
	return s.items
}

// nameSet is an insertion-ordered set of strings.
type nameSet struct {
	seen  map[string]struct{}
	items []string
}

func newNameSet() *nameSet {
	return &nameSet{seen: map[string]struct{}{}}
}

func (s *nameSet) add(name string) {
	if _, ok := s.seen[name]; ok {
		return
	}
	s.seen[name] = struct{}{}
	s.items = append(s.items, name)
}

func (s *nameSet) addAll(names []string) {
	for _, name := range names {
		s.add(name)
	}
}

func (s *nameSet) has(name string) bool {
	_, ok := s.seen[name]
	return ok
}

func (s *nameSet) list() []string {
	if s.items == nil {
		return []string{}
	}
	return s.items
}
