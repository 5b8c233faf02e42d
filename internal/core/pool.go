package core

import (
	"slices"
	"strings"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

// Pool is the candidate set handed to a solver.
type Pool struct {
	packages []types.Package
	byName   map[string][]types.Package
}

func NewPool(packages []types.Package) *Pool {
	set := newPackageSet()
	set.addAll(packages)
	pool := &Pool{packages: set.list(), byName: map[string][]types.Package{}}
	for _, pkg := range pool.packages {
		for _, name := range pkg.Names(true) {
			pool.byName[name] = append(pool.byName[name], pkg)
		}
	}
	return pool
}

func (p *Pool) Packages() []types.Package { return p.packages }
func (p *Pool) Count() int                { return len(p.packages) }

// WhatProvides returns the packages named name, or providing or replacing
// it, whose version or link constraint intersects constraint.
func (p *Pool) WhatProvides(name string, constraint types.Constraint) []types.Package {
	name = strings.ToLower(name)
	var out []types.Package
	for _, candidate := range p.byName[name] {
		if constraint == nil {
			out = append(out, candidate)
			continue
		}
		if candidate.Name() == name {
			if constraint.Matches(semver.Equal(candidate.Version())) {
				out = append(out, candidate)
			}
			continue
		}
		if link, ok := candidate.Replaces()[name]; ok && constraint.Matches(link.Constraint) {
			out = append(out, candidate)
			continue
		}
		if link, ok := candidate.Provides()[name]; ok && constraint.Matches(link.Constraint) {
			out = append(out, candidate)
		}
	}
	return out
}

// Names lists every package name in the pool, sorted.
func (p *Pool) Names() []string {
	names := newNameSet()
	for _, pkg := range p.packages {
		names.add(pkg.Name())
	}
	out := names.list()
	slices.Sort(out)
	return out
}
