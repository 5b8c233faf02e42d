package core

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

// InstalledRepository aggregates what is installed: lock, installed,
// root-package and platform repositories only.
type InstalledRepository struct {
	*CompositeRepository
}

func NewInstalledRepository(repositories ...Repository) (*InstalledRepository, error) {
	repo := &InstalledRepository{
		CompositeRepository: &CompositeRepository{id: nextRepositoryID(), kind: KindInstalled},
	}
	for _, child := range repositories {
		if err := repo.AddRepository(child); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func (r *InstalledRepository) RepoName() string {
	return "installed " + r.CompositeRepository.RepoName()
}

// AddRepository rejects repositories that do not describe installed state.
func (r *InstalledRepository) AddRepository(repo Repository) error {
	switch repo.Kind() {
	case KindLock, KindRootPackage, KindPlatform:
	default:
		if _, ok := repo.(InstalledRepositoryInterface); !ok {
			return failedPrecondition(fmt.Sprintf("installed repository only accepts lock, installed, root package and platform repositories, got %s (%s)", repo.RepoName(), repo.Kind()))
		}
	}
	r.CompositeRepository.AddRepository(repo)
	return nil
}

// FindPackagesWithReplacersAndProviders returns packages named name plus
// the packages replacing or providing it with a link matching constraint.
func (r *InstalledRepository) FindPackagesWithReplacersAndProviders(ctx context.Context, name string, constraint types.Constraint) ([]types.Package, error) {
	name = strings.ToLower(name)
	var matches []types.Package
	for _, repo := range r.repositories {
		packages, err := repo.GetPackages(ctx)
		if err != nil {
			return nil, err
		}
		for _, candidate := range packages {
			if candidate.Name() == name {
				if constraint == nil || constraint.Matches(semver.Equal(candidate.Version())) {
					matches = append(matches, candidate)
				}
				continue
			}
			if linksMatch(candidate.Provides(), name, constraint) || linksMatch(candidate.Replaces(), name, constraint) {
				matches = append(matches, candidate)
			}
		}
	}
	return matches, nil
}

func linksMatch(links map[string]types.Link, name string, constraint types.Constraint) bool {
	link, ok := links[name]
	if !ok {
		return false
	}
	return constraint == nil || constraint.Matches(link.Constraint)
}

// Dependent is one edge in a GetDependents tree. CutShort marks an edge
// whose source was already expanded higher up the same branch.
type Dependent struct {
	Package    types.Package
	Link       types.Link
	Dependents []Dependent
	CutShort   bool
}

type dependentEntry struct {
	key   string
	value Dependent
}

// dependentResults keeps the keyed results of one GetDependents call. Keyed
// entries are replaced in place, unkeyed entries are appended.
type dependentResults struct {
	entries []dependentEntry
	index   map[string]int
}

func (d *dependentResults) set(key string, value Dependent) {
	if d.index == nil {
		d.index = map[string]int{}
	}
	if i, ok := d.index[key]; ok {
		d.entries[i].value = value
		return
	}
	d.index[key] = len(d.entries)
	d.entries = append(d.entries, dependentEntry{key: key, value: value})
}

func (d *dependentResults) append(value Dependent) {
	d.entries = append(d.entries, dependentEntry{value: value})
}

// sorted orders unkeyed entries first, in discovery order, then keyed
// entries by dependent name.
func (d *dependentResults) sorted() []Dependent {
	sort.SliceStable(d.entries, func(i, j int) bool {
		a, b := d.entries[i].key, d.entries[j].key
		if a == "" || b == "" {
			return a == "" && b != ""
		}
		return a < b
	})
	out := make([]Dependent, 0, len(d.entries))
	for _, entry := range d.entries {
		out = append(out, entry.value)
	}
	return out
}

// GetDependents lists the installed packages requiring (or, inverted,
// conflicting with or preventing) any of the needles.
func (r *InstalledRepository) GetDependents(ctx context.Context, needles []string, constraint types.Constraint, invert bool, recurse bool) ([]Dependent, error) {
	return r.dependents(ctx, needles, constraint, invert, recurse, nil)
}

func (r *InstalledRepository) dependents(ctx context.Context, needleNames []string, constraint types.Constraint, invert bool, recurse bool, packagesFound []string) ([]Dependent, error) {
	needles := make([]string, 0, len(needleNames))
	for _, needle := range needleNames {
		needles = append(needles, strings.ToLower(needle))
	}
	if packagesFound == nil {
		packagesFound = append([]string(nil), needles...)
	}
	packages, err := r.GetPackages(ctx)
	if err != nil {
		return nil, err
	}
	var rootPackage *types.RootPackage
	for _, pkg := range packages {
		if root, ok := types.Unalias(pkg).(*types.RootPackage); ok {
			rootPackage = root
			break
		}
	}

	var results dependentResults
	for _, pkg := range packages {
		links := orderedLinks(pkg.Requires())
		packagesInTree := append([]string(nil), packagesFound...)

		if !invert {
			links = mergeLinks(links, orderedLinks(pkg.Replaces()))
			for _, link := range orderedLinks(pkg.Replaces()) {
				for _, needle := range slices.Clone(needles) {
					if link.Source != needle {
						continue
					}
					if constraint != nil && !link.Constraint.Matches(constraint) {
						continue
					}
					if slices.Contains(packagesInTree, link.Target) {
						results.append(Dependent{Package: pkg, Link: link, CutShort: true})
						continue
					}
					packagesInTree = append(packagesInTree, link.Target)
					var nested []Dependent
					if recurse {
						nested, err = r.dependents(ctx, []string{link.Target}, nil, false, true, packagesInTree)
						if err != nil {
							return nil, err
						}
					}
					results.append(Dependent{Package: pkg, Link: link, Dependents: nested})
					needles = append(needles, link.Target)
				}
			}
		}

		if _, ok := types.Unalias(pkg).(*types.RootPackage); ok {
			links = mergeLinks(links, orderedLinks(pkg.DevRequires()))
		}

		for _, link := range links {
			for _, needle := range needles {
				if link.Target != needle {
					continue
				}
				if constraint != nil && link.Constraint.Matches(constraint) == invert {
					continue
				}
				if slices.Contains(packagesInTree, link.Source) {
					results.set(link.Source, Dependent{Package: pkg, Link: link, CutShort: true})
					continue
				}
				packagesInTree = append(packagesInTree, link.Source)
				var nested []Dependent
				if recurse {
					nested, err = r.dependents(ctx, []string{link.Source}, nil, false, true, packagesInTree)
					if err != nil {
						return nil, err
					}
				}
				results.set(link.Source, Dependent{Package: pkg, Link: link, Dependents: nested})
			}
		}

		if invert && slices.Contains(needles, pkg.Name()) {
			if err := r.appendConflicts(ctx, &results, pkg, orderedLinks(pkg.Conflicts()), invert); err != nil {
				return nil, err
			}
		}

		var againstNeedles []types.Link
		for _, link := range orderedLinks(pkg.Conflicts()) {
			if slices.Contains(needles, link.Target) {
				againstNeedles = append(againstNeedles, link)
			}
		}
		if err := r.appendConflicts(ctx, &results, pkg, againstNeedles, invert); err != nil {
			return nil, err
		}

		if invert && constraint != nil && slices.Contains(needles, pkg.Name()) && constraint.Matches(semver.Equal(pkg.Version())) {
			if err := r.appendUnsatisfied(ctx, &results, pkg, packages, rootPackage); err != nil {
				return nil, err
			}
		}
	}
	return results.sorted(), nil
}

// appendConflicts records conflict links whose match against the installed
// target equals invert.
func (r *InstalledRepository) appendConflicts(ctx context.Context, results *dependentResults, pkg types.Package, conflicts []types.Link, invert bool) error {
	for _, link := range conflicts {
		installed, err := r.FindPackages(ctx, link.Target, nil)
		if err != nil {
			return err
		}
		for _, target := range installed {
			if link.Constraint.Matches(semver.Equal(target.Version())) == invert {
				results.append(Dependent{Package: pkg, Link: link, CutShort: true})
			}
		}
	}
	return nil
}

// appendUnsatisfied explains why pkg could not be installed: requirements
// the installed set (platform included) does not satisfy.
func (r *InstalledRepository) appendUnsatisfied(ctx context.Context, results *dependentResults, pkg types.Package, packages []types.Package, rootPackage *types.RootPackage) error {
	for _, link := range orderedLinks(pkg.Requires()) {
		if IsPlatformPackage(link.Target) {
			satisfied, err := r.FindPackage(ctx, link.Target, link.Constraint)
			if err != nil {
				return err
			}
			if satisfied != nil {
				continue
			}
			installed, err := r.FindPackage(ctx, link.Target, semver.MatchAll{})
			if err != nil {
				return err
			}
			description := "but it is missing"
			if installed != nil {
				description = "but " + installed.PrettyVersion() + " is installed"
			}
			results.append(Dependent{
				Package: pkg,
				Link: types.Link{
					Source:           pkg.Name(),
					Target:           link.Target,
					Constraint:       semver.MatchAll{},
					Type:             types.LinkTypeRequire,
					PrettyConstraint: link.PrettyConstraint + " " + description,
				},
				CutShort: true,
			})
			continue
		}
		for _, candidate := range packages {
			if !slices.Contains(candidate.Names(true), link.Target) {
				continue
			}
			var version types.Constraint = semver.Equal(candidate.Version())
			if link.Target != candidate.Name() {
				if prov, ok := candidate.Replaces()[link.Target]; ok {
					version = prov.Constraint
				} else if prov, ok := candidate.Provides()[link.Target]; ok {
					version = prov.Constraint
				}
			}
			if link.Constraint.Matches(version) {
				continue
			}
			if rootPackage != nil {
				_, required := rootPackage.Requires()[candidate.Name()]
				_, devRequired := rootPackage.DevRequires()[candidate.Name()]
				if required || devRequired {
					results.append(Dependent{
						Package: pkg,
						Link: types.Link{
							Source:           pkg.Name(),
							Target:           candidate.Name(),
							Constraint:       link.Constraint,
							Type:             types.LinkTypeRequire,
							PrettyConstraint: link.PrettyConstraint + " but " + candidate.PrettyVersion() + " is installed",
						},
						CutShort: true,
					})
					continue
				}
			}
			results.append(Dependent{Package: pkg, Link: link, CutShort: true})
		}
	}
	return nil
}

func orderedLinks(links map[string]types.Link) []types.Link {
	targets := make([]string, 0, len(links))
	for target := range links {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	out := make([]types.Link, 0, len(targets))
	for _, target := range targets {
		out = append(out, links[target])
	}
	return out
}

// mergeLinks appends the links of extra whose target is not present yet.
func mergeLinks(links []types.Link, extra []types.Link) []types.Link {
	for _, link := range extra {
		if !slices.ContainsFunc(links, func(existing types.Link) bool { return existing.Target == link.Target }) {
			links = append(links, link)
		}
	}
	return links
}

var _ Repository = (*InstalledRepository)(nil)
