package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Constraint is a version constraint. Implementations live in the semver
// package; Matches intersects two constraints.
type Constraint interface {
	Matches(other Constraint) bool
	String() string
}

type LinkType string

const (
	LinkTypeRequire    LinkType = "requires"
	LinkTypeDevRequire LinkType = "devRequires"
	LinkTypeProvide    LinkType = "provides"
	LinkTypeConflict   LinkType = "conflicts"
	LinkTypeReplace    LinkType = "replaces"
)

type Link struct {
	Source           string
	Target           string
	Constraint       Constraint
	Type             LinkType
	PrettyConstraint string
}

func (l Link) String() string {
	return fmt.Sprintf("%s %s %s (%s)", l.Source, l.Type, l.Target, l.PrettyConstraint)
}

type SourceInfo struct {
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`
}

type DistInfo struct {
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`
	Shasum    string `json:"shasum,omitempty" yaml:"shasum,omitempty"`
}

// RepositoryRef is the owning repository as seen from a package. RepoID
// is unique per repository instance within a process.
type RepositoryRef interface {
	RepoName() string
	RepoID() uint64
}

// Package is the read view shared by complete, root and alias packages.
type Package interface {
	Name() string
	PrettyName() string
	Version() string
	PrettyVersion() string
	Stability() Stability
	Type() string
	IsDev() bool
	Requires() map[string]Link
	DevRequires() map[string]Link
	Provides() map[string]Link
	Replaces() map[string]Link
	Conflicts() map[string]Link
	Names(includeProvides bool) []string
	UniqueName() string
	Source() SourceInfo
	Dist() DistInfo
	Description() string
	Keywords() []string
	IsAbandoned() bool
	ReplacementPackage() string
	IsDefaultBranch() bool
	Repository() RepositoryRef
	SetRepository(repo RepositoryRef) error
}

// CompletePackage is a concrete package built by the loader.
type CompletePackage struct {
	name               string
	prettyName         string
	version            string
	prettyVersion      string
	stability          Stability
	packageType        string
	requires           map[string]Link
	devRequires        map[string]Link
	provides           map[string]Link
	replaces           map[string]Link
	conflicts          map[string]Link
	source             SourceInfo
	dist               DistInfo
	description        string
	keywords           []string
	abandoned          bool
	replacementPackage string
	defaultBranch      bool
	extra              map[string]any
	repository         RepositoryRef
}

func NewCompletePackage(prettyName string, version string, prettyVersion string, stability Stability) *CompletePackage {
	return &CompletePackage{
		name:          strings.ToLower(prettyName),
		prettyName:    prettyName,
		version:       version,
		prettyVersion: prettyVersion,
		stability:     stability,
		packageType:   "library",
	}
}

func (p *CompletePackage) Name() string          { return p.name }
func (p *CompletePackage) PrettyName() string    { return p.prettyName }
func (p *CompletePackage) Version() string       { return p.version }
func (p *CompletePackage) PrettyVersion() string { return p.prettyVersion }
func (p *CompletePackage) Stability() Stability  { return p.stability }
func (p *CompletePackage) Type() string          { return p.packageType }
func (p *CompletePackage) IsDev() bool           { return p.stability == StabilityDev }

func (p *CompletePackage) Requires() map[string]Link    { return p.requires }
func (p *CompletePackage) DevRequires() map[string]Link { return p.devRequires }
func (p *CompletePackage) Provides() map[string]Link    { return p.provides }
func (p *CompletePackage) Replaces() map[string]Link    { return p.replaces }
func (p *CompletePackage) Conflicts() map[string]Link   { return p.conflicts }

func (p *CompletePackage) Source() SourceInfo         { return p.source }
func (p *CompletePackage) Dist() DistInfo             { return p.dist }
func (p *CompletePackage) Description() string        { return p.description }
func (p *CompletePackage) Keywords() []string         { return p.keywords }
func (p *CompletePackage) IsAbandoned() bool          { return p.abandoned }
func (p *CompletePackage) ReplacementPackage() string { return p.replacementPackage }
func (p *CompletePackage) IsDefaultBranch() bool      { return p.defaultBranch }
func (p *CompletePackage) Extra() map[string]any      { return p.extra }
func (p *CompletePackage) Repository() RepositoryRef  { return p.repository }
func (p *CompletePackage) UniqueName() string         { return p.name + "-" + p.version }
func (p *CompletePackage) Names(includeProvides bool) []string {
	return packageNames(p, includeProvides)
}

func (p *CompletePackage) SetRepository(repo RepositoryRef) error {
	if p.repository != nil && p.repository != repo {
		return errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("package %s already belongs to repository %s", p.UniqueName(), p.repository.RepoName()))
	}
	p.repository = repo
	return nil
}

// ClearRepository detaches the package from its owner.
func (p *CompletePackage) ClearRepository() { p.repository = nil }

func (p *CompletePackage) SetType(value string) {
	if strings.TrimSpace(value) != "" {
		p.packageType = value
	}
}

func (p *CompletePackage) SetLinks(linkType LinkType, links map[string]Link) {
	switch linkType {
	case LinkTypeRequire:
		p.requires = links
	case LinkTypeDevRequire:
		p.devRequires = links
	case LinkTypeProvide:
		p.provides = links
	case LinkTypeReplace:
		p.replaces = links
	case LinkTypeConflict:
		p.conflicts = links
	}
}

func (p *CompletePackage) SetSource(source SourceInfo)    { p.source = source }
func (p *CompletePackage) SetDist(dist DistInfo)          { p.dist = dist }
func (p *CompletePackage) SetDescription(value string)    { p.description = value }
func (p *CompletePackage) SetKeywords(values []string)    { p.keywords = values }
func (p *CompletePackage) SetDefaultBranch(value bool)    { p.defaultBranch = value }
func (p *CompletePackage) SetExtra(values map[string]any) { p.extra = values }

// SetAbandoned marks the package abandoned, optionally naming a replacement.
func (p *CompletePackage) SetAbandoned(abandoned bool, replacement string) {
	p.abandoned = abandoned
	p.replacementPackage = replacement
}

func (p *CompletePackage) SetSourceReference(reference string) { p.source.Reference = reference }
func (p *CompletePackage) SetDistReference(reference string)   { p.dist.Reference = reference }

func (p *CompletePackage) String() string {
	return p.prettyName + " " + p.prettyVersion
}

// RootPackage carries project-level resolution settings on top of a package.
type RootPackage struct {
	*CompletePackage
	MinimumStability Stability
	StabilityFlags   map[string]Stability
	PreferStable     bool
	Aliases          []RootAlias
	References       map[string]string
}

func NewRootPackage(prettyName string, version string, prettyVersion string) *RootPackage {
	return &RootPackage{
		CompletePackage:  NewCompletePackage(prettyName, version, prettyVersion, StabilityStable),
		MinimumStability: StabilityStable,
		StabilityFlags:   map[string]Stability{},
		References:       map[string]string{},
	}
}

// RootAlias is an inline "version as alias" declaration from the root package.
type RootAlias struct {
	Package         string
	Version         string
	Alias           string
	AliasNormalized string
}

// AliasPackage presents an alternate version for an existing package.
type AliasPackage struct {
	aliasOf          Package
	version          string
	prettyVersion    string
	stability        Stability
	rootPackageAlias bool
	repository       RepositoryRef
}

func NewAliasPackage(aliasOf Package, version string, prettyVersion string, stability Stability) *AliasPackage {
	return &AliasPackage{
		aliasOf:       aliasOf,
		version:       version,
		prettyVersion: prettyVersion,
		stability:     stability,
	}
}

func (a *AliasPackage) AliasOf() Package               { return a.aliasOf }
func (a *AliasPackage) IsRootPackageAlias() bool       { return a.rootPackageAlias }
func (a *AliasPackage) SetRootPackageAlias(value bool) { a.rootPackageAlias = value }

func (a *AliasPackage) Name() string          { return a.aliasOf.Name() }
func (a *AliasPackage) PrettyName() string    { return a.aliasOf.PrettyName() }
func (a *AliasPackage) Version() string       { return a.version }
func (a *AliasPackage) PrettyVersion() string { return a.prettyVersion }
func (a *AliasPackage) Stability() Stability  { return a.stability }
func (a *AliasPackage) Type() string          { return a.aliasOf.Type() }
func (a *AliasPackage) IsDev() bool           { return a.stability == StabilityDev }

func (a *AliasPackage) Requires() map[string]Link    { return a.aliasOf.Requires() }
func (a *AliasPackage) DevRequires() map[string]Link { return a.aliasOf.DevRequires() }
func (a *AliasPackage) Provides() map[string]Link    { return a.aliasOf.Provides() }
func (a *AliasPackage) Replaces() map[string]Link    { return a.aliasOf.Replaces() }
func (a *AliasPackage) Conflicts() map[string]Link   { return a.aliasOf.Conflicts() }

func (a *AliasPackage) Source() SourceInfo         { return a.aliasOf.Source() }
func (a *AliasPackage) Dist() DistInfo             { return a.aliasOf.Dist() }
func (a *AliasPackage) Description() string        { return a.aliasOf.Description() }
func (a *AliasPackage) Keywords() []string         { return a.aliasOf.Keywords() }
func (a *AliasPackage) IsAbandoned() bool          { return a.aliasOf.IsAbandoned() }
func (a *AliasPackage) ReplacementPackage() string { return a.aliasOf.ReplacementPackage() }
func (a *AliasPackage) IsDefaultBranch() bool      { return a.aliasOf.IsDefaultBranch() }
func (a *AliasPackage) Repository() RepositoryRef  { return a.repository }
func (a *AliasPackage) UniqueName() string         { return a.Name() + "-" + a.version }
func (a *AliasPackage) Names(includeProvides bool) []string {
	return packageNames(a, includeProvides)
}

func (a *AliasPackage) SetRepository(repo RepositoryRef) error {
	if a.repository != nil && a.repository != repo {
		return errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("package %s already belongs to repository %s", a.UniqueName(), a.repository.RepoName()))
	}
	a.repository = repo
	return nil
}

func (a *AliasPackage) ClearRepository() { a.repository = nil }

func (a *AliasPackage) String() string {
	return a.PrettyName() + " " + a.prettyVersion + " (alias of " + a.aliasOf.PrettyVersion() + ")"
}

// Unalias follows an alias chain down to the real package.
func Unalias(pkg Package) Package {
	for {
		alias, ok := pkg.(*AliasPackage)
		if !ok {
			return pkg
		}
		pkg = alias.aliasOf
	}
}

// PackageKey is the structural identity used to dedupe packages across
// repositories: name, normalized version and owning repository.
func PackageKey(pkg Package) string {
	var repo uint64
	if owner := pkg.Repository(); owner != nil {
		repo = owner.RepoID()
	}
	kind := "p"
	if _, ok := pkg.(*AliasPackage); ok {
		kind = "a"
	}
	return fmt.Sprintf("%s:%s@%d", kind, pkg.UniqueName(), repo)
}

func packageNames(pkg Package, includeProvides bool) []string {
	seen := map[string]struct{}{pkg.Name(): {}}
	for target := range pkg.Replaces() {
		seen[target] = struct{}{}
	}
	if includeProvides {
		for target := range pkg.Provides() {
			seen[target] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	_ Package = (*CompletePackage)(nil)
	_ Package = (*AliasPackage)(nil)
	_ Package = (*RootPackage)(nil)
)
