package core

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"composer-repos/internal/policies"
	"composer-repos/internal/ports"
	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

// FindFlags alter RepositorySet.FindPackages.
type FindFlags int

const (
	// AllowUnacceptableStabilities skips the stability filter.
	AllowUnacceptableStabilities FindFlags = 1 << iota
	// AllowShadowedRepositories queries every repository instead of stopping
	// at the first one claiming the name.
	AllowShadowedRepositories
)

// RepositorySetOptions configures a RepositorySet.
type RepositorySetOptions struct {
	MinimumStability     types.Stability
	StabilityFlags       map[string]types.Stability
	RootAliases          []types.RootAlias
	RootReferences       map[string]string
	RootRequires         map[string]types.Constraint
	TemporaryConstraints map[string]types.Constraint
}

// PoolRequest lists what a pool must be able to answer for.
type PoolRequest struct {
	// Requires maps root requirements to their constraints.
	Requires map[string]types.Constraint
	// Fixed packages go straight into the pool; their names are never
	// loaded from repositories.
	Fixed []types.Package
	// Restrict, when non-empty, limits loading to these names.
	Restrict []string
}

// AdvisoryReport is the merged advisory answer of a RepositorySet.
type AdvisoryReport struct {
	Advisories       map[string][]types.Advisory
	UnreachableRepos []string
}

var (
	forgeDistURL = regexp.MustCompile(`(?i)^https?://(?:(?:www\.)?bitbucket\.org|(?:api\.)?github\.com|(?:www\.)?gitlab\.com)/`)
	distCommitRe = regexp.MustCompile(`(?i)(/|sha=)[a-f0-9]{40}(/|$)`)
)

type rootAliasTarget struct {
	alias           string
	aliasNormalized string
}

// RepositorySet is the priority-ordered list of repositories a resolution
// run draws candidates from.
type RepositorySet struct {
	repositories         []Repository
	stability            policies.StabilityPolicy
	rootAliases          map[string]map[string]rootAliasTarget
	rootReferences       map[string]string
	rootRequires         map[string]types.Constraint
	temporaryConstraints map[string]types.Constraint
	allowInstalled       bool
	locked               bool
}

func NewRepositorySet(options RepositorySetOptions) (*RepositorySet, error) {
	stability, err := policies.NewStabilityPolicy(options.MinimumStability, options.StabilityFlags)
	if err != nil {
		return nil, err
	}
	set := &RepositorySet{
		stability:            stability,
		rootAliases:          map[string]map[string]rootAliasTarget{},
		rootReferences:       map[string]string{},
		rootRequires:         map[string]types.Constraint{},
		temporaryConstraints: map[string]types.Constraint{},
	}
	for _, alias := range options.RootAliases {
		name := strings.ToLower(alias.Package)
		if set.rootAliases[name] == nil {
			set.rootAliases[name] = map[string]rootAliasTarget{}
		}
		set.rootAliases[name][alias.Version] = rootAliasTarget{alias: alias.Alias, aliasNormalized: alias.AliasNormalized}
	}
	for name, reference := range options.RootReferences {
		set.rootReferences[strings.ToLower(name)] = reference
	}
	for name, constraint := range options.RootRequires {
		if IsPlatformPackage(strings.ToLower(name)) {
			continue
		}
		set.rootRequires[strings.ToLower(name)] = constraint
	}
	for name, constraint := range options.TemporaryConstraints {
		set.temporaryConstraints[strings.ToLower(name)] = constraint
	}
	return set, nil
}

// AllowInstalledRepositories lets pool construction accept installed
// repositories.
func (s *RepositorySet) AllowInstalledRepositories(allow bool) { s.allowInstalled = allow }

func (s *RepositorySet) RootRequires() map[string]types.Constraint { return s.rootRequires }

func (s *RepositorySet) TemporaryConstraints() map[string]types.Constraint {
	return s.temporaryConstraints
}

func (s *RepositorySet) Repositories() []Repository {
	return append([]Repository(nil), s.repositories...)
}

// AddRepository appends repo, or the children of a composite, at the
// lowest priority.
func (s *RepositorySet) AddRepository(repo Repository) error {
	if s.locked {
		return failedPrecondition("pool has already been created, repositories can no longer be added")
	}
	switch nested := repo.(type) {
	case *CompositeRepository:
		s.repositories = append(s.repositories, nested.Repositories()...)
	case *InstalledRepository:
		s.repositories = append(s.repositories, nested.Repositories()...)
	default:
		s.repositories = append(s.repositories, repo)
	}
	return nil
}

func (s *RepositorySet) loadRequest(names map[string]types.Constraint, ignoreStability bool) LoadRequest {
	request := LoadRequest{Names: names}
	if !ignoreStability {
		request.Acceptable = s.stability.AcceptableStabilities()
		request.Flags = s.stability.Flags
	}
	return request
}

// FindPackages returns the candidates for name. Without
// AllowShadowedRepositories the first repository claiming the name hides
// every lower-priority one.
func (s *RepositorySet) FindPackages(ctx context.Context, name string, constraint types.Constraint, flags FindFlags) ([]types.Package, error) {
	name = strings.ToLower(name)
	ignoreStability := flags&AllowUnacceptableStabilities != 0
	candidates := newPackageSet()

	if flags&AllowShadowedRepositories == 0 {
		for _, repo := range s.repositories {
			result, err := repo.LoadPackages(ctx, s.loadRequest(map[string]types.Constraint{name: constraint}, ignoreStability))
			if err != nil {
				return nil, err
			}
			candidates.addAll(result.Packages)
			if slices.Contains(result.NamesFound, name) {
				log.Ctx(ctx).Debug().Str("name", name).Str("repository", repo.RepoName()).Msg("name claimed")
				break
			}
		}
		return candidates.list(), nil
	}

	for _, repo := range s.repositories {
		found, err := repo.FindPackages(ctx, name, constraint)
		if err != nil {
			return nil, err
		}
		candidates.addAll(found)
	}
	if ignoreStability {
		return candidates.list(), nil
	}
	out := []types.Package{}
	for _, pkg := range candidates.list() {
		if s.IsPackageAcceptable(pkg.Names(true), pkg.Stability()) {
			out = append(out, pkg)
		}
	}
	return out, nil
}

func (s *RepositorySet) IsPackageAcceptable(names []string, stability types.Stability) bool {
	return s.stability.IsPackageAcceptable(names, stability)
}

// GetProviders concatenates the providers of name across repositories.
func (s *RepositorySet) GetProviders(ctx context.Context, name string) ([]ProviderInfo, error) {
	providers := []ProviderInfo{}
	for _, repo := range s.repositories {
		found, err := repo.GetProviders(ctx, name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, found...)
	}
	return providers, nil
}

// GetSecurityAdvisories reports every advisory for the given names.
func (s *RepositorySet) GetSecurityAdvisories(ctx context.Context, names []string, allowPartial bool, ignoreUnreachable bool) (AdvisoryReport, error) {
	constraints := make(map[string]types.Constraint, len(names))
	for _, name := range names {
		constraints[name] = semver.MatchAll{}
	}
	return s.securityAdvisories(ctx, constraints, allowPartial, ignoreUnreachable)
}

// GetMatchingSecurityAdvisories reports the advisories affecting the exact
// versions of packages. Root aliases are skipped since they are not real
// versions.
func (s *RepositorySet) GetMatchingSecurityAdvisories(ctx context.Context, packages []types.Package, allowPartial bool, ignoreUnreachable bool) (AdvisoryReport, error) {
	constraints := map[string]types.Constraint{}
	for _, pkg := range packages {
		if alias, ok := pkg.(*types.AliasPackage); ok && alias.IsRootPackageAlias() {
			continue
		}
		exact := semver.Equal(pkg.Version())
		if previous, ok := constraints[pkg.Name()]; ok {
			constraints[pkg.Name()] = semver.NewMultiConstraint([]types.Constraint{exact, previous}, false)
			continue
		}
		constraints[pkg.Name()] = exact
	}
	return s.securityAdvisories(ctx, constraints, allowPartial, ignoreUnreachable)
}

func (s *RepositorySet) securityAdvisories(ctx context.Context, constraints map[string]types.Constraint, allowPartial bool, ignoreUnreachable bool) (AdvisoryReport, error) {
	report := AdvisoryReport{Advisories: map[string][]types.Advisory{}, UnreachableRepos: []string{}}
	for _, repo := range s.repositories {
		provider, ok, err := hasAdvisories(ctx, repo)
		if !ok && err == nil {
			continue
		}
		var result types.AdvisoryResult
		if err == nil {
			result, err = provider.GetSecurityAdvisories(ctx, constraints, allowPartial)
		}
		if err != nil {
			if ignoreUnreachable && ports.IsTransport(err) {
				log.Ctx(ctx).Warn().Err(err).Str("repository", repo.RepoName()).Msg("advisory source unreachable")
				report.UnreachableRepos = append(report.UnreachableRepos, err.Error())
				continue
			}
			return AdvisoryReport{}, err
		}
		for name, advisories := range result.Advisories {
			report.Advisories[name] = append(report.Advisories[name], advisories...)
		}
	}
	return report, nil
}

func (s *RepositorySet) checkInstalled() error {
	if s.allowInstalled {
		return nil
	}
	for _, repo := range s.repositories {
		_, installed := repo.(InstalledRepositoryInterface)
		if installed || repo.Kind().IsInstalledKind() {
			return failedPrecondition(fmt.Sprintf("the pool can not accept packages from installed repository %s", repo.RepoName()))
		}
	}
	return nil
}

// CreatePoolWithAllPackages locks the set and pools every package of every
// repository. Lazy repositories cannot take part.
func (s *RepositorySet) CreatePoolWithAllPackages(ctx context.Context) (*Pool, error) {
	if err := s.checkInstalled(); err != nil {
		return nil, err
	}
	s.locked = true
	packages := []types.Package{}
	for _, repo := range s.repositories {
		found, err := repo.GetPackages(ctx)
		if err != nil {
			return nil, err
		}
		for _, pkg := range found {
			packages = append(packages, pkg)
			if alias := s.rootAliasFor(pkg); alias != nil {
				packages = append(packages, alias)
			}
		}
	}
	return NewPool(packages), nil
}

// CreatePoolForPackage pools everything needed to answer for name alone.
func (s *RepositorySet) CreatePoolForPackage(ctx context.Context, name string) (*Pool, error) {
	name = strings.ToLower(name)
	if IsPlatformPackage(name) {
		return nil, invalidArgument(fmt.Sprintf("%s is a platform package and is never loaded into a pool by name", name), nil)
	}
	return s.CreatePool(ctx, PoolRequest{
		Requires: map[string]types.Constraint{name: nil},
		Restrict: []string{name},
	})
}

// CreatePool locks the set and loads the candidates for the request's
// requirements and, transitively, for their requirements.
func (s *RepositorySet) CreatePool(ctx context.Context, request PoolRequest) (*Pool, error) {
	if err := s.checkInstalled(); err != nil {
		return nil, err
	}
	s.locked = true
	builder := newPoolBuilder(s, request)
	packages, err := builder.build(ctx)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Debug().
		Int("repositories", len(s.repositories)).
		Int("packages", len(packages)).
		Msg("pool created")
	return NewPool(packages), nil
}

// rootAliasFor builds the root alias declared for pkg's version, if any.
func (s *RepositorySet) rootAliasFor(pkg types.Package) *types.AliasPackage {
	target, ok := s.rootAliases[pkg.Name()][pkg.Version()]
	if !ok {
		return nil
	}
	base := types.Unalias(pkg)
	alias := types.NewAliasPackage(base, target.aliasNormalized, target.alias, semver.ParseStability(target.aliasNormalized))
	alias.SetRootPackageAlias(true)
	return alias
}

// poolBuilder walks requirements breadth first. Each name is claimed by the
// first repository reporting it, and is reloaded with a widened constraint
// when a later requirement asks for versions outside what was loaded.
type poolBuilder struct {
	set        *RepositorySet
	request    PoolRequest
	restrict   map[string]bool
	fixed      map[string]bool
	loaded     map[string]types.Constraint
	versions   map[string]map[string]bool
	pending    map[string]types.Constraint
	queue      []string
	packages   *packageSet
	referenced map[string]bool
}

func newPoolBuilder(set *RepositorySet, request PoolRequest) *poolBuilder {
	builder := &poolBuilder{
		set:        set,
		request:    request,
		fixed:      map[string]bool{},
		loaded:     map[string]types.Constraint{},
		versions:   map[string]map[string]bool{},
		pending:    map[string]types.Constraint{},
		packages:   newPackageSet(),
		referenced: map[string]bool{},
	}
	if len(request.Restrict) > 0 {
		builder.restrict = map[string]bool{}
		for _, name := range request.Restrict {
			builder.restrict[strings.ToLower(name)] = true
		}
	}
	return builder
}

func (b *poolBuilder) build(ctx context.Context) ([]types.Package, error) {
	for _, pkg := range b.request.Fixed {
		b.packages.add(pkg)
		for _, name := range pkg.Names(false) {
			b.fixed[name] = true
		}
	}
	for _, pkg := range b.request.Fixed {
		b.follow(pkg)
	}
	for _, name := range sortedAnyKeys(b.request.Requires) {
		b.mark(strings.ToLower(name), b.request.Requires[name])
	}
	for len(b.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := map[string]types.Constraint{}
		for _, name := range b.queue {
			batch[name] = b.pending[name]
			delete(b.pending, name)
		}
		b.queue = nil
		if err := b.loadBatch(ctx, batch); err != nil {
			return nil, err
		}
	}
	return b.packages.list(), nil
}

// mark queues name for loading, widening an already loaded constraint when
// the new one is not the same.
func (b *poolBuilder) mark(name string, constraint types.Constraint) {
	if b.fixed[name] {
		return
	}
	if b.restrict != nil && !b.restrict[name] {
		return
	}
	if temporary, ok := b.set.temporaryConstraints[name]; ok {
		if constraint == nil {
			constraint = temporary
		} else {
			constraint = semver.NewMultiConstraint([]types.Constraint{constraint, temporary}, true)
		}
	}
	if queued, ok := b.pending[name]; ok {
		b.pending[name] = widen(queued, constraint)
		return
	}
	if previous, ok := b.loaded[name]; ok {
		if previous == nil || (constraint != nil && previous.String() == constraint.String()) {
			return
		}
		constraint = widen(previous, constraint)
	}
	b.pending[name] = constraint
	b.queue = append(b.queue, name)
}

func widen(a types.Constraint, b types.Constraint) types.Constraint {
	if a == nil || b == nil {
		return nil
	}
	if a.String() == b.String() {
		return a
	}
	return semver.NewMultiConstraint([]types.Constraint{a, b}, false)
}

func (b *poolBuilder) loadBatch(ctx context.Context, batch map[string]types.Constraint) error {
	for name, constraint := range batch {
		b.loaded[name] = constraint
	}
	for _, repo := range b.set.repositories {
		if len(batch) == 0 {
			return nil
		}
		request := b.set.loadRequest(batch, false)
		request.AlreadyLoaded = b.versions
		result, err := repo.LoadPackages(ctx, request)
		if err != nil {
			return err
		}
		for _, pkg := range result.Packages {
			b.add(pkg)
		}
		for _, name := range result.NamesFound {
			delete(batch, name)
		}
	}
	return nil
}

func (b *poolBuilder) add(pkg types.Package) {
	if b.packages.has(pkg) {
		return
	}
	b.packages.add(pkg)
	if b.versions[pkg.Name()] == nil {
		b.versions[pkg.Name()] = map[string]bool{}
	}
	b.versions[pkg.Name()][pkg.Version()] = true

	if alias := b.set.rootAliasFor(pkg); alias != nil {
		b.packages.add(alias)
	}
	b.pinReference(pkg)
	b.follow(pkg)
}

// follow queues the non-platform requirements of pkg.
func (b *poolBuilder) follow(pkg types.Package) {
	requires := pkg.Requires()
	for _, target := range sortedAnyKeys(requires) {
		if IsPlatformPackage(target) {
			continue
		}
		b.mark(target, requires[target].Constraint)
	}
}

// pinReference applies a root reference to dev versions. Dist urls of the
// big forges embed the commit and are rewritten along with it.
func (b *poolBuilder) pinReference(pkg types.Package) {
	reference, ok := b.set.rootReferences[pkg.Name()]
	if !ok || pkg.Stability() != types.StabilityDev {
		return
	}
	complete, ok := types.Unalias(pkg).(*types.CompletePackage)
	if !ok || b.referenced[types.PackageKey(complete)] {
		return
	}
	b.referenced[types.PackageKey(complete)] = true
	complete.SetSourceReference(reference)
	dist := complete.Dist()
	switch {
	case dist.URL != "" && forgeDistURL.MatchString(dist.URL):
		dist.Reference = reference
		dist.URL = distCommitRe.ReplaceAllString(dist.URL, "${1}"+reference+"${2}")
	case dist.Reference != "":
		dist.Reference = reference
	default:
		return
	}
	complete.SetDist(dist)
}
