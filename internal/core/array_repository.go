package core

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

// ArrayRepository is an in-memory ordered package container. Repositories
// that fill themselves from another source set an initializer which runs
// once on first access.
type ArrayRepository struct {
	id          uint64
	name        string
	kind        Kind
	owner       types.RepositoryRef
	initializer func(ctx context.Context) error

	initMu      sync.Mutex
	mu          sync.Mutex
	loading     bool
	initialized bool
	initErr     error
	packages    []types.Package
	byUnique    map[string]types.Package
}

func NewArrayRepository(packages ...types.Package) (*ArrayRepository, error) {
	repo := newArrayRepository(KindArray, "array repo", nil)
	for _, pkg := range packages {
		if err := repo.AddPackage(pkg); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func newArrayRepository(kind Kind, name string, initializer func(ctx context.Context) error) *ArrayRepository {
	repo := &ArrayRepository{
		id:          nextRepositoryID(),
		name:        name,
		kind:        kind,
		initializer: initializer,
	}
	repo.owner = repo
	return repo
}

func (r *ArrayRepository) RepoName() string { return r.name }
func (r *ArrayRepository) RepoID() uint64   { return r.id }
func (r *ArrayRepository) Kind() Kind       { return r.kind }

// initializingKey marks contexts derived inside a repository's own
// initializer, whose reads must not wait for the load they are part of.
type initializingKey struct{ repo *ArrayRepository }

func (r *ArrayRepository) initialize(ctx context.Context) error {
	if ctx.Value(initializingKey{r}) != nil {
		return nil
	}
	if done, err := r.initState(); done {
		return err
	}
	r.initMu.Lock()
	defer r.initMu.Unlock()
	r.mu.Lock()
	if r.initialized {
		err := r.initErr
		r.mu.Unlock()
		return err
	}
	r.packages = []types.Package{}
	r.loading = true
	init := r.initializer
	r.mu.Unlock()

	var err error
	if init != nil {
		err = init(context.WithValue(ctx, initializingKey{r}, true))
	}
	r.mu.Lock()
	r.loading = false
	r.initialized = true
	r.initErr = err
	r.mu.Unlock()
	return err
}

func (r *ArrayRepository) initState() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized, r.initErr
}

// reset drops every package and the unique-name index so the next access
// initializes again.
func (r *ArrayRepository) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pkg := range r.packages {
		detachRepository(pkg)
	}
	r.initialized = false
	r.loading = false
	r.initErr = nil
	r.packages = nil
	r.byUnique = nil
}

// AddPackage appends pkg, and the package it aliases when that one is not
// owned by a repository yet.
func (r *ArrayRepository) AddPackage(pkg types.Package) error {
	r.mu.Lock()
	loading := r.loading
	r.mu.Unlock()
	if !loading {
		if err := r.initialize(context.Background()); err != nil {
			return err
		}
	}
	if err := pkg.SetRepository(r.owner); err != nil {
		return err
	}
	r.mu.Lock()
	r.packages = append(r.packages, pkg)
	r.byUnique = nil
	r.mu.Unlock()

	if alias, ok := pkg.(*types.AliasPackage); ok {
		target := alias.AliasOf()
		if target.Repository() == nil {
			return r.AddPackage(target)
		}
	}
	return nil
}

// RemovePackage drops the first package with the same unique name. Unknown
// packages are ignored.
func (r *ArrayRepository) RemovePackage(pkg types.Package) {
	r.mu.Lock()
	defer r.mu.Unlock()
	unique := pkg.UniqueName()
	_, removedAlias := pkg.(*types.AliasPackage)
	for i, candidate := range r.packages {
		_, candidateAlias := candidate.(*types.AliasPackage)
		if candidate.UniqueName() != unique || candidateAlias != removedAlias {
			continue
		}
		if pkg.Source().Type != "" && candidate.Source().Type != "" && pkg.Source().Type != candidate.Source().Type {
			continue
		}
		r.packages = append(r.packages[:i], r.packages[i+1:]...)
		r.byUnique = nil
		return
	}
}

func (r *ArrayRepository) HasPackage(ctx context.Context, pkg types.Package) (bool, error) {
	if err := r.initialize(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byUnique == nil {
		r.byUnique = make(map[string]types.Package, len(r.packages))
		for _, candidate := range r.packages {
			r.byUnique[candidate.UniqueName()] = candidate
		}
	}
	_, ok := r.byUnique[pkg.UniqueName()]
	return ok, nil
}

func (r *ArrayRepository) FindPackage(ctx context.Context, name string, constraint types.Constraint) (types.Package, error) {
	matches, err := r.FindPackages(ctx, name, constraint)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

// loadedPackagesNamed reads what is already stored without initializing,
// for use by initializers.
func (r *ArrayRepository) loadedPackagesNamed(name string) []types.Package {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Package
	for _, pkg := range r.packages {
		if pkg.Name() == name {
			out = append(out, pkg)
		}
	}
	return out
}

func (r *ArrayRepository) FindPackages(ctx context.Context, name string, constraint types.Constraint) ([]types.Package, error) {
	packages, err := r.GetPackages(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.ToLower(name)
	var out []types.Package
	for _, pkg := range packages {
		if pkg.Name() != name {
			continue
		}
		if constraint == nil || constraint.Matches(semver.Equal(pkg.Version())) {
			out = append(out, pkg)
		}
	}
	return out, nil
}

func (r *ArrayRepository) GetPackages(ctx context.Context) ([]types.Package, error) {
	if err := r.initialize(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Package(nil), r.packages...), nil
}

func (r *ArrayRepository) Count(ctx context.Context) (int, error) {
	packages, err := r.GetPackages(ctx)
	return len(packages), err
}

func (r *ArrayRepository) LoadPackages(ctx context.Context, request LoadRequest) (types.LoadResult, error) {
	packages, err := r.GetPackages(ctx)
	if err != nil {
		return types.LoadResult{}, err
	}
	result := selectPackages(packages, request)
	log.Ctx(ctx).Debug().
		Str("repository", r.name).
		Int("requested", len(request.Names)).
		Int("loaded", len(result.Packages)).
		Msg("packages loaded")
	return result, nil
}

// selectPackages applies the LoadPackages filter to an in-memory list.
// Aliases ride along with their selected targets even when their own
// version fails the constraint.
func selectPackages(packages []types.Package, request LoadRequest) types.LoadResult {
	selected := newPackageSet()
	namesFound := newNameSet()
	for _, pkg := range packages {
		constraint, requested := request.Names[pkg.Name()]
		if !requested {
			continue
		}
		namesFound.add(pkg.Name())
		if constraint != nil && !constraint.Matches(semver.Equal(pkg.Version())) {
			continue
		}
		if !request.accepts(pkg) {
			continue
		}
		if request.AlreadyLoaded[pkg.Name()][pkg.Version()] {
			continue
		}
		selected.add(pkg)
		if alias, ok := pkg.(*types.AliasPackage); ok {
			selected.add(alias.AliasOf())
		}
	}
	for _, pkg := range packages {
		alias, ok := pkg.(*types.AliasPackage)
		if ok && selected.has(alias.AliasOf()) {
			selected.add(pkg)
		}
	}
	return types.LoadResult{NamesFound: namesFound.list(), Packages: selected.list()}
}

var whitespace = regexp.MustCompile(`\s+`)

func (r *ArrayRepository) Search(ctx context.Context, query string, mode types.SearchMode, packageType string) ([]types.SearchResult, error) {
	packages, err := r.GetPackages(ctx)
	if err != nil {
		return nil, err
	}
	return searchPackages(packages, query, mode, packageType)
}

func searchPackages(packages []types.Package, query string, mode types.SearchMode, packageType string) ([]types.SearchResult, error) {
	tokens := whitespace.Split(strings.TrimSpace(query), -1)
	if mode == types.SearchFulltext {
		for i, token := range tokens {
			tokens[i] = regexp.QuoteMeta(token)
		}
	}
	re, err := regexp.Compile(`(?i)(?:` + strings.Join(tokens, "|") + `)`)
	if err != nil {
		return nil, invalidArgument("invalid search query", err)
	}
	var out []types.SearchResult
	seen := map[string]bool{}
	for _, pkg := range packages {
		name := pkg.Name()
		if mode == types.SearchVendor {
			name, _, _ = strings.Cut(name, "/")
		}
		if seen[name] {
			continue
		}
		if packageType != "" && pkg.Type() != packageType {
			continue
		}
		text := strings.Join(pkg.Keywords(), " ") + " " + pkg.Description()
		if !re.MatchString(name) && !(mode == types.SearchFulltext && re.MatchString(text)) {
			continue
		}
		seen[name] = true
		if mode == types.SearchVendor {
			out = append(out, types.SearchResult{Name: name})
			continue
		}
		result := types.SearchResult{Name: pkg.PrettyName(), Description: pkg.Description()}
		if pkg.IsAbandoned() {
			result.Abandoned = "true"
			if replacement := pkg.ReplacementPackage(); replacement != "" {
				result.Abandoned = replacement
			}
		}
		out = append(out, result)
	}
	return out, nil
}

func (r *ArrayRepository) GetProviders(ctx context.Context, name string) ([]ProviderInfo, error) {
	packages, err := r.GetPackages(ctx)
	if err != nil {
		return nil, err
	}
	return providersOf(packages, name), nil
}

func providersOf(packages []types.Package, name string) []ProviderInfo {
	var out []ProviderInfo
	seen := map[string]bool{}
	for _, candidate := range packages {
		if seen[candidate.Name()] {
			continue
		}
		if _, ok := candidate.Provides()[name]; ok {
			seen[candidate.Name()] = true
			out = append(out, ProviderInfo{
				Name:        candidate.PrettyName(),
				Description: candidate.Description(),
				Type:        candidate.Type(),
			})
		}
	}
	return out
}

// Reload discards in-memory state and initializes again.
func (r *ArrayRepository) Reload(ctx context.Context) error {
	r.reset()
	return r.initialize(ctx)
}

// Write is a no-op for purely in-memory repositories.
func (r *ArrayRepository) Write(context.Context, bool) error {
	return nil
}

// detachRepository clears ownership so a reloaded repository can add fresh
// copies of the same packages.
func detachRepository(pkg types.Package) {
	switch p := pkg.(type) {
	case *types.CompletePackage:
		p.ClearRepository()
	case *types.RootPackage:
		p.ClearRepository()
	case *types.AliasPackage:
		p.ClearRepository()
	}
}

var _ WritableRepository = (*ArrayRepository)(nil)
