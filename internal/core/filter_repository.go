package core

import (
	"context"

	"composer-repos/internal/policies"
	"composer-repos/internal/types"
)

// FilterRepository hides packages of the wrapped repository whose names do
// not pass the only/exclude patterns.
type FilterRepository struct {
	id         uint64
	repo       Repository
	only       policies.NamePatterns
	exclude    policies.NamePatterns
	canonical  bool
	advisories bool
}

// NewFilterRepository reads only, exclude, canonical and security-advisories
// from config. Setting both only and exclude is an error.
func NewFilterRepository(repo Repository, config types.RepositoryConfig) (*FilterRepository, error) {
	if len(config.Only) > 0 && len(config.Exclude) > 0 {
		return nil, invalidArgument("only one of only and exclude can be specified for "+repo.RepoName(), nil)
	}
	return &FilterRepository{
		id:         nextRepositoryID(),
		repo:       repo,
		only:       policies.NewNamePatterns(config.Only),
		exclude:    policies.NewNamePatterns(config.Exclude),
		canonical:  config.IsCanonical(),
		advisories: config.AdvisoriesEnabled(),
	}, nil
}

func (f *FilterRepository) RepoName() string       { return f.repo.RepoName() }
func (f *FilterRepository) RepoID() uint64         { return f.id }
func (f *FilterRepository) Kind() Kind             { return KindFilter }
func (f *FilterRepository) Repository() Repository { return f.repo }
func (f *FilterRepository) IsCanonical() bool      { return f.canonical }

func (f *FilterRepository) isAllowed(name string) bool {
	if f.only.Empty() && f.exclude.Empty() {
		return true
	}
	if !f.only.Empty() {
		return f.only.Matches(name)
	}
	return !f.exclude.Matches(name)
}

func (f *FilterRepository) filter(packages []types.Package) []types.Package {
	out := make([]types.Package, 0, len(packages))
	for _, pkg := range packages {
		if f.isAllowed(pkg.Name()) {
			out = append(out, pkg)
		}
	}
	return out
}

func (f *FilterRepository) HasPackage(ctx context.Context, pkg types.Package) (bool, error) {
	if !f.isAllowed(pkg.Name()) {
		return false, nil
	}
	return f.repo.HasPackage(ctx, pkg)
}

func (f *FilterRepository) FindPackage(ctx context.Context, name string, constraint types.Constraint) (types.Package, error) {
	if !f.isAllowed(name) {
		return nil, nil
	}
	return f.repo.FindPackage(ctx, name, constraint)
}

func (f *FilterRepository) FindPackages(ctx context.Context, name string, constraint types.Constraint) ([]types.Package, error) {
	if !f.isAllowed(name) {
		return nil, nil
	}
	return f.repo.FindPackages(ctx, name, constraint)
}

func (f *FilterRepository) GetPackages(ctx context.Context) ([]types.Package, error) {
	packages, err := f.repo.GetPackages(ctx)
	if err != nil {
		return nil, err
	}
	return f.filter(packages), nil
}

// LoadPackages drops disallowed names before delegating. A non-canonical
// repository never claims names so lower priority repositories are still
// consulted.
func (f *FilterRepository) LoadPackages(ctx context.Context, request LoadRequest) (types.LoadResult, error) {
	names := make(map[string]types.Constraint, len(request.Names))
	for name, constraint := range request.Names {
		if f.isAllowed(name) {
			names[name] = constraint
		}
	}
	if len(names) == 0 {
		return types.LoadResult{NamesFound: []string{}, Packages: []types.Package{}}, nil
	}
	request.Names = names
	result, err := f.repo.LoadPackages(ctx, request)
	if err != nil {
		return types.LoadResult{}, err
	}
	if !f.canonical {
		result.NamesFound = []string{}
	}
	return result, nil
}

func (f *FilterRepository) Search(ctx context.Context, query string, mode types.SearchMode, packageType string) ([]types.SearchResult, error) {
	results, err := f.repo.Search(ctx, query, mode, packageType)
	if err != nil {
		return nil, err
	}
	out := make([]types.SearchResult, 0, len(results))
	for _, result := range results {
		if f.isAllowed(result.Name) {
			out = append(out, result)
		}
	}
	return out, nil
}

func (f *FilterRepository) GetProviders(ctx context.Context, name string) ([]ProviderInfo, error) {
	providers, err := f.repo.GetProviders(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]ProviderInfo, 0, len(providers))
	for _, provider := range providers {
		if f.isAllowed(provider.Name) {
			out = append(out, provider)
		}
	}
	return out, nil
}

func (f *FilterRepository) Count(ctx context.Context) (int, error) {
	packages, err := f.GetPackages(ctx)
	return len(packages), err
}

func (f *FilterRepository) HasSecurityAdvisories(ctx context.Context) (bool, error) {
	if !f.advisories {
		return false, nil
	}
	_, ok, err := hasAdvisories(ctx, f.repo)
	return ok, err
}

func (f *FilterRepository) GetSecurityAdvisories(ctx context.Context, constraints map[string]types.Constraint, allowPartial bool) (types.AdvisoryResult, error) {
	empty := types.AdvisoryResult{NamesFound: []string{}, Advisories: map[string][]types.Advisory{}}
	if !f.advisories {
		return empty, nil
	}
	provider, ok, err := hasAdvisories(ctx, f.repo)
	if err != nil {
		return empty, err
	}
	if !ok {
		return empty, nil
	}
	allowed := make(map[string]types.Constraint, len(constraints))
	for name, constraint := range constraints {
		if f.isAllowed(name) {
			allowed[name] = constraint
		}
	}
	return provider.GetSecurityAdvisories(ctx, allowed, allowPartial)
}

var (
	_ Repository       = (*FilterRepository)(nil)
	_ AdvisoryProvider = (*FilterRepository)(nil)
)
