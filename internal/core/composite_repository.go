package core

import (
	"context"
	"strings"

	"composer-repos/internal/types"
)

// CompositeRepository concatenates the answers of its children in order.
// Nested composites are flattened when added.
type CompositeRepository struct {
	id           uint64
	kind         Kind
	repositories []Repository
}

func NewCompositeRepository(repositories ...Repository) *CompositeRepository {
	repo := &CompositeRepository{id: nextRepositoryID(), kind: KindComposite}
	for _, child := range repositories {
		repo.AddRepository(child)
	}
	return repo
}

func (c *CompositeRepository) RepoID() uint64 { return c.id }
func (c *CompositeRepository) Kind() Kind     { return c.kind }

func (c *CompositeRepository) RepoName() string {
	names := make([]string, 0, len(c.repositories))
	for _, repo := range c.repositories {
		names = append(names, repo.RepoName())
	}
	return "composite repo (" + strings.Join(names, ", ") + ")"
}

// AddRepository appends repo, or the children of repo when it is itself a
// composite or installed repository.
func (c *CompositeRepository) AddRepository(repo Repository) {
	var children []Repository
	switch nested := repo.(type) {
	case *CompositeRepository:
		children = nested.repositories
	case *InstalledRepository:
		children = nested.repositories
	default:
		c.repositories = append(c.repositories, repo)
		return
	}
	for _, child := range children {
		c.AddRepository(child)
	}
}

func (c *CompositeRepository) Repositories() []Repository {
	return append([]Repository(nil), c.repositories...)
}

func (c *CompositeRepository) HasPackage(ctx context.Context, pkg types.Package) (bool, error) {
	for _, repo := range c.repositories {
		ok, err := repo.HasPackage(ctx, pkg)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (c *CompositeRepository) FindPackage(ctx context.Context, name string, constraint types.Constraint) (types.Package, error) {
	for _, repo := range c.repositories {
		pkg, err := repo.FindPackage(ctx, name, constraint)
		if err != nil || pkg != nil {
			return pkg, err
		}
	}
	return nil, nil
}

func (c *CompositeRepository) FindPackages(ctx context.Context, name string, constraint types.Constraint) ([]types.Package, error) {
	var out []types.Package
	for _, repo := range c.repositories {
		packages, err := repo.FindPackages(ctx, name, constraint)
		if err != nil {
			return nil, err
		}
		out = append(out, packages...)
	}
	return out, nil
}

func (c *CompositeRepository) GetPackages(ctx context.Context) ([]types.Package, error) {
	var out []types.Package
	for _, repo := range c.repositories {
		packages, err := repo.GetPackages(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, packages...)
	}
	return out, nil
}

func (c *CompositeRepository) LoadPackages(ctx context.Context, request LoadRequest) (types.LoadResult, error) {
	packages := newPackageSet()
	namesFound := newNameSet()
	for _, repo := range c.repositories {
		result, err := repo.LoadPackages(ctx, request)
		if err != nil {
			return types.LoadResult{}, err
		}
		packages.addAll(result.Packages)
		namesFound.addAll(result.NamesFound)
	}
	return types.LoadResult{NamesFound: namesFound.list(), Packages: packages.list()}, nil
}

func (c *CompositeRepository) Search(ctx context.Context, query string, mode types.SearchMode, packageType string) ([]types.SearchResult, error) {
	var out []types.SearchResult
	for _, repo := range c.repositories {
		results, err := repo.Search(ctx, query, mode, packageType)
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

func (c *CompositeRepository) GetProviders(ctx context.Context, name string) ([]ProviderInfo, error) {
	var out []ProviderInfo
	for _, repo := range c.repositories {
		providers, err := repo.GetProviders(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, providers...)
	}
	return out, nil
}

func (c *CompositeRepository) Count(ctx context.Context) (int, error) {
	total := 0
	for _, repo := range c.repositories {
		n, err := repo.Count(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// RemovePackage removes pkg from every writable child.
func (c *CompositeRepository) RemovePackage(pkg types.Package) {
	for _, repo := range c.repositories {
		if writable, ok := repo.(WritableRepository); ok {
			writable.RemovePackage(pkg)
		}
	}
}

var _ Repository = (*CompositeRepository)(nil)
