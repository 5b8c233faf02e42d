package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"composer-repos/internal/policies"
	"composer-repos/internal/types"
)

// Kind is the closed set of repository implementations.
type Kind string

const (
	KindArray               Kind = "array"
	KindPackage             Kind = "package"
	KindLock                Kind = "lock"
	KindInstalledArray      Kind = "installed-array"
	KindInstalledFilesystem Kind = "installed-filesystem"
	KindRootPackage         Kind = "root-package"
	KindPlatform            Kind = "platform"
	KindComposer            Kind = "composer"
	KindVcs                 Kind = "vcs"
	KindComposite           Kind = "composite"
	KindInstalled           Kind = "installed"
	KindFilter              Kind = "filter"
)

// IsInstalledKind reports kinds describing what is already installed rather
// than what may be installed.
func (k Kind) IsInstalledKind() bool {
	switch k {
	case KindInstalledArray, KindInstalledFilesystem, KindInstalled:
		return true
	}
	return false
}

// ProviderInfo describes a package providing a virtual name.
type ProviderInfo struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type" yaml:"type"`
}

// LoadRequest bundles the arguments of LoadPackages. Names maps each package
// name to an optional constraint (nil matches everything). AlreadyLoaded
// holds name -> normalized version pairs to skip.
type LoadRequest struct {
	Names         map[string]types.Constraint
	Acceptable    map[types.Stability]bool
	Flags         map[string]types.Stability
	AlreadyLoaded map[string]map[string]bool
}

// accepts applies the stability filter. A nil Acceptable set disables it.
func (r LoadRequest) accepts(pkg types.Package) bool {
	if r.Acceptable == nil {
		return true
	}
	return policies.IsPackageAcceptable(r.Acceptable, r.Flags, pkg.Names(true), pkg.Stability())
}

// Repository is the query surface shared by every repository kind.
type Repository interface {
	types.RepositoryRef
	Kind() Kind
	HasPackage(ctx context.Context, pkg types.Package) (bool, error)
	FindPackage(ctx context.Context, name string, constraint types.Constraint) (types.Package, error)
	FindPackages(ctx context.Context, name string, constraint types.Constraint) ([]types.Package, error)
	GetPackages(ctx context.Context) ([]types.Package, error)
	LoadPackages(ctx context.Context, request LoadRequest) (types.LoadResult, error)
	Search(ctx context.Context, query string, mode types.SearchMode, packageType string) ([]types.SearchResult, error)
	GetProviders(ctx context.Context, name string) ([]ProviderInfo, error)
	Count(ctx context.Context) (int, error)
}

// AdvisoryProvider is implemented by repositories that can report security
// advisories.
type AdvisoryProvider interface {
	HasSecurityAdvisories(ctx context.Context) (bool, error)
	GetSecurityAdvisories(ctx context.Context, constraints map[string]types.Constraint, allowPartial bool) (types.AdvisoryResult, error)
}

// WritableRepository can be mutated and persisted.
type WritableRepository interface {
	Repository
	AddPackage(pkg types.Package) error
	RemovePackage(pkg types.Package)
	Reload(ctx context.Context) error
	Write(ctx context.Context, devMode bool) error
}

// InstalledRepositoryInterface marks repositories describing installed
// state.
type InstalledRepositoryInterface interface {
	WritableRepository
	IsFresh() bool
	DevPackageNames() []string
	SetDevPackageNames(names []string)
}

var repositoryIDs atomic.Uint64

func nextRepositoryID() uint64 {
	return repositoryIDs.Add(1)
}

func lazyEnumerationError(repoName string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("%s is lazy and cannot list all of its packages", repoName))
}

func hasAdvisories(ctx context.Context, repo Repository) (AdvisoryProvider, bool, error) {
	provider, ok := repo.(AdvisoryProvider)
	if !ok {
		return nil, false, nil
	}
	has, err := provider.HasSecurityAdvisories(ctx)
	if err != nil || !has {
		return nil, false, err
	}
	return provider, true, nil
}
