package ports

import (
	"context"

	"composer-repos/internal/types"
)

// VcsDriverPort reads refs and composer.json documents from a version
// control repository. ComposerInformation returns (nil, nil) when the ref
// has no composer.json.
type VcsDriverPort interface {
	Initialize(ctx context.Context) error
	URL() string
	RootIdentifier(ctx context.Context) (string, error)
	Tags(ctx context.Context) (map[string]string, error)
	Branches(ctx context.Context) (map[string]string, error)
	ComposerInformation(ctx context.Context, identifier string) (map[string]any, error)
	Source(identifier string) types.SourceInfo
	Dist(identifier string) *types.DistInfo
}

// VcsDriverFactoryPort picks a driver for a repository config.
type VcsDriverFactoryPort interface {
	Driver(config types.RepositoryConfig) (VcsDriverPort, error)
}

type VersionCacheState int

const (
	VersionCacheMiss VersionCacheState = iota
	VersionCacheHit
	// VersionCacheEmpty records a ref known to have no usable composer.json.
	VersionCacheEmpty
)

// VersionCachePort remembers composer.json documents per ref identifier.
type VersionCachePort interface {
	GetVersionPackage(version string, identifier string) (map[string]any, VersionCacheState)
	StoreVersionPackage(version string, identifier string, data map[string]any) error
	StoreEmptyReference(version string, identifier string) error
}
