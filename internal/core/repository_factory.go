package core

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"composer-repos/internal/ports"
	"composer-repos/internal/types"
)

// RepositoryCollaborators are the external dependencies the factory hands
// to the repositories it builds. Unused collaborators may be nil.
type RepositoryCollaborators struct {
	HTTP         ports.HTTPDownloaderPort
	CacheFor     func(namespace string) (ports.CachePort, error)
	Workers      int
	OnDegraded   func(repoName string)
	VcsDrivers   ports.VcsDriverFactoryPort
	VersionCache ports.VersionCachePort
	PackageIndex func(config types.RepositoryConfig) (ports.PackageIndexPort, error)
}

// RepositoryFactory turns repository configs into repositories.
type RepositoryFactory struct {
	collaborators RepositoryCollaborators
}

func NewRepositoryFactory(collaborators RepositoryCollaborators) *RepositoryFactory {
	return &RepositoryFactory{collaborators: collaborators}
}

// Create builds the repository for config, wrapped in a FilterRepository
// when only, exclude or canonical are set.
func (f *RepositoryFactory) Create(ctx context.Context, config types.RepositoryConfig) (Repository, error) {
	repo, err := f.create(config)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Debug().Str("type", string(config.Type)).Str("repository", repo.RepoName()).Msg("repository configured")
	if len(config.Only) == 0 && len(config.Exclude) == 0 && config.IsCanonical() && config.AdvisoriesEnabled() {
		return repo, nil
	}
	filtered, err := NewFilterRepository(repo, config)
	if err != nil {
		return nil, err
	}
	return filtered, nil
}

// CreateAll builds every config in priority order.
func (f *RepositoryFactory) CreateAll(ctx context.Context, configs []types.RepositoryConfig) ([]Repository, error) {
	repos := make([]Repository, 0, len(configs))
	for i, config := range configs {
		repo, err := f.Create(ctx, config)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Int("index", i).Str("type", string(config.Type)).Msg("repository config rejected")
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func (f *RepositoryFactory) create(config types.RepositoryConfig) (Repository, error) {
	switch config.Type {
	case types.RepositoryTypeComposer:
		if config.URL == "" {
			return nil, invalidArgument("composer repository requires a url", nil)
		}
		repoURL, err := NormalizeComposerURL(config.URL)
		if err != nil {
			return nil, err
		}
		cache := ports.CachePort(disabledCache{})
		if f.collaborators.CacheFor != nil {
			if cache, err = f.collaborators.CacheFor(CacheNamespace(repoURL)); err != nil {
				return nil, err
			}
		}
		return NewComposerRepository(config, ComposerOptions{
			HTTP:       f.collaborators.HTTP,
			Cache:      cache,
			Workers:    f.collaborators.Workers,
			OnDegraded: f.collaborators.OnDegraded,
		})
	case types.RepositoryTypePackage:
		return NewPackageRepository(config), nil
	case types.RepositoryTypePackageIndex, types.RepositoryTypePath:
		if f.collaborators.PackageIndex == nil {
			return nil, failedPrecondition(fmt.Sprintf("no package index reader configured for %s repositories", config.Type))
		}
		index, err := f.collaborators.PackageIndex(config)
		if err != nil {
			return nil, err
		}
		return NewPackageIndexRepository(config, index), nil
	case types.RepositoryTypeVcs, types.RepositoryTypeGit:
		if config.URL == "" {
			return nil, invalidArgument(fmt.Sprintf("%s repository requires a url", config.Type), nil)
		}
		if f.collaborators.VcsDrivers == nil {
			return nil, failedPrecondition("no vcs driver configured")
		}
		return NewVcsRepository(config, f.collaborators.VcsDrivers, f.collaborators.VersionCache), nil
	}
	return nil, errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("repository type %q is not registered", config.Type))
}
