package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"composer-repos/internal/ports"
	"composer-repos/internal/types"
)

// PackageRepository serves packages declared inline in configuration, or
// read from a package index file.
type PackageRepository struct {
	*ArrayRepository
	versions []map[string]any
	index    ports.PackageIndexPort
	loader   PackageLoader
}

// NewPackageRepository builds the inline "package" repository type.
func NewPackageRepository(config types.RepositoryConfig) *PackageRepository {
	repo := &PackageRepository{versions: config.Packages, loader: NewPackageLoader()}
	repo.ArrayRepository = newArrayRepository(KindPackage, packageRepoName(config, "package repo"), repo.load)
	repo.owner = repo
	return repo
}

// NewPackageIndexRepository builds the "package-index" repository type
// reading its version objects from index.
func NewPackageIndexRepository(config types.RepositoryConfig, index ports.PackageIndexPort) *PackageRepository {
	repo := &PackageRepository{index: index, loader: NewPackageLoader()}
	repo.ArrayRepository = newArrayRepository(KindPackage, packageRepoName(config, "package index repo"), repo.load)
	repo.owner = repo
	return repo
}

func packageRepoName(config types.RepositoryConfig, fallback string) string {
	switch {
	case config.Name != "":
		return fallback + " (" + config.Name + ")"
	case config.Path != "":
		return fallback + " (" + config.Path + ")"
	}
	return fallback
}

func (r *PackageRepository) load(ctx context.Context) error {
	versions := r.versions
	if r.index != nil {
		file, err := r.index.Load()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(file.Packages))
		for name := range file.Packages {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, version := range file.Packages[name] {
				if stringValue(version["name"]) == "" {
					version["name"] = name
				}
				versions = append(versions, version)
			}
		}
	}
	for _, version := range versions {
		pkg, err := r.loader.LoadPackage(version)
		if err != nil {
			return invalidArgument(fmt.Sprintf("invalid package in %s", r.RepoName()), err)
		}
		if err := r.AddPackage(pkg); err != nil {
			return err
		}
	}
	log.Ctx(ctx).Debug().Str("repository", r.RepoName()).Int("versions", len(versions)).Msg("package repository loaded")
	return nil
}
