package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"composer-repos/internal/core"
	"composer-repos/internal/shared"
	"composer-repos/internal/types"
)

// Depends explains which installed packages require name. With Invert it
// lists what prevents name from being installed at Constraint instead.
func (s Service) Depends(ctx context.Context, req DependsRequest) (DependsResult, error) {
	name := shared.NormalizePackageName(req.Name)
	if name == "" {
		return DependsResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("package name is required")
	}
	if req.Invert && strings.TrimSpace(req.Constraint) == "" {
		return DependsResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("a version constraint is required to explain why a package cannot be installed")
	}
	path := strings.TrimSpace(req.Installed)
	if path == "" {
		return DependsResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("an installed.json or composer.lock path is required")
	}

	local, err := s.localRepositories(path, req.Manifest, req.Dev)
	if err != nil {
		return DependsResult{}, err
	}
	installed, err := core.NewInstalledRepository(local...)
	if err != nil {
		return DependsResult{}, err
	}
	found, err := installed.FindPackagesWithReplacersAndProviders(ctx, name, nil)
	if err != nil {
		return DependsResult{}, err
	}
	if len(found) == 0 && !req.Invert {
		return DependsResult{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("could not find package " + name + " in " + path)
	}

	var constraint types.Constraint
	if strings.TrimSpace(req.Constraint) != "" {
		if constraint, err = parseConstraint(req.Constraint); err != nil {
			return DependsResult{}, err
		}
	}
	dependents, err := installed.GetDependents(ctx, []string{name}, constraint, req.Invert, req.Recursive)
	if err != nil {
		return DependsResult{}, err
	}
	return DependsResult{Name: name, Dependents: dependentEntries(dependents)}, nil
}

// localRepositories reads a composer.lock when path ends in .lock, otherwise
// an installed.json. The root package from the manifest goes first.
func (s Service) localRepositories(path string, manifest string, withDev bool) ([]core.Repository, error) {
	var repos []core.Repository
	isLock := strings.EqualFold(filepath.Ext(path), ".lock")
	manifest = strings.TrimSpace(manifest)
	if manifest == "" && isLock {
		sibling := filepath.Join(filepath.Dir(path), "composer.json")
		if _, err := os.Stat(sibling); err == nil {
			manifest = sibling
		}
	}
	if manifest != "" {
		config, err := s.Installed.ReadManifest(manifest)
		if err != nil {
			return nil, err
		}
		root, err := core.NewPackageLoader().LoadRoot(config)
		if err != nil {
			return nil, err
		}
		rootRepo, err := core.NewRootPackageRepository(root)
		if err != nil {
			return nil, err
		}
		repos = append(repos, rootRepo)
	}

	if isLock {
		doc, err := s.Installed.ReadLock(path)
		if err != nil {
			return nil, err
		}
		lock, err := core.NewLockArrayRepository(doc, withDev)
		if err != nil {
			return nil, err
		}
		return append(repos, lock), nil
	}
	return append(repos, core.NewInstalledFilesystemRepository(path, s.Installed)), nil
}

func dependentEntries(dependents []core.Dependent) []DependentEntry {
	entries := make([]DependentEntry, 0, len(dependents))
	for _, dependent := range dependents {
		entry := DependentEntry{
			Package:    dependent.Package.PrettyName(),
			Version:    dependent.Package.PrettyVersion(),
			Relation:   string(dependent.Link.Type),
			Target:     dependent.Link.Target,
			Constraint: dependent.Link.PrettyConstraint,
			Circular:   dependent.CutShort,
		}
		if len(dependent.Dependents) > 0 {
			entry.Dependents = dependentEntries(dependent.Dependents)
		}
		entries = append(entries, entry)
	}
	return entries
}
