package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"composer-repos/internal/ports"
	"composer-repos/internal/types"
)

// LockArrayRepository holds the packages pinned by a lock file.
type LockArrayRepository struct {
	*ArrayRepository
}

// NewLockArrayRepository loads the packages of a lock document, including
// packages-dev when withDev is set.
func NewLockArrayRepository(doc types.LockDocument, withDev bool) (*LockArrayRepository, error) {
	repo := &LockArrayRepository{ArrayRepository: newArrayRepository(KindLock, "lock repo", nil)}
	repo.owner = repo
	entries := doc.Packages
	if withDev {
		entries = append(append([]map[string]any(nil), entries...), doc.PackagesDev...)
	}
	loader := NewPackageLoader()
	for _, entry := range entries {
		pkg, err := loader.LoadPackage(entry)
		if err != nil {
			return nil, err
		}
		if err := repo.AddPackage(pkg); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// RootPackageRepository exposes the project's own package.
type RootPackageRepository struct {
	*ArrayRepository
}

func NewRootPackageRepository(root *types.RootPackage) (*RootPackageRepository, error) {
	repo := &RootPackageRepository{ArrayRepository: newArrayRepository(KindRootPackage, "root package repo", nil)}
	repo.owner = repo
	if err := repo.AddPackage(root); err != nil {
		return nil, err
	}
	return repo, nil
}

// InstalledArrayRepository is an in-memory installed repository.
type InstalledArrayRepository struct {
	*ArrayRepository
	devPackageNames []string
}

func NewInstalledArrayRepository(packages ...types.Package) (*InstalledArrayRepository, error) {
	repo := &InstalledArrayRepository{ArrayRepository: newArrayRepository(KindInstalledArray, "installed array repo", nil)}
	repo.owner = repo
	for _, pkg := range packages {
		if err := repo.AddPackage(pkg); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// IsFresh is true while nothing has been installed.
func (r *InstalledArrayRepository) IsFresh() bool {
	n, err := r.Count(context.Background())
	return err == nil && n == 0
}

func (r *InstalledArrayRepository) DevPackageNames() []string { return r.devPackageNames }

func (r *InstalledArrayRepository) SetDevPackageNames(names []string) {
	r.devPackageNames = append([]string(nil), names...)
}

// InstalledFilesystemRepository persists installed packages through an
// InstalledStorePort, in the installed.json format.
type InstalledFilesystemRepository struct {
	*ArrayRepository
	path            string
	store           ports.InstalledStorePort
	loader          PackageLoader
	devMode         bool
	fresh           bool
	devPackageNames []string
	installPaths    map[string]string
}

func NewInstalledFilesystemRepository(path string, store ports.InstalledStorePort) *InstalledFilesystemRepository {
	repo := &InstalledFilesystemRepository{
		path:         path,
		store:        store,
		loader:       NewPackageLoader(),
		installPaths: map[string]string{},
	}
	repo.ArrayRepository = newArrayRepository(KindInstalledFilesystem, "installed repo ("+path+")", repo.load)
	repo.owner = repo
	return repo
}

func (r *InstalledFilesystemRepository) load(ctx context.Context) error {
	doc, err := r.store.ReadInstalled(r.path)
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			r.fresh = true
			return nil
		}
		return err
	}
	r.fresh = false
	r.devMode = doc.Dev
	r.devPackageNames = doc.DevPackageNames
	for _, entry := range doc.Packages {
		pkg, err := r.loader.LoadPackage(entry)
		if err != nil {
			return invalidArgument(fmt.Sprintf("invalid package in %s", r.path), err)
		}
		if path := stringValue(entry["install-path"]); path != "" {
			r.installPaths[pkg.Name()] = path
		}
		if err := r.AddPackage(pkg); err != nil {
			return err
		}
	}
	log.Ctx(ctx).Debug().Str("path", r.path).Int("packages", len(doc.Packages)).Msg("installed repository loaded")
	return nil
}

// IsFresh is true when no installed.json existed at load time.
func (r *InstalledFilesystemRepository) IsFresh() bool {
	if err := r.initialize(context.Background()); err != nil {
		return false
	}
	return r.fresh
}

func (r *InstalledFilesystemRepository) DevPackageNames() []string { return r.devPackageNames }

// DevMode reports whether the last load or write included dev packages.
func (r *InstalledFilesystemRepository) DevMode() bool { return r.devMode }

func (r *InstalledFilesystemRepository) SetDevPackageNames(names []string) {
	r.devPackageNames = append([]string(nil), names...)
}

// SetInstallPath records where name is installed, relative to the
// installed.json directory.
func (r *InstalledFilesystemRepository) SetInstallPath(name string, path string) {
	r.installPaths[name] = path
}

func (r *InstalledFilesystemRepository) InstallPath(name string) (string, bool) {
	path, ok := r.installPaths[name]
	return path, ok
}

// Reload drops packages and install paths and reads the store again.
func (r *InstalledFilesystemRepository) Reload(ctx context.Context) error {
	r.installPaths = map[string]string{}
	r.devPackageNames = nil
	return r.ArrayRepository.Reload(ctx)
}

// Write persists the non-alias packages sorted by name.
func (r *InstalledFilesystemRepository) Write(ctx context.Context, devMode bool) error {
	packages, err := r.GetPackages(ctx)
	if err != nil {
		return err
	}
	doc := types.InstalledDocument{Dev: devMode, DevPackageNames: r.devPackageNames}
	if doc.DevPackageNames == nil {
		doc.DevPackageNames = []string{}
	}
	var canonical []types.Package
	for _, pkg := range packages {
		if _, ok := pkg.(*types.AliasPackage); !ok {
			canonical = append(canonical, pkg)
		}
	}
	sort.SliceStable(canonical, func(i, j int) bool { return canonical[i].Name() < canonical[j].Name() })
	for _, pkg := range canonical {
		entry := DumpPackage(pkg)
		if path, ok := r.installPaths[pkg.Name()]; ok {
			entry["install-path"] = path
		}
		doc.Packages = append(doc.Packages, entry)
	}
	if doc.Packages == nil {
		doc.Packages = []map[string]any{}
	}
	if err := r.store.WriteInstalled(r.path, doc); err != nil {
		return err
	}
	r.fresh = false
	r.devMode = devMode
	return nil
}

var (
	_ InstalledRepositoryInterface = (*InstalledArrayRepository)(nil)
	_ InstalledRepositoryInterface = (*InstalledFilesystemRepository)(nil)
)
