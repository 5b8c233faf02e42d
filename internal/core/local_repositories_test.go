package core

import (
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

type memoryInstalledStore struct {
	mu        sync.Mutex
	installed map[string]types.InstalledDocument
	locks     map[string]types.LockDocument
}

func newMemoryInstalledStore() *memoryInstalledStore {
	return &memoryInstalledStore{installed: map[string]types.InstalledDocument{}, locks: map[string]types.LockDocument{}}
}

func (s *memoryInstalledStore) ReadInstalled(path string) (types.InstalledDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.installed[path]
	if !ok {
		return types.InstalledDocument{}, errbuilder.New().WithCode(errbuilder.CodeNotFound).WithMsg(path + " does not exist")
	}
	return doc, nil
}

func (s *memoryInstalledStore) ReadManifest(path string) (map[string]any, error) {
	return nil, errbuilder.New().WithCode(errbuilder.CodeNotFound).WithMsg(path + " does not exist")
}

func (s *memoryInstalledStore) WriteInstalled(path string, doc types.InstalledDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installed[path] = doc
	return nil
}

func (s *memoryInstalledStore) ReadLock(path string) (types.LockDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.locks[path]
	if !ok {
		return types.LockDocument{}, errbuilder.New().WithCode(errbuilder.CodeNotFound).WithMsg(path + " does not exist")
	}
	return doc, nil
}

func TestInstalledFilesystemRepositoryRoundTrip(t *testing.T) {
	store := newMemoryInstalledStore()
	const path = "vendor/composer/installed.json"

	repo := NewInstalledFilesystemRepository(path, store)
	assert.True(t, repo.IsFresh())
	require.NoError(t, repo.AddPackage(testPackage(t, "zeta/last", "1.0.0")))
	require.NoError(t, repo.AddPackage(loadTestPackage(t, map[string]any{
		"name":    "alpha/first",
		"version": "dev-main",
		"extra":   map[string]any{"branch-alias": map[string]any{"dev-main": "2.0.x-dev"}},
	})))
	repo.SetInstallPath("alpha/first", "../alpha/first")
	repo.SetDevPackageNames([]string{"zeta/last"})
	require.NoError(t, repo.Write(t.Context(), true))
	assert.False(t, repo.IsFresh())

	doc := store.installed[path]
	require.Len(t, doc.Packages, 2)
	assert.Equal(t, "alpha/first", doc.Packages[0]["name"])
	assert.Equal(t, "../alpha/first", doc.Packages[0]["install-path"])
	assert.Equal(t, []string{"zeta/last"}, doc.DevPackageNames)
	assert.True(t, doc.Dev)

	reloaded := NewInstalledFilesystemRepository(path, store)
	packages, err := reloaded.GetPackages(t.Context())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dev-main", "2.0.x-dev", "1.0.0"}, prettyVersions(packages))
	installPath, ok := reloaded.InstallPath("alpha/first")
	assert.True(t, ok)
	assert.Equal(t, "../alpha/first", installPath)
	assert.True(t, reloaded.DevMode())
	assert.False(t, reloaded.IsFresh())
	assert.Equal(t, []string{"zeta/last"}, reloaded.DevPackageNames())
}

func TestLockArrayRepository(t *testing.T) {
	doc := types.LockDocument{
		Packages:    []map[string]any{{"name": "foo/bar", "version": "1.0.0"}},
		PackagesDev: []map[string]any{{"name": "foo/dev-tool", "version": "2.0.0"}},
	}

	withoutDev, err := NewLockArrayRepository(doc, false)
	require.NoError(t, err)
	count, err := withoutDev.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, KindLock, withoutDev.Kind())

	withDev, err := NewLockArrayRepository(doc, true)
	require.NoError(t, err)
	count, err = withDev.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	installed, err := NewInstalledRepository(withDev)
	require.NoError(t, err)
	pkg, err := installed.FindPackage(t.Context(), "foo/dev-tool", nil)
	require.NoError(t, err)
	require.NotNil(t, pkg)
}

func dependentNames(dependents []Dependent) []string {
	out := make([]string, 0, len(dependents))
	for _, dependent := range dependents {
		out = append(out, dependent.Package.Name())
	}
	return out
}

func installedTree(t *testing.T) *InstalledRepository {
	t.Helper()
	installed, err := NewInstalledArrayRepository(
		loadTestPackage(t, map[string]any{"name": "acme/app", "version": "1.0.0", "require": map[string]any{"acme/lib": "^1.0"}}),
		loadTestPackage(t, map[string]any{"name": "acme/lib", "version": "1.2.0", "require": map[string]any{"acme/util": "^2.0"}}),
		loadTestPackage(t, map[string]any{"name": "acme/util", "version": "2.0.0"}),
		loadTestPackage(t, map[string]any{"name": "acme/compat", "version": "1.0.0", "replace": map[string]any{"legacy/util": "self.version"}}),
		loadTestPackage(t, map[string]any{"name": "acme/guard", "version": "1.0.0", "conflict": map[string]any{"acme/util": "<2.0"}}),
	)
	require.NoError(t, err)
	repo, err := NewInstalledRepository(installed)
	require.NoError(t, err)
	return repo
}

func TestInstalledRepositoryGetDependents(t *testing.T) {
	repo := installedTree(t)

	dependents, err := repo.GetDependents(t.Context(), []string{"acme/util"}, nil, false, true)
	require.NoError(t, err)
	// The guard's conflict is listed before the keyed requirers.
	if diff := cmp.Diff([]string{"acme/guard", "acme/lib"}, dependentNames(dependents)); diff != "" {
		t.Fatalf("unexpected dependents (-want +got):\n%s", diff)
	}
	assert.True(t, dependents[0].CutShort)
	assert.Equal(t, "acme/util", dependents[1].Link.Target)
	if diff := cmp.Diff([]string{"acme/app"}, dependentNames(dependents[1].Dependents)); diff != "" {
		t.Fatalf("unexpected nested dependents (-want +got):\n%s", diff)
	}

	flat, err := repo.GetDependents(t.Context(), []string{"acme/util"}, nil, false, false)
	require.NoError(t, err)
	require.Len(t, flat, 2)
	assert.Empty(t, flat[1].Dependents)
}

func TestInstalledRepositoryWhyNot(t *testing.T) {
	repo := installedTree(t)

	dependents, err := repo.GetDependents(t.Context(), []string{"acme/lib"}, semver.Equal("2.0.0.0"), true, false)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"acme/app"}, dependentNames(dependents)); diff != "" {
		t.Fatalf("unexpected dependents (-want +got):\n%s", diff)
	}

	conflicts, err := repo.GetDependents(t.Context(), []string{"acme/util"}, semver.Equal("1.5.0.0"), true, false)
	require.NoError(t, err)
	assert.Contains(t, dependentNames(conflicts), "acme/lib")
}

func TestInstalledRepositoryReplacersAndProviders(t *testing.T) {
	repo := installedTree(t)

	found, err := repo.FindPackagesWithReplacersAndProviders(t.Context(), "legacy/util", nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "acme/compat", found[0].Name())

	none, err := repo.FindPackagesWithReplacersAndProviders(t.Context(), "legacy/util", constraint(t, "^3.0"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRootPackageRepositoryDependents(t *testing.T) {
	root, err := NewPackageLoader().LoadRoot(map[string]any{
		"name":        "acme/app",
		"require":     map[string]any{"foo/bar": "^1.0"},
		"require-dev": map[string]any{"foo/dev-tool": "^2.0"},
	})
	require.NoError(t, err)
	rootRepo, err := NewRootPackageRepository(root)
	require.NoError(t, err)
	assert.Equal(t, KindRootPackage, rootRepo.Kind())

	lock, err := NewLockArrayRepository(types.LockDocument{
		Packages:    []map[string]any{{"name": "foo/bar", "version": "1.0.0"}},
		PackagesDev: []map[string]any{{"name": "foo/dev-tool", "version": "2.0.0"}},
	}, true)
	require.NoError(t, err)
	installed, err := NewInstalledRepository(rootRepo, lock)
	require.NoError(t, err)

	dependents, err := installed.GetDependents(t.Context(), []string{"foo/dev-tool"}, nil, false, false)
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Equal(t, "acme/app", dependents[0].Package.Name())
	assert.Equal(t, types.LinkTypeDevRequire, dependents[0].Link.Type)
}
