package core

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/ports"
	"composer-repos/internal/types"
)

type fakeVcsDriver struct {
	root     string
	tags     map[string]string
	branches map[string]string
	files    map[string]map[string]any
	errs     map[string]error

	mu    sync.Mutex
	reads map[string]int
}

func (d *fakeVcsDriver) Initialize(context.Context) error { return nil }
func (d *fakeVcsDriver) URL() string                      { return "https://example.org/acme/lib.git" }

func (d *fakeVcsDriver) RootIdentifier(context.Context) (string, error) { return d.root, nil }

func (d *fakeVcsDriver) Tags(context.Context) (map[string]string, error) { return d.tags, nil }

func (d *fakeVcsDriver) Branches(context.Context) (map[string]string, error) {
	return d.branches, nil
}

func (d *fakeVcsDriver) ComposerInformation(_ context.Context, identifier string) (map[string]any, error) {
	d.mu.Lock()
	if d.reads == nil {
		d.reads = map[string]int{}
	}
	if ref, ok := d.branches[identifier]; ok {
		identifier = ref
	}
	d.reads[identifier]++
	d.mu.Unlock()
	if err := d.errs[identifier]; err != nil {
		return nil, err
	}
	data, ok := d.files[identifier]
	if !ok {
		return nil, nil
	}
	return cloneMap(data), nil
}

func (d *fakeVcsDriver) Source(identifier string) types.SourceInfo {
	return types.SourceInfo{Type: "git", URL: d.URL(), Reference: identifier}
}

func (d *fakeVcsDriver) Dist(identifier string) *types.DistInfo {
	return &types.DistInfo{Type: "zip", URL: "https://example.org/archive/" + identifier + ".zip"}
}

func (d *fakeVcsDriver) readCount(identifier string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads[identifier]
}

type fakeVcsDrivers struct {
	driver ports.VcsDriverPort
}

func (f fakeVcsDrivers) Driver(types.RepositoryConfig) (ports.VcsDriverPort, error) {
	return f.driver, nil
}

type memoryVersionCache struct {
	mu      sync.Mutex
	entries map[string]map[string]any
	empty   map[string]bool
}

func newMemoryVersionCache() *memoryVersionCache {
	return &memoryVersionCache{entries: map[string]map[string]any{}, empty: map[string]bool{}}
}

func (c *memoryVersionCache) GetVersionPackage(version string, identifier string) (map[string]any, ports.VersionCacheState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := version + "@" + identifier
	if c.empty[key] {
		return nil, ports.VersionCacheEmpty
	}
	if data, ok := c.entries[key]; ok {
		return cloneMap(data), ports.VersionCacheHit
	}
	return nil, ports.VersionCacheMiss
}

func (c *memoryVersionCache) StoreVersionPackage(version string, identifier string, data map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[version+"@"+identifier] = cloneMap(data)
	return nil
}

func (c *memoryVersionCache) StoreEmptyReference(version string, identifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.empty[version+"@"+identifier] = true
	return nil
}

func acmeDriver() *fakeVcsDriver {
	return &fakeVcsDriver{
		root:     "main",
		tags:     map[string]string{"v1.0.0": "t1", "v1.1.0": "t2", "junk": "t3", "v0.9.0": "t0"},
		branches: map[string]string{"main": "b1", "1.x": "b2"},
		files: map[string]map[string]any{
			"b1": {"name": "acme/lib"},
			"b2": {"name": "acme/lib"},
			"t1": {"name": "acme/lib"},
			"t2": {"name": "acme/renamed", "version": "1.1.0"},
			"t3": {"name": "acme/lib"},
		},
	}
}

func vcsConfig() types.RepositoryConfig {
	return types.RepositoryConfig{Type: types.RepositoryTypeVcs, URL: "https://example.org/acme/lib.git"}
}

func TestVcsRepositoryLoadsTagsAndBranches(t *testing.T) {
	driver := acmeDriver()
	repo := NewVcsRepository(vcsConfig(), fakeVcsDrivers{driver: driver}, nil)

	packages, err := repo.GetPackages(t.Context())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1.0.0", "1.1.0", "dev-main", "9999999-dev", "1.x-dev"}, prettyVersions(packages))
	for _, pkg := range packages {
		assert.Equal(t, "acme/lib", pkg.Name())
	}

	tagged, err := repo.FindPackage(t.Context(), "acme/lib", constraint(t, "1.1.0"))
	require.NoError(t, err)
	require.NotNil(t, tagged)
	assert.Equal(t, types.SourceInfo{Type: "git", URL: driver.URL(), Reference: "t2"}, tagged.Source())
	assert.Equal(t, "t2", tagged.Dist().Reference)

	main, err := repo.FindPackage(t.Context(), "acme/lib", constraint(t, "dev-main"))
	require.NoError(t, err)
	require.NotNil(t, main)
	assert.True(t, types.Unalias(main).IsDefaultBranch())

	assert.Equal(t, []string{"t0"}, repo.EmptyReferences())
	assert.NotEmpty(t, repo.Warnings())
}

func TestVcsRepositoryVersionCache(t *testing.T) {
	cache := newMemoryVersionCache()
	first := acmeDriver()
	_, err := NewVcsRepository(vcsConfig(), fakeVcsDrivers{driver: first}, cache).GetPackages(t.Context())
	require.NoError(t, err)

	second := acmeDriver()
	repo := NewVcsRepository(vcsConfig(), fakeVcsDrivers{driver: second}, cache)
	count, err := repo.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	for _, identifier := range []string{"t0", "t1", "t2", "b2"} {
		assert.Zero(t, second.readCount(identifier), identifier)
	}
	assert.Equal(t, []string{"t0"}, repo.EmptyReferences())
}

func TestVcsRepositoryErrors(t *testing.T) {
	t.Run("no composer.json anywhere", func(t *testing.T) {
		driver := &fakeVcsDriver{root: "main", branches: map[string]string{"main": "b1"}}
		_, err := NewVcsRepository(vcsConfig(), fakeVcsDrivers{driver: driver}, nil).GetPackages(t.Context())
		require.Error(t, err)
		assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
	})

	t.Run("systemic transport failure", func(t *testing.T) {
		driver := acmeDriver()
		driver.errs = map[string]error{"t1": &ports.TransportError{URL: "https://example.org", Status: http.StatusForbidden}}
		_, err := NewVcsRepository(vcsConfig(), fakeVcsDrivers{driver: driver}, nil).GetPackages(t.Context())
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, ports.StatusOf(err))
	})

	t.Run("missing branch file is skipped", func(t *testing.T) {
		driver := acmeDriver()
		driver.errs = map[string]error{"b2": &ports.TransportError{URL: "https://example.org", Status: http.StatusNotFound}}
		repo := NewVcsRepository(vcsConfig(), fakeVcsDrivers{driver: driver}, nil)
		count, err := repo.Count(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 4, count)
		assert.Contains(t, repo.EmptyReferences(), "b2")
	})
}
