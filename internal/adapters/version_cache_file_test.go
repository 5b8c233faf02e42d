package adapters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/ports"
)

func TestVersionCacheFileAdapter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "versions")
	cache := NewVersionCacheFileAdapter(dir)

	_, state := cache.GetVersionPackage("v1.0.0", "abc123")
	assert.Equal(t, ports.VersionCacheMiss, state)

	require.NoError(t, cache.StoreVersionPackage("v1.0.0", "abc123", map[string]any{"name": "acme/lib", "version": "v1.0.0"}))
	require.NoError(t, cache.StoreEmptyReference("v0.1.0", "def456"))

	data, state := cache.GetVersionPackage("v1.0.0", "abc123")
	require.Equal(t, ports.VersionCacheHit, state)
	assert.Equal(t, map[string]any{"name": "acme/lib", "version": "v1.0.0"}, data)

	_, state = cache.GetVersionPackage("v0.1.0", "def456")
	assert.Equal(t, ports.VersionCacheEmpty, state)

	_, state = cache.GetVersionPackage("v1.0.0", "moved")
	assert.Equal(t, ports.VersionCacheMiss, state, "a moved tag is read again")

	require.NoError(t, os.WriteFile(cache.path("dev-main", "broken"), []byte("{"), 0o644))
	_, state = cache.GetVersionPackage("dev-main", "broken")
	assert.Equal(t, ports.VersionCacheMiss, state)

	require.NoError(t, cache.Clear())
	_, state = cache.GetVersionPackage("v1.0.0", "abc123")
	assert.Equal(t, ports.VersionCacheMiss, state)
}

func TestVersionCacheFileAdapterDisabled(t *testing.T) {
	cache := NewVersionCacheFileAdapter("")
	require.NoError(t, cache.StoreEmptyReference("v1.0.0", "abc"))
	_, state := cache.GetVersionPackage("v1.0.0", "abc")
	assert.Equal(t, ports.VersionCacheMiss, state)
}
