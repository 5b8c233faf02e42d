package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

func loadTestPackage(t *testing.T, config map[string]any) types.Package {
	t.Helper()
	pkg, err := NewPackageLoader().LoadPackage(config)
	require.NoError(t, err)
	return pkg
}

func testPackage(t *testing.T, name string, version string) types.Package {
	t.Helper()
	return loadTestPackage(t, map[string]any{"name": name, "version": version})
}

func testArrayRepository(t *testing.T, packages ...types.Package) *ArrayRepository {
	t.Helper()
	repo, err := NewArrayRepository(packages...)
	require.NoError(t, err)
	return repo
}

func constraint(t *testing.T, expression string) types.Constraint {
	t.Helper()
	parsed, err := semver.ParseConstraints(expression)
	require.NoError(t, err)
	return parsed
}

func prettyVersions(packages []types.Package) []string {
	out := make([]string, 0, len(packages))
	for _, pkg := range packages {
		out = append(out, pkg.PrettyVersion())
	}
	return out
}

func uniqueNames(packages []types.Package) []string {
	out := make([]string, 0, len(packages))
	for _, pkg := range packages {
		out = append(out, pkg.UniqueName())
	}
	return out
}

// memoryCache is an in-memory CachePort with controllable ages.
type memoryCache struct {
	mu       sync.Mutex
	entries  map[string][]byte
	written  map[string]time.Time
	now      func() time.Time
	readOnly bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		entries: map[string][]byte{},
		written: map[string]time.Time{},
		now:     time.Now,
	}
}

func (c *memoryCache) Read(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	return data, ok, nil
}

func (c *memoryCache) Write(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]byte(nil), data...)
	c.written[key] = c.now()
	return nil
}

func (c *memoryCache) Age(_ context.Context, key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	written, ok := c.written[key]
	if !ok {
		return 0, false
	}
	return c.now().Sub(written), true
}

func (c *memoryCache) SHA256(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}

func (c *memoryCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	delete(c.written, key)
	return nil
}

func (c *memoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]byte{}
	c.written = map[string]time.Time{}
	return nil
}

func (c *memoryCache) IsEnabled() bool  { return true }
func (c *memoryCache) IsReadOnly() bool { return c.readOnly }

func (c *memoryCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for key := range c.entries {
		out = append(out, key)
	}
	return out
}

func (c *memoryCache) has(prefix string) bool {
	for _, key := range c.keys() {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
