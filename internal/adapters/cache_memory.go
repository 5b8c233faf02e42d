package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemoryCacheEntries = 4096

type memoryEntry struct {
	data    []byte
	written time.Time
}

// MemoryCacheAdapter keeps metadata for the lifetime of the process, for
// long running callers that do not want disk state.
type MemoryCacheAdapter struct {
	entries *lru.LRU[string, memoryEntry]
	metrics *Metrics
	now     func() time.Time
}

// NewMemoryCacheAdapter holds at most size entries, each for ttl. A zero
// ttl never expires entries.
func NewMemoryCacheAdapter(size int, ttl time.Duration, metrics *Metrics) *MemoryCacheAdapter {
	if size <= 0 {
		size = defaultMemoryCacheEntries
	}
	return &MemoryCacheAdapter{
		entries: lru.NewLRU[string, memoryEntry](size, nil, ttl),
		metrics: metrics,
		now:     time.Now,
	}
}

func (a *MemoryCacheAdapter) IsEnabled() bool  { return true }
func (a *MemoryCacheAdapter) IsReadOnly() bool { return false }

func (a *MemoryCacheAdapter) Read(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := a.entries.Get(SanitizeCacheKey(key))
	a.metrics.observeCache("memory", ok)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry.data...), true, nil
}

func (a *MemoryCacheAdapter) Write(_ context.Context, key string, data []byte) error {
	a.entries.Add(SanitizeCacheKey(key), memoryEntry{data: append([]byte(nil), data...), written: a.now()})
	return nil
}

func (a *MemoryCacheAdapter) Age(_ context.Context, key string) (time.Duration, bool) {
	entry, ok := a.entries.Peek(SanitizeCacheKey(key))
	if !ok {
		return 0, false
	}
	return a.now().Sub(entry.written), true
}

func (a *MemoryCacheAdapter) SHA256(_ context.Context, key string) (string, bool) {
	entry, ok := a.entries.Peek(SanitizeCacheKey(key))
	if !ok {
		return "", false
	}
	sum := sha256.Sum256(entry.data)
	return hex.EncodeToString(sum[:]), true
}

func (a *MemoryCacheAdapter) Remove(_ context.Context, key string) error {
	a.entries.Remove(SanitizeCacheKey(key))
	return nil
}

func (a *MemoryCacheAdapter) Clear(context.Context) error {
	a.entries.Purge()
	return nil
}
