package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
)

var cacheKeyUnsafe = regexp.MustCompile(`(?i)[^a-z0-9._~$-]`)

// SanitizeCacheKey replaces characters that are unsafe in file names.
func SanitizeCacheKey(key string) string {
	return cacheKeyUnsafe.ReplaceAllString(key, "-")
}

// FileCacheAdapter keeps one metadata document per file under
// <root>/<namespace>. A directory that cannot be created disables the cache
// instead of failing the run.
type FileCacheAdapter struct {
	dir      string
	enabled  bool
	readOnly bool
	metrics  *Metrics
}

func NewFileCacheAdapter(root string, namespace string, readOnly bool, metrics *Metrics) *FileCacheAdapter {
	a := &FileCacheAdapter{readOnly: readOnly, metrics: metrics}
	if root == "" {
		return a
	}
	a.dir = filepath.Join(root, SanitizeCacheKey(namespace))
	if readOnly {
		info, err := os.Stat(a.dir)
		a.enabled = err == nil && info.IsDir()
		return a
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", a.dir).Msg("cache directory is not writable, cache disabled")
		return a
	}
	a.enabled = true
	return a
}

func (a *FileCacheAdapter) Dir() string {
	return a.dir
}

func (a *FileCacheAdapter) IsEnabled() bool {
	return a.enabled
}

func (a *FileCacheAdapter) IsReadOnly() bool {
	return a.readOnly
}

func (a *FileCacheAdapter) path(key string) string {
	return filepath.Join(a.dir, SanitizeCacheKey(key))
}

func (a *FileCacheAdapter) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if !a.enabled {
		return nil, false, nil
	}
	data, err := os.ReadFile(a.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		a.metrics.observeCache("file", false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read cache entry " + key).
			WithCause(err)
	}
	a.metrics.observeCache("file", true)
	log.Ctx(ctx).Debug().Str("key", key).Str("dir", a.dir).Msg("read from cache")
	return data, true, nil
}

// Write replaces the entry atomically. Read-only and disabled caches accept
// and drop writes.
func (a *FileCacheAdapter) Write(ctx context.Context, key string, data []byte) error {
	if !a.enabled || a.readOnly {
		return nil
	}
	target := a.path(key)
	tmp, err := os.CreateTemp(a.dir, ".tmp-"+filepath.Base(target)+"-*")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create cache entry " + key).
			WithCause(err)
	}
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write cache entry " + key).
			WithCause(err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to store cache entry " + key).
			WithCause(err)
	}
	log.Ctx(ctx).Debug().Str("key", key).Str("dir", a.dir).Msg("wrote cache entry")
	return nil
}

func (a *FileCacheAdapter) Age(_ context.Context, key string) (time.Duration, bool) {
	if !a.enabled {
		return 0, false
	}
	info, err := os.Stat(a.path(key))
	if err != nil {
		return 0, false
	}
	age := time.Since(info.ModTime())
	if age < 0 {
		age = 0
	}
	return age, true
}

func (a *FileCacheAdapter) SHA256(_ context.Context, key string) (string, bool) {
	if !a.enabled {
		return "", false
	}
	data, err := os.ReadFile(a.path(key))
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}

func (a *FileCacheAdapter) Remove(_ context.Context, key string) error {
	if !a.enabled || a.readOnly {
		return nil
	}
	if err := os.Remove(a.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to remove cache entry " + key).
			WithCause(err)
	}
	return nil
}

// Clear removes every entry of the namespace.
func (a *FileCacheAdapter) Clear(ctx context.Context) error {
	if !a.enabled || a.readOnly {
		return nil
	}
	if err := os.RemoveAll(a.dir); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to clear cache " + a.dir).
			WithCause(err)
	}
	log.Ctx(ctx).Debug().Str("dir", a.dir).Msg("cache cleared")
	return os.MkdirAll(a.dir, 0o755)
}
