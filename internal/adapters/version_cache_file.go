package adapters

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"composer-repos/internal/ports"
)

// emptyReferenceMarker is stored for refs without a usable composer.json.
const emptyReferenceMarker = "null"

// VersionCacheFileAdapter keeps the composer.json read at each VCS ref so
// later runs skip the driver for refs they already know. Entries are keyed
// by version and commit, so a moved tag is read again.
type VersionCacheFileAdapter struct {
	Dir string
}

func NewVersionCacheFileAdapter(dir string) VersionCacheFileAdapter {
	return VersionCacheFileAdapter{Dir: dir}
}

func (a VersionCacheFileAdapter) path(version string, identifier string) string {
	return filepath.Join(a.Dir, SanitizeCacheKey(version)+"-"+SanitizeCacheKey(identifier)+".json")
}

func (a VersionCacheFileAdapter) GetVersionPackage(version string, identifier string) (map[string]any, ports.VersionCacheState) {
	if a.Dir == "" {
		return nil, ports.VersionCacheMiss
	}
	data, err := os.ReadFile(a.path(version, identifier))
	if err != nil {
		return nil, ports.VersionCacheMiss
	}
	if string(data) == emptyReferenceMarker {
		return nil, ports.VersionCacheEmpty
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return nil, ports.VersionCacheMiss
	}
	return doc, ports.VersionCacheHit
}

func (a VersionCacheFileAdapter) StoreVersionPackage(version string, identifier string, data map[string]any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to encode cached version " + version).
			WithCause(err)
	}
	return a.write(version, identifier, encoded)
}

func (a VersionCacheFileAdapter) StoreEmptyReference(version string, identifier string) error {
	return a.write(version, identifier, []byte(emptyReferenceMarker))
}

func (a VersionCacheFileAdapter) write(version string, identifier string, data []byte) error {
	if a.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create version cache directory").
			WithCause(err)
	}
	if err := os.WriteFile(a.path(version, identifier), data, 0o644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write version cache entry").
			WithCause(err)
	}
	return nil
}

// Clear drops every cached version.
func (a VersionCacheFileAdapter) Clear() error {
	if a.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(a.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to clear version cache").
			WithCause(err)
	}
	return nil
}

var _ ports.VersionCachePort = VersionCacheFileAdapter{}
