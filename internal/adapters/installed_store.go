package adapters

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"composer-repos/internal/ports"
	"composer-repos/internal/types"
)

// InstalledStoreAdapter reads and writes vendor/composer/installed.json and
// composer.lock.
type InstalledStoreAdapter struct{}

func NewInstalledStoreAdapter() InstalledStoreAdapter {
	return InstalledStoreAdapter{}
}

// ReadInstalled accepts the current object format and the older bare
// package list.
func (a InstalledStoreAdapter) ReadInstalled(path string) (types.InstalledDocument, error) {
	data, err := readDocument(path, "installed file")
	if err != nil {
		return types.InstalledDocument{}, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var packages []map[string]any
		if err := json.Unmarshal(trimmed, &packages); err != nil {
			return types.InstalledDocument{}, invalidDocument(path, err)
		}
		return types.InstalledDocument{Packages: packages}, nil
	}
	var doc types.InstalledDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return types.InstalledDocument{}, invalidDocument(path, err)
	}
	return doc, nil
}

func (a InstalledStoreAdapter) WriteInstalled(path string, doc types.InstalledDocument) error {
	if doc.Packages == nil {
		doc.Packages = []map[string]any{}
	}
	if doc.DevPackageNames == nil {
		doc.DevPackageNames = []string{}
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(doc); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode installed file").
			WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create installed file directory").
			WithCause(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write installed file").
			WithCause(err)
	}
	return nil
}

func (a InstalledStoreAdapter) ReadLock(path string) (types.LockDocument, error) {
	data, err := readDocument(path, "lock file")
	if err != nil {
		return types.LockDocument{}, err
	}
	var doc types.LockDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.LockDocument{}, invalidDocument(path, err)
	}
	return doc, nil
}

func (a InstalledStoreAdapter) ReadManifest(path string) (map[string]any, error) {
	data, err := readDocument(path, "composer.json")
	if err != nil {
		return nil, err
	}
	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, invalidDocument(path, err)
	}
	return manifest, nil
}

func readDocument(path string, kind string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(kind + " not found: " + path).
			WithCause(err)
	}
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read " + kind).
			WithCause(err)
	}
	return data, nil
}

func invalidDocument(path string, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(path + " does not contain valid JSON").
		WithCause(err)
}

var _ ports.InstalledStorePort = InstalledStoreAdapter{}
