package adapters

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"composer-repos/internal/ports"
	"composer-repos/internal/types"
)

// PackageIndexFileAdapter loads a YAML package index once per run.
type PackageIndexFileAdapter struct {
	Path   string
	cached types.PackageIndexFile
	loaded bool
}

func NewPackageIndexFileAdapter(path string) *PackageIndexFileAdapter {
	return &PackageIndexFileAdapter{Path: path}
}

func (a *PackageIndexFileAdapter) Load() (types.PackageIndexFile, error) {
	if a.loaded {
		return a.cached, nil
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return types.PackageIndexFile{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("package index file not found").
			WithCause(err)
	}
	var idx types.PackageIndexFile
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return types.PackageIndexFile{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid package index format").
			WithCause(err)
	}
	if idx.Packages == nil {
		idx.Packages = map[string][]map[string]any{}
	}
	for name, versions := range idx.Packages {
		if strings.TrimSpace(name) == "" {
			return types.PackageIndexFile{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("package index contains an empty package name")
		}
		for _, version := range versions {
			if _, ok := version["version"]; !ok {
				return types.PackageIndexFile{}, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg("package index entry for " + name + " has no version")
			}
		}
	}
	a.cached = idx
	a.loaded = true
	return idx, nil
}

const defaultPathVersion = "dev-main"

// PathManifestAdapter turns local package directories into an index. Path
// may be a glob matching several directories; each must hold a
// composer.json.
type PathManifestAdapter struct {
	Path string
}

func NewPathManifestAdapter(path string) PathManifestAdapter {
	return PathManifestAdapter{Path: path}
}

func (a PathManifestAdapter) Load() (types.PackageIndexFile, error) {
	dirs, err := filepath.Glob(a.Path)
	if err != nil {
		return types.PackageIndexFile{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid path repository pattern " + a.Path).
			WithCause(err)
	}
	sort.Strings(dirs)
	index := types.PackageIndexFile{Packages: map[string][]map[string]any{}}
	for _, dir := range dirs {
		manifest := filepath.Join(dir, "composer.json")
		data, err := os.ReadFile(manifest)
		if err != nil {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return types.PackageIndexFile{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(manifest + " does not contain valid JSON").
				WithCause(err)
		}
		name, _ := doc["name"].(string)
		if name == "" {
			return types.PackageIndexFile{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(manifest + " has no name")
		}
		if _, ok := doc["version"]; !ok {
			doc["version"] = defaultPathVersion
		}
		sum := sha1.Sum(data)
		doc["dist"] = map[string]any{
			"type":      "path",
			"url":       filepath.ToSlash(dir),
			"reference": hex.EncodeToString(sum[:]),
		}
		index.Packages[name] = append(index.Packages[name], doc)
	}
	if len(index.Packages) == 0 {
		return types.PackageIndexFile{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("the path repository " + a.Path + " matched no package directory")
	}
	return index, nil
}

var (
	_ ports.PackageIndexPort = (*PackageIndexFileAdapter)(nil)
	_ ports.PackageIndexPort = PathManifestAdapter{}
)
