package core

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"composer-repos/internal/policies"
	"composer-repos/internal/ports"
	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

// partialPackages groups the inline packages of a lazy root document by
// package name. It is nil when the root has no inline packages.
func (r *ComposerRepository) partialPackages(ctx context.Context) (map[string][]map[string]any, error) {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	data, err := r.loadRootLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !r.hasPartialPackages {
		return nil, nil
	}
	if r.partialPackagesByName == nil {
		r.partialPackagesByName = map[string][]map[string]any{}
		packages := mapValue(data["packages"])
		for _, key := range sortedAnyKeys(packages) {
			for _, version := range versionEntries(packages[key]) {
				name := strings.ToLower(stringValue(version["name"]))
				r.partialPackagesByName[name] = append(r.partialPackagesByName[name], version)
				r.checkIndexName(ctx, key, version)
			}
		}
	}
	return r.partialPackagesByName, nil
}

// providerListingFor returns the v1 provider listing, loading provider
// includes on first use.
func (r *ComposerRepository) providerListingFor(ctx context.Context) (map[string]map[string]any, error) {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	data, err := r.loadRootLocked(ctx)
	if err != nil {
		return nil, err
	}
	if r.providerListing == nil {
		r.providerListing = map[string]map[string]any{}
		if err := r.loadProviderListings(ctx, data); err != nil {
			r.providerListing = nil
			return nil, err
		}
	}
	return r.providerListing, nil
}

func (r *ComposerRepository) loadProviderListings(ctx context.Context, data map[string]any) error {
	providers := mapValue(data["providers"])
	for name, entry := range providers {
		r.providerListing[name] = mapValue(entry)
	}
	if r.providersURL == "" {
		return nil
	}
	includes := mapValue(data["provider-includes"])
	for _, include := range sortedAnyKeys(includes) {
		sha := stringValue(mapValue(includes[include])["sha256"])
		target := r.currentBaseURL() + "/" + strings.ReplaceAll(include, "%hash%", sha)
		cacheKey := strings.NewReplacer("%hash%", "", "$", "").Replace(include)
		var included map[string]any
		if cached, ok := r.cache.SHA256(ctx, cacheKey); ok && cached == sha {
			included, _ = r.readCache(ctx, cacheKey)
		}
		if included == nil {
			fetched, err := r.fetchFile(ctx, target, cacheKey, sha, false)
			if err != nil {
				return err
			}
			included = fetched
		}
		if err := r.loadProviderListings(ctx, included); err != nil {
			return err
		}
	}
	return nil
}

// providerNames lists the names of a v1 provider listing. Lazy
// repositories cannot enumerate them.
func (r *ComposerRepository) providerNames(ctx context.Context) ([]string, error) {
	listing, err := r.providerListingFor(ctx)
	if err != nil {
		return nil, err
	}
	if r.lazyProvidersURL != "" {
		return []string{}, nil
	}
	return sortedAnyKeys(listing), nil
}

// whatProvides loads every acceptable version of name from the provider
// files or from the inline packages of the root document. Aliased
// versions yield both the real package and its alias.
func (r *ComposerRepository) whatProvides(ctx context.Context, name string, request *LoadRequest) ([]types.Package, error) {
	partial, err := r.partialPackages(ctx)
	if err != nil {
		return nil, err
	}
	var groups [][]map[string]any
	var source string
	partialVersions, loadingPartial := partial[name]
	if loadingPartial {
		groups = [][]map[string]any{partialVersions}
		source = "root file (" + sanitizeURL(r.packagesJSONURL()) + ")"
	} else {
		if IsPlatformPackage(name) || name == "__root__" {
			return nil, nil
		}
		doc, docSource, err := r.providerDocument(ctx, name, request)
		if err != nil || doc == nil {
			return nil, err
		}
		source = docSource
		packages := mapValue(doc["packages"])
		for _, key := range sortedAnyKeys(packages) {
			groups = append(groups, versionEntries(packages[key]))
		}
	}

	var toLoad []map[string]any
	seen := map[string]bool{}
	for _, versions := range groups {
		for _, version := range versions {
			versionName := strings.ToLower(stringValue(version["name"]))
			if versionName != name {
				continue
			}
			if _, inline := partial[versionName]; !loadingPartial && inline {
				continue
			}
			uid := stringValue(version["uid"])
			if uid == "" {
				uid = versionName + "@" + stringValue(version["version"])
			}
			if seen[uid] {
				continue
			}
			normalized, ok := r.normalizeVersionData(ctx, version)
			if !ok {
				continue
			}
			if request != nil && request.AlreadyLoaded[name][stringValue(normalized["version_normalized"])] {
				continue
			}
			if isVersionAcceptable(nil, name, normalized, request) {
				seen[uid] = true
				toLoad = append(toLoad, normalized)
			}
		}
	}
	packages, err := r.createPackages(toLoad, source)
	if err != nil {
		return nil, err
	}
	return expandAliases(packages), nil
}

// providerDocument resolves the per-package file of name, either through
// the lazy providers url or the signed v1 providers url.
func (r *ComposerRepository) providerDocument(ctx context.Context, name string, request *LoadRequest) (map[string]any, string, error) {
	listing, err := r.providerListingFor(ctx)
	if err != nil {
		return nil, "", err
	}
	entry, listed := listing[name]
	cacheKey := "provider-" + strings.ReplaceAll(name, "/", "$") + ".json"
	var target, hash string
	useLastModified := false
	switch {
	case r.lazyProvidersURL != "" && !listed:
		target = strings.ReplaceAll(r.lazyProvidersURL, "%package%", name)
		useLastModified = true
	case r.providersURL != "":
		if !listed {
			return nil, "", nil
		}
		hash = stringValue(entry["sha256"])
		target = strings.NewReplacer("%package%", name, "%hash%", hash).Replace(r.providersURL)
	default:
		return nil, "", nil
	}

	cachedSource := "cached file (" + cacheKey + " originating from " + sanitizeURL(target) + ")"
	if !useLastModified && hash != "" {
		if sum, ok := r.cache.SHA256(ctx, cacheKey); ok && sum == hash {
			if cached, ok := r.readCache(ctx, cacheKey); ok {
				return cached, cachedSource, nil
			}
		}
	} else if useLastModified {
		if cached, ok := r.readCache(ctx, cacheKey); ok {
			if request != nil && len(request.AlreadyLoaded[name]) > 0 {
				return cached, cachedSource, nil
			}
			if lastModified := stringValue(cached["last-modified"]); lastModified != "" {
				fresh, modified, err := r.fetchFileIfLastModified(ctx, target, cacheKey, lastModified)
				if err != nil {
					return nil, "", err
				}
				if modified {
					return fresh, "downloaded file (" + sanitizeURL(target) + ")", nil
				}
				return cached, cachedSource, nil
			}
		}
	}

	doc, err := r.fetchFile(ctx, target, cacheKey, hash, useLastModified)
	if err != nil {
		if r.lazyProvidersURL != "" && ports.IsNotFound(err) {
			if ports.StatusOf(err) == 499 {
				log.Ctx(ctx).Warn().Err(err).Msg("network disabled while loading provider file")
			}
			return emptyPackagesDocument(), "not-found file (" + sanitizeURL(target) + ")", nil
		}
		return nil, "", err
	}
	return doc, "downloaded file (" + sanitizeURL(target) + ")", nil
}

// normalizeVersionData fills a missing version_normalized and replaces the
// default-branch sentinel kept by repositories compatible with old clients.
func (r *ComposerRepository) normalizeVersionData(ctx context.Context, version map[string]any) (map[string]any, bool) {
	current := stringValue(version["version_normalized"])
	if current != "" && current != semver.DefaultBranchAlias {
		return version, true
	}
	normalized, err := semver.Normalize(stringValue(version["version"]))
	if err != nil {
		log.Ctx(ctx).Warn().
			Err(err).
			Str("repository", r.RepoName()).
			Str("package", stringValue(version["name"])).
			Str("version", stringValue(version["version"])).
			Msg("skipping version that cannot be normalized")
		return nil, false
	}
	out := cloneMap(version)
	out["version_normalized"] = normalized
	return out, true
}

// isVersionAcceptable checks the version and its branch alias against the
// stability filter and constraint; either one passing is enough.
func isVersionAcceptable(constraint types.Constraint, name string, version map[string]any, request *LoadRequest) bool {
	versions := []string{stringValue(version["version_normalized"])}
	if alias := branchAlias(version); alias != "" {
		versions = append(versions, alias)
	}
	for _, candidate := range versions {
		if request != nil && request.Acceptable != nil &&
			!policies.IsPackageAcceptable(request.Acceptable, request.Flags, []string{name}, semver.ParseStability(candidate)) {
			continue
		}
		if constraint != nil && !constraint.Matches(semver.Equal(candidate)) {
			continue
		}
		return true
	}
	return false
}

type asyncLoad struct {
	name     string
	packages []types.Package
}

// loadAsyncPackages fetches metadata-url files for every requested name
// concurrently, plus the "~dev" file when dev versions are acceptable.
// All downloads settle before it returns; the first error wins.
func (r *ComposerRepository) loadAsyncPackages(ctx context.Context, names map[string]types.Constraint, request *LoadRequest) (types.LoadResult, error) {
	if _, err := r.loadRoot(ctx); err != nil {
		return types.LoadResult{}, err
	}
	if r.lazyProvidersURL == "" {
		return types.LoadResult{}, internalError("async package loading needs a metadata-url on "+r.RepoName(), nil)
	}
	onlyDev := request != nil && len(request.Acceptable) == 1 && request.Acceptable[types.StabilityDev] && len(request.Flags) == 0
	files := map[string]types.Constraint{}
	for name, constraint := range names {
		if request == nil || request.Acceptable == nil ||
			policies.IsPackageAcceptable(request.Acceptable, request.Flags, []string{name}, types.StabilityDev) {
			files[name+"~dev"] = constraint
		}
		if !onlyDev {
			files[name] = constraint
		}
	}

	fileNames := sortedAnyKeys(files)
	results := make([]*asyncLoad, len(fileNames))
	var mu sync.Mutex
	group := new(errgroup.Group)
	group.SetLimit(r.workers)
	for i, fileName := range fileNames {
		constraint := files[fileName]
		fileName = strings.ToLower(fileName)
		realName := strings.TrimSuffix(fileName, "~dev")
		if IsPlatformPackage(realName) || realName == "__root__" {
			continue
		}
		group.Go(func() error {
			doc, source, err := r.startCachedAsyncDownload(ctx, fileName, realName)
			if err != nil {
				return err
			}
			raw, ok := mapValue(doc["packages"])[realName]
			if doc == nil || !ok {
				return nil
			}
			versions := versionEntries(raw)
			if stringValue(doc["minified"]) == minifiedFormat {
				versions = ExpandMetadata(versions)
			}
			var toLoad []map[string]any
			for _, version := range versions {
				normalized, ok := r.normalizeVersionData(ctx, version)
				if !ok {
					continue
				}
				if request != nil && request.AlreadyLoaded[realName][stringValue(normalized["version_normalized"])] {
					continue
				}
				if isVersionAcceptable(constraint, realName, normalized, request) {
					toLoad = append(toLoad, normalized)
				}
			}
			packages, err := r.createPackages(toLoad, source)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = &asyncLoad{name: realName, packages: expandAliases(packages)}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return types.LoadResult{}, err
	}

	packages := newPackageSet()
	namesFound := newNameSet()
	for _, result := range results {
		if result == nil {
			continue
		}
		namesFound.add(result.name)
		packages.addAll(result.packages)
	}
	log.Ctx(ctx).Debug().
		Str("repository", r.RepoName()).
		Int("files", len(fileNames)).
		Int("loaded", len(packages.items)).
		Msg("lazy metadata loaded")
	return types.LoadResult{NamesFound: namesFound.list(), Packages: packages.list()}, nil
}
