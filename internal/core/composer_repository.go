package core

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"composer-repos/internal/policies"
	"composer-repos/internal/ports"
	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

const (
	rootCacheKey        = "packages.json"
	defaultRootMaxAge   = 600 * time.Second
	defaultFetchWorkers = 8
)

var (
	schemePrefix     = regexp.MustCompile(`^[\w.]+\??://`)
	packagistURL     = regexp.MustCompile(`(?i)^(https?)://packagist\.org/?$`)
	jsonFileSuffix   = regexp.MustCompile(`(?:/[^/\\]+\.json)?(?:[?#].*)?$`)
	urlCredentials   = regexp.MustCompile(`^([^:/?#]+:)?//[^/?#@]+@`)
	hostPrefix       = regexp.MustCompile(`^[^:]+://[^/]*`)
	cacheNamespaceRe = regexp.MustCompile(`(?i)[^a-z0-9.]`)
	vendorListQuery  = regexp.MustCompile(`(?i)^\^((?P<vendor>[a-z0-9_.-]+)/[a-z0-9_.-]*)\*?$`)
)

// Mirror is a source or dist mirror announced by the root document.
type Mirror struct {
	URL       string
	Preferred bool
}

// ComposerOptions carries the collaborators of a ComposerRepository.
type ComposerOptions struct {
	HTTP  ports.HTTPDownloaderPort
	Cache ports.CachePort
	// Workers bounds concurrent metadata downloads.
	Workers int
	// RootMaxAge is how long a cached packages.json is used without asking
	// the server.
	RootMaxAge time.Duration
	// OnDegraded runs once, the first time cached metadata replaces a
	// failed download.
	OnDegraded func(repoName string)
}

type advisoryConfig struct {
	metadata bool
	apiURL   string
	queryAll bool
}

// ComposerRepository reads package metadata from a remote composer
// repository. Repositories announcing providers or a metadata-url are lazy:
// they fetch per-package files on demand and cannot list every package.
type ComposerRepository struct {
	*ArrayRepository
	config     types.RepositoryConfig
	http       ports.HTTPDownloaderPort
	cache      ports.CachePort
	loader     PackageLoader
	workers    int
	rootMaxAge time.Duration
	headers    map[string]string
	onDegraded func(repoName string)

	rootMu                  sync.Mutex
	rootLoaded              bool
	rootData                map[string]any
	notifyURL               string
	searchURL               string
	listURL                 string
	providersURL            string
	providersAPIURL         string
	lazyProvidersURL        string
	hasProviders            bool
	hasPartialPackages      bool
	availablePackages       map[string]bool
	availablePatterns       []*regexp.Regexp
	hasAvailablePackageList bool
	advisories              *advisoryConfig
	sourceMirrors           map[string][]Mirror
	distMirrors             []Mirror
	providerListing         map[string]map[string]any
	partialPackagesByName   map[string][]map[string]any

	memoMu            sync.Mutex
	url               string
	baseURL           string
	allowSSLDowngrade bool
	degraded          bool
	warnedIndexName   bool
	freshMetadataURLs map[string]bool
	packagesNotFound  map[string]bool
}

// NormalizeComposerURL applies the url rules of composer repositories: a
// default http scheme, no trailing slash, and packagist.org rewritten to
// repo.packagist.org.
func NormalizeComposerURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if !schemePrefix.MatchString(value) {
		value = "http://" + value
	}
	value = strings.TrimRight(value, "/")
	if strings.HasPrefix(value, "https?") {
		value = "https" + strings.TrimPrefix(value, "https?")
	}
	parsed, err := url.Parse(strings.ReplaceAll(value, `\`, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", invalidArgument("invalid url given for composer repository: "+raw, err)
	}
	if match := packagistURL.FindStringSubmatch(value); match != nil {
		value = match[1] + "://repo.packagist.org"
	}
	return value, nil
}

// CacheNamespace names the cache directory of a repository url.
func CacheNamespace(repoURL string) string {
	return cacheNamespaceRe.ReplaceAllString(sanitizeURL(repoURL), "-")
}

func sanitizeURL(raw string) string {
	return urlCredentials.ReplaceAllString(raw, "${1}//***:***@")
}

func NewComposerRepository(config types.RepositoryConfig, opts ComposerOptions) (*ComposerRepository, error) {
	if opts.HTTP == nil {
		return nil, invalidArgument("composer repository needs an http downloader", nil)
	}
	repoURL, err := NormalizeComposerURL(config.URL)
	if err != nil {
		return nil, err
	}
	cache := opts.Cache
	if cache == nil {
		cache = disabledCache{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultFetchWorkers
	}
	rootMaxAge := opts.RootMaxAge
	if rootMaxAge <= 0 {
		rootMaxAge = defaultRootMaxAge
	}
	repo := &ComposerRepository{
		config:            config,
		http:              opts.HTTP,
		cache:             cache,
		loader:            NewPackageLoader(),
		workers:           workers,
		rootMaxAge:        rootMaxAge,
		headers:           optionHeaders(config.Options),
		onDegraded:        opts.OnDegraded,
		url:               repoURL,
		baseURL:           strings.TrimRight(jsonFileSuffix.ReplaceAllString(repoURL, ""), "/"),
		allowSSLDowngrade: boolValue(config.Options["allow_ssl_downgrade"]),
		freshMetadataURLs: map[string]bool{},
		packagesNotFound:  map[string]bool{},
		sourceMirrors:     map[string][]Mirror{},
	}
	repo.ArrayRepository = newArrayRepository(KindComposer, "composer repo ("+sanitizeURL(repoURL)+")", repo.load)
	repo.owner = repo
	return repo, nil
}

// optionHeaders reads "Name: value" lines from options.http.header.
func optionHeaders(options map[string]any) map[string]string {
	headers := map[string]string{}
	httpOptions := mapValue(options["http"])
	lines := stringSlice(httpOptions["header"])
	if single, ok := httpOptions["header"].(string); ok {
		lines = []string{single}
	}
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers
}

func (r *ComposerRepository) URL() string {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	return r.url
}

func (r *ComposerRepository) currentBaseURL() string {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	return r.baseURL
}

// IsDegraded reports whether stale cached metadata has been served.
func (r *ComposerRepository) IsDegraded() bool {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	return r.degraded
}

func (r *ComposerRepository) NotifyURL() string {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	return r.notifyURL
}

// SourceMirrors returns mirrors by vcs type ("git", "hg").
func (r *ComposerRepository) SourceMirrors() map[string][]Mirror {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	return r.sourceMirrors
}

func (r *ComposerRepository) DistMirrors() []Mirror {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	return r.distMirrors
}

func (r *ComposerRepository) packagesJSONURL() string {
	current := r.URL()
	parsed, err := url.Parse(strings.ReplaceAll(current, `\`, "/"))
	if err == nil && strings.Contains(parsed.Path, ".json") {
		return current
	}
	return current + "/packages.json"
}

func (r *ComposerRepository) canonicalizeURL(value string) (string, error) {
	if value == "" {
		return "", invalidArgument("empty url in the root document of "+r.RepoName(), nil)
	}
	if strings.HasPrefix(value, "/") {
		current := r.URL()
		if host := hostPrefix.FindString(current); host != "" {
			return host + value, nil
		}
		return current, nil
	}
	return value, nil
}

// loadRoot returns the root document, fetching it at most once.
func (r *ComposerRepository) loadRoot(ctx context.Context) (map[string]any, error) {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	return r.loadRootLocked(ctx)
}

func (r *ComposerRepository) loadRootLocked(ctx context.Context) (map[string]any, error) {
	if r.rootLoaded {
		return r.rootData, nil
	}
	var data map[string]any
	if cached, ok := r.readCache(ctx, rootCacheKey); ok {
		if age, ok := r.cache.Age(ctx, rootCacheKey); ok && age <= r.rootMaxAge {
			data = cached
		} else if lastModified := stringValue(cached["last-modified"]); lastModified != "" {
			fresh, modified, err := r.fetchFileIfLastModified(ctx, r.packagesJSONURL(), rootCacheKey, lastModified)
			if err != nil {
				return nil, err
			}
			data = cached
			if modified {
				data = fresh
			}
		}
	}
	if data == nil {
		fetched, err := r.fetchFile(ctx, r.packagesJSONURL(), rootCacheKey, "", true)
		if err != nil {
			return nil, err
		}
		data = fetched
	}
	if err := r.applyRoot(ctx, data); err != nil {
		return nil, err
	}
	r.rootData = data
	r.rootLoaded = true
	return data, nil
}

func (r *ComposerRepository) applyRoot(ctx context.Context, data map[string]any) error {
	canonical := func(key string) (string, error) {
		value := stringValue(data[key])
		if value == "" {
			return "", nil
		}
		return r.canonicalizeURL(value)
	}
	var err error
	if r.notifyURL, err = canonical("notify-batch"); err != nil {
		return err
	}
	if r.notifyURL == "" {
		if r.notifyURL, err = canonical("notify"); err != nil {
			return err
		}
	}
	if r.searchURL, err = canonical("search"); err != nil {
		return err
	}
	for _, mirror := range mapSlice(data["mirrors"]) {
		preferred := boolValue(mirror["preferred"])
		if gitURL := stringValue(mirror["git-url"]); gitURL != "" {
			r.sourceMirrors["git"] = append(r.sourceMirrors["git"], Mirror{URL: gitURL, Preferred: preferred})
		}
		if hgURL := stringValue(mirror["hg-url"]); hgURL != "" {
			r.sourceMirrors["hg"] = append(r.sourceMirrors["hg"], Mirror{URL: hgURL, Preferred: preferred})
		}
		if distURL := stringValue(mirror["dist-url"]); distURL != "" {
			canonicalDist, err := r.canonicalizeURL(distURL)
			if err != nil {
				return err
			}
			r.distMirrors = append(r.distMirrors, Mirror{URL: canonicalDist, Preferred: preferred})
		}
	}

	hasInlinePackages := len(mapValue(data["packages"])) > 0
	if lazyURL, err := canonical("providers-lazy-url"); err != nil {
		return err
	} else if lazyURL != "" {
		r.lazyProvidersURL = lazyURL
		r.hasProviders = true
		r.hasPartialPackages = hasInlinePackages
	}

	if metadataURL, err := canonical("metadata-url"); err != nil {
		return err
	} else if metadataURL != "" {
		r.lazyProvidersURL = metadataURL
		r.providersURL = ""
		r.hasProviders = false
		r.hasPartialPackages = hasInlinePackages
		r.memoMu.Lock()
		r.allowSSLDowngrade = false
		r.memoMu.Unlock()
		if names := stringSlice(data["available-packages"]); len(names) > 0 {
			r.availablePackages = make(map[string]bool, len(names))
			for _, name := range names {
				r.availablePackages[strings.ToLower(name)] = true
			}
			r.hasAvailablePackageList = true
		}
		if patterns := stringSlice(data["available-package-patterns"]); len(patterns) > 0 {
			for _, pattern := range patterns {
				r.availablePatterns = append(r.availablePatterns, policies.GlobToRegexp(pattern))
			}
			r.hasAvailablePackageList = true
		}
		delete(data, "providers-url")
		delete(data, "providers")
		delete(data, "provider-includes")
		if raw := mapValue(data["security-advisories"]); raw != nil {
			config := &advisoryConfig{
				metadata: boolValue(raw["metadata"]),
				queryAll: boolValue(raw["query-all"]),
			}
			if apiURL := stringValue(raw["api-url"]); apiURL != "" {
				if config.apiURL, err = r.canonicalizeURL(apiURL); err != nil {
					return err
				}
			}
			if config.apiURL == "" && !r.hasAvailablePackageList {
				return invalidArgument(fmt.Sprintf("invalid security advisory configuration on %s: without a security-advisories.api-url the repository must list available-packages or available-package-patterns", r.RepoName()), nil)
			}
			r.advisories = config
		}
	}

	r.memoMu.Lock()
	if r.allowSSLDowngrade {
		r.url = strings.ReplaceAll(r.url, "https://", "http://")
		r.baseURL = strings.ReplaceAll(r.baseURL, "https://", "http://")
	}
	r.memoMu.Unlock()

	if providersURL, err := canonical("providers-url"); err != nil {
		return err
	} else if providersURL != "" {
		r.providersURL = providersURL
		r.hasProviders = true
	}
	if r.listURL, err = canonical("list"); err != nil {
		return err
	}
	if len(mapValue(data["providers"])) > 0 || len(mapValue(data["provider-includes"])) > 0 {
		r.hasProviders = true
	}
	if r.providersAPIURL, err = canonical("providers-api"); err != nil {
		return err
	}
	log.Ctx(ctx).Debug().
		Str("repository", r.RepoName()).
		Bool("providers", r.hasProviders).
		Str("metadata_url", r.lazyProvidersURL).
		Msg("root document loaded")
	return nil
}

// load fills the in-memory container for repositories that ship every
// package in packages.json or its includes.
func (r *ComposerRepository) load(ctx context.Context) error {
	data, err := r.loadRoot(ctx)
	if err != nil {
		return err
	}
	versions, err := r.loadIncludes(ctx, data)
	if err != nil {
		return err
	}
	packages, err := r.createPackages(versions, "root file")
	if err != nil {
		return err
	}
	for _, pkg := range expandAliases(packages) {
		if err := r.AddPackage(pkg); err != nil {
			return err
		}
	}
	return nil
}

func (r *ComposerRepository) loadIncludes(ctx context.Context, data map[string]any) ([]map[string]any, error) {
	var versions []map[string]any
	_, hasPackages := data["packages"]
	_, hasIncludes := data["includes"]
	if !hasPackages && !hasIncludes {
		for _, key := range sortedAnyKeys(data) {
			versions = append(versions, versionEntries(mapValue(data[key])["versions"])...)
		}
		return versions, nil
	}
	packages := mapValue(data["packages"])
	for _, key := range sortedAnyKeys(packages) {
		for _, version := range versionEntries(packages[key]) {
			versions = append(versions, version)
			r.checkIndexName(ctx, key, version)
		}
	}
	includes := mapValue(data["includes"])
	for _, include := range sortedAnyKeys(includes) {
		metadata := mapValue(includes[include])
		cacheKey := "include-" + include
		var included map[string]any
		if sum := stringValue(metadata["sha256"]); sum != "" {
			if cached, ok := r.cache.SHA256(ctx, cacheKey); ok && cached == sum {
				included, _ = r.readCache(ctx, cacheKey)
			}
		} else if sum := stringValue(metadata["sha1"]); sum != "" {
			if body, ok, _ := r.cache.Read(ctx, cacheKey); ok && sha1Hex(body) == sum {
				included, _ = decodeDocument(include, body)
			}
		}
		if included == nil {
			target := r.currentBaseURL() + "/" + include
			fetched, err := r.fetchFile(ctx, target, cacheKey, stringValue(metadata["sha256"]), false)
			if err != nil {
				return nil, err
			}
			included = fetched
		}
		nested, err := r.loadIncludes(ctx, included)
		if err != nil {
			return nil, err
		}
		versions = append(versions, nested...)
	}
	return versions, nil
}

func (r *ComposerRepository) checkIndexName(ctx context.Context, key string, version map[string]any) {
	name := stringValue(version["name"])
	if strings.EqualFold(key, name) {
		return
	}
	r.memoMu.Lock()
	warned := r.warnedIndexName
	r.warnedIndexName = true
	r.memoMu.Unlock()
	if !warned {
		log.Ctx(ctx).Warn().
			Str("repository", r.RepoName()).
			Str("key", key).
			Str("name", name).
			Msg("packages key does not match the name defined in the package metadata")
	}
}

// createPackages loads version objects and attaches them to the
// repository. Branch-aliased versions come back as aliases.
func (r *ComposerRepository) createPackages(versions []map[string]any, source string) ([]types.Package, error) {
	if len(versions) == 0 {
		return nil, nil
	}
	packages, err := r.loader.LoadPackages(versions)
	if err != nil {
		name := stringValue(versions[0]["name"])
		return nil, invalidArgument(fmt.Sprintf("could not load packages %s in %s from %s", name, r.RepoName(), source), err)
	}
	for _, pkg := range packages {
		if alias, ok := pkg.(*types.AliasPackage); ok {
			if err := alias.AliasOf().SetRepository(r.owner); err != nil {
				return nil, err
			}
		}
		if err := pkg.SetRepository(r.owner); err != nil {
			return nil, err
		}
	}
	return packages, nil
}

func (r *ComposerRepository) isLazy(ctx context.Context) (bool, error) {
	if _, err := r.loadRoot(ctx); err != nil {
		return false, err
	}
	return r.hasProviders || r.lazyProvidersURL != "", nil
}

// lazyProvidersRepoContains answers from available-packages and
// available-package-patterns together.
func (r *ComposerRepository) lazyProvidersRepoContains(name string) bool {
	if r.availablePackages[name] {
		return true
	}
	for _, pattern := range r.availablePatterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

func (r *ComposerRepository) GetPackages(ctx context.Context) ([]types.Package, error) {
	if _, err := r.loadRoot(ctx); err != nil {
		return nil, err
	}
	if r.lazyProvidersURL != "" {
		if r.availablePackages != nil && len(r.availablePatterns) == 0 {
			names := make(map[string]types.Constraint, len(r.availablePackages))
			for name := range r.availablePackages {
				names[name] = nil
			}
			result, err := r.loadAsyncPackages(ctx, names, nil)
			if err != nil {
				return nil, err
			}
			return result.Packages, nil
		}
		partial, err := r.partialPackages(ctx)
		if err != nil {
			return nil, err
		}
		if partial != nil {
			var versions []map[string]any
			for _, name := range sortedAnyKeys(partial) {
				versions = append(versions, partial[name]...)
			}
			packages, err := r.createPackages(versions, "packages.json inline packages")
			if err != nil {
				return nil, err
			}
			return expandAliases(packages), nil
		}
		return nil, lazyEnumerationError(r.RepoName())
	}
	if r.hasProviders {
		return nil, lazyEnumerationError(r.RepoName())
	}
	return r.ArrayRepository.GetPackages(ctx)
}

func (r *ComposerRepository) Count(ctx context.Context) (int, error) {
	packages, err := r.GetPackages(ctx)
	return len(packages), err
}

func (r *ComposerRepository) HasPackage(ctx context.Context, pkg types.Package) (bool, error) {
	lazy, err := r.isLazy(ctx)
	if err != nil {
		return false, err
	}
	if !lazy {
		return r.ArrayRepository.HasPackage(ctx, pkg)
	}
	candidates, err := r.FindPackages(ctx, pkg.Name(), nil)
	if err != nil {
		return false, err
	}
	for _, candidate := range candidates {
		if candidate.UniqueName() == pkg.UniqueName() {
			return true, nil
		}
	}
	return false, nil
}

func (r *ComposerRepository) FindPackage(ctx context.Context, name string, constraint types.Constraint) (types.Package, error) {
	matches, err := r.FindPackages(ctx, name, constraint)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

func (r *ComposerRepository) FindPackages(ctx context.Context, name string, constraint types.Constraint) ([]types.Package, error) {
	if _, err := r.loadRoot(ctx); err != nil {
		return nil, err
	}
	name = strings.ToLower(name)
	var candidates []types.Package
	switch {
	case r.lazyProvidersURL != "":
		partial, err := r.partialPackages(ctx)
		if err != nil {
			return nil, err
		}
		if _, ok := partial[name]; ok {
			candidates, err = r.whatProvides(ctx, name, nil)
			if err != nil {
				return nil, err
			}
			break
		}
		if r.hasAvailablePackageList && !r.lazyProvidersRepoContains(name) {
			return nil, nil
		}
		result, err := r.loadAsyncPackages(ctx, map[string]types.Constraint{name: constraint}, nil)
		if err != nil {
			return nil, err
		}
		candidates = result.Packages
	case r.hasProviders:
		names, err := r.providerNames(ctx)
		if err != nil {
			return nil, err
		}
		if !containsString(names, name) {
			return nil, nil
		}
		candidates, err = r.whatProvides(ctx, name, nil)
		if err != nil {
			return nil, err
		}
	default:
		return r.ArrayRepository.FindPackages(ctx, name, constraint)
	}
	var out []types.Package
	for _, candidate := range candidates {
		if candidate.Name() != name {
			continue
		}
		if constraint == nil || constraint.Matches(semver.Equal(candidate.Version())) {
			out = append(out, candidate)
		}
	}
	return out, nil
}

func (r *ComposerRepository) LoadPackages(ctx context.Context, request LoadRequest) (types.LoadResult, error) {
	if _, err := r.loadRoot(ctx); err != nil {
		return types.LoadResult{}, err
	}
	partial, err := r.partialPackages(ctx)
	if err != nil {
		return types.LoadResult{}, err
	}
	if !r.hasProviders && partial == nil && r.lazyProvidersURL == "" {
		return r.ArrayRepository.LoadPackages(ctx, request)
	}

	packages := newPackageSet()
	namesFound := newNameSet()
	remaining := make(map[string]types.Constraint, len(request.Names))
	for name, constraint := range request.Names {
		remaining[name] = constraint
	}
	if r.hasProviders || partial != nil {
		for _, name := range sortedAnyKeys(request.Names) {
			constraint := request.Names[name]
			if _, ok := partial[name]; !r.hasProviders && !ok {
				continue
			}
			candidates, err := r.whatProvides(ctx, name, &request)
			if err != nil {
				return types.LoadResult{}, err
			}
			matches := newPackageSet()
			for _, candidate := range candidates {
				if candidate.Name() != name {
					return types.LoadResult{}, internalError("provider lookup returned "+candidate.Name()+" for "+name, nil)
				}
				namesFound.add(name)
				if constraint == nil || constraint.Matches(semver.Equal(candidate.Version())) {
					matches.add(candidate)
					if alias, ok := candidate.(*types.AliasPackage); ok {
						matches.add(alias.AliasOf())
					}
				}
			}
			for _, candidate := range candidates {
				if alias, ok := candidate.(*types.AliasPackage); ok && matches.has(alias.AliasOf()) {
					matches.add(candidate)
				}
			}
			packages.addAll(matches.list())
			delete(remaining, name)
		}
	}
	if r.lazyProvidersURL != "" && len(remaining) > 0 {
		if r.hasAvailablePackageList {
			for name := range remaining {
				if !r.lazyProvidersRepoContains(strings.ToLower(name)) {
					delete(remaining, name)
				}
			}
		}
		if len(remaining) > 0 {
			result, err := r.loadAsyncPackages(ctx, remaining, &request)
			if err != nil {
				return types.LoadResult{}, err
			}
			packages.addAll(result.Packages)
			namesFound.addAll(result.NamesFound)
		}
	}
	log.Ctx(ctx).Debug().
		Str("repository", r.RepoName()).
		Int("requested", len(request.Names)).
		Int("loaded", len(packages.items)).
		Msg("packages loaded")
	return types.LoadResult{NamesFound: namesFound.list(), Packages: packages.list()}, nil
}

// GetPackageNames lists package names, optionally filtered by a glob.
func (r *ComposerRepository) GetPackageNames(ctx context.Context, filter string) ([]string, error) {
	if _, err := r.loadRoot(ctx); err != nil {
		return nil, err
	}
	keep := func(names []string) []string { return names }
	if filter != "" {
		re := policies.GlobToRegexp(filter)
		keep = func(names []string) []string {
			out := []string{}
			for _, name := range names {
				if re.MatchString(name) {
					out = append(out, name)
				}
			}
			return out
		}
	}
	if r.lazyProvidersURL != "" {
		if r.availablePackages != nil {
			return keep(sortedAnyKeys(r.availablePackages)), nil
		}
		if r.listURL != "" {
			return r.loadPackageList(ctx, filter)
		}
		partial, err := r.partialPackages(ctx)
		if err != nil {
			return nil, err
		}
		if partial != nil {
			return keep(sortedAnyKeys(partial)), nil
		}
		return []string{}, nil
	}
	if r.hasProviders {
		names, err := r.providerNames(ctx)
		if err != nil {
			return nil, err
		}
		return keep(names), nil
	}
	packages, err := r.GetPackages(ctx)
	if err != nil {
		return nil, err
	}
	seen := newNameSet()
	for _, pkg := range packages {
		seen.add(pkg.PrettyName())
	}
	return keep(seen.list()), nil
}

func (r *ComposerRepository) loadPackageList(ctx context.Context, filter string) ([]string, error) {
	target := r.listURL
	if filter != "" {
		target += "?filter=" + url.QueryEscape(filter)
	}
	data, err := r.getDocument(ctx, target)
	if err != nil {
		return nil, err
	}
	names := stringSlice(data["packageNames"])
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (r *ComposerRepository) Search(ctx context.Context, query string, mode types.SearchMode, packageType string) ([]types.SearchResult, error) {
	if _, err := r.loadRoot(ctx); err != nil {
		return nil, err
	}
	if r.searchURL != "" && mode == types.SearchFulltext {
		target := strings.NewReplacer("%query%", url.QueryEscape(query), "%type%", url.QueryEscape(packageType)).Replace(r.searchURL)
		data, err := r.getDocument(ctx, target)
		if err != nil {
			return nil, err
		}
		results := []types.SearchResult{}
		for _, hit := range mapSlice(data["results"]) {
			if boolValue(hit["virtual"]) {
				continue
			}
			result := types.SearchResult{
				Name:        stringValue(hit["name"]),
				Description: stringValue(hit["description"]),
				URL:         stringValue(hit["url"]),
			}
			switch abandoned := hit["abandoned"].(type) {
			case bool:
				if abandoned {
					result.Abandoned = "true"
				}
			case string:
				result.Abandoned = abandoned
			}
			results = append(results, result)
		}
		return results, nil
	}

	if mode == types.SearchVendor {
		names, err := r.GetPackageNames(ctx, "")
		if err != nil {
			return nil, err
		}
		var quoted []string
		for _, token := range strings.Fields(query) {
			quoted = append(quoted, regexp.QuoteMeta(token))
		}
		re, err := regexp.Compile(`(?i)^(?:` + strings.Join(quoted, "|") + `)`)
		if err != nil {
			return nil, invalidArgument("invalid search query", err)
		}
		vendors := newNameSet()
		for _, name := range names {
			vendor, _, _ := strings.Cut(name, "/")
			if re.MatchString(vendor) {
				vendors.add(vendor)
			}
		}
		results := []types.SearchResult{}
		for _, vendor := range vendors.list() {
			results = append(results, types.SearchResult{Name: vendor})
		}
		return results, nil
	}

	if r.hasProviders || r.lazyProvidersURL != "" {
		if match := vendorListQuery.FindStringSubmatch(query); match != nil && r.listURL != "" {
			vendor := match[vendorListQuery.SubexpIndex("vendor")]
			target := r.listURL + "?vendor=" + url.QueryEscape(vendor) + "&filter=" + url.QueryEscape(match[1]+"*")
			data, err := r.getDocument(ctx, target)
			if err != nil {
				return nil, err
			}
			results := []types.SearchResult{}
			for _, name := range stringSlice(data["packageNames"]) {
				results = append(results, types.SearchResult{Name: name})
			}
			return results, nil
		}
		re, err := regexp.Compile(`(?i)(?:` + strings.Join(whitespace.Split(strings.TrimSpace(query), -1), "|") + `)`)
		if err != nil {
			return nil, invalidArgument("invalid search query", err)
		}
		names, err := r.GetPackageNames(ctx, "")
		if err != nil {
			return nil, err
		}
		results := []types.SearchResult{}
		for _, name := range names {
			if re.MatchString(name) {
				results = append(results, types.SearchResult{Name: name})
			}
		}
		return results, nil
	}
	return r.ArrayRepository.Search(ctx, query, mode, packageType)
}

func (r *ComposerRepository) GetProviders(ctx context.Context, name string) ([]ProviderInfo, error) {
	if _, err := r.loadRoot(ctx); err != nil {
		return nil, err
	}
	out := []ProviderInfo{}
	seen := map[string]bool{}
	if r.providersAPIURL != "" {
		data, err := r.getDocument(ctx, strings.ReplaceAll(r.providersAPIURL, "%package%", name))
		if err != nil {
			if ports.StatusOf(err) == 404 {
				return out, nil
			}
			return nil, err
		}
		for _, provider := range mapSlice(data["providers"]) {
			providerName := stringValue(provider["name"])
			if seen[providerName] {
				continue
			}
			seen[providerName] = true
			out = append(out, ProviderInfo{
				Name:        providerName,
				Description: stringValue(provider["description"]),
				Type:        stringValue(provider["type"]),
			})
		}
		return out, nil
	}
	partial, err := r.partialPackages(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedAnyKeys(partial) {
		for _, candidate := range partial[key] {
			candidateName := stringValue(candidate["name"])
			if seen[candidateName] {
				continue
			}
			if _, ok := mapValue(candidate["provide"])[name]; !ok {
				continue
			}
			seen[candidateName] = true
			packageType := stringValue(candidate["type"])
			out = append(out, ProviderInfo{Name: candidateName, Description: stringValue(candidate["description"]), Type: packageType})
		}
	}
	if !r.hasProviders && r.lazyProvidersURL == "" {
		providers, err := r.ArrayRepository.GetProviders(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, provider := range providers {
			if !seen[provider.Name] {
				seen[provider.Name] = true
				out = append(out, provider)
			}
		}
	}
	return out, nil
}

// expandAliases places the target of every alias right before it.
func expandAliases(packages []types.Package) []types.Package {
	out := make([]types.Package, 0, len(packages))
	for _, pkg := range packages {
		if alias, ok := pkg.(*types.AliasPackage); ok {
			out = append(out, alias.AliasOf())
		}
		out = append(out, pkg)
	}
	return out
}

// versionEntries accepts both the list form of v2 metadata and the
// version-keyed map of v1 documents.
func versionEntries(value any) []map[string]any {
	if byVersion := mapValue(value); byVersion != nil {
		out := make([]map[string]any, 0, len(byVersion))
		for _, key := range sortedAnyKeys(byVersion) {
			if entry := mapValue(byVersion[key]); entry != nil {
				out = append(out, entry)
			}
		}
		return out
	}
	return mapSlice(value)
}

func sortedAnyKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ Repository       = (*ComposerRepository)(nil)
	_ AdvisoryProvider = (*ComposerRepository)(nil)
)
