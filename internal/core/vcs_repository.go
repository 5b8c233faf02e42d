package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"composer-repos/internal/ports"
	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

var (
	tagDevSuffix        = regexp.MustCompile(`(?i)[.-]?dev$`)
	tagDevMarker        = regexp.MustCompile(`(?i)(^dev-|[.-]?dev$)`)
	prettyBranchVersion = regexp.MustCompile(`(\.9{7})+`)
)

// VcsRepository derives one package per tag and branch of a version
// control repository.
type VcsRepository struct {
	*ArrayRepository
	config       types.RepositoryConfig
	drivers      ports.VcsDriverFactoryPort
	versionCache ports.VersionCachePort
	loader       PackageLoader

	packageName     string
	emptyReferences []string
	warnings        []string
}

// NewVcsRepository builds a repository over config.URL. versionCache may be
// nil.
func NewVcsRepository(config types.RepositoryConfig, drivers ports.VcsDriverFactoryPort, versionCache ports.VersionCachePort) *VcsRepository {
	repo := &VcsRepository{
		config:       config,
		drivers:      drivers,
		versionCache: versionCache,
		loader:       NewPackageLoader(),
	}
	repo.ArrayRepository = newArrayRepository(KindVcs, fmt.Sprintf("vcs repo (%s %s)", config.Type, config.URL), repo.load)
	repo.owner = repo
	return repo
}

// EmptyReferences lists the identifiers found to have no usable
// composer.json.
func (r *VcsRepository) EmptyReferences() []string {
	return append([]string(nil), r.emptyReferences...)
}

// Warnings lists the refs skipped while loading and why.
func (r *VcsRepository) Warnings() []string {
	return append([]string(nil), r.warnings...)
}

func (r *VcsRepository) warn(ctx context.Context, msg string) {
	r.warnings = append(r.warnings, msg)
	log.Ctx(ctx).Debug().Str("repository", r.config.URL).Msg(msg)
}

func (r *VcsRepository) load(ctx context.Context) error {
	driver, err := r.drivers.Driver(r.config)
	if err != nil {
		return err
	}
	if driver == nil {
		return invalidArgument("no driver found to handle vcs repository "+r.config.URL, nil)
	}
	if err := driver.Initialize(ctx); err != nil {
		return err
	}
	rootIdentifier, err := driver.RootIdentifier(ctx)
	if err != nil {
		return err
	}

	hasRootComposerJSON := false
	rootData, err := driver.ComposerInformation(ctx, rootIdentifier)
	switch {
	case err != nil && ports.IsSystemic(err):
		return err
	case err != nil:
		r.warn(ctx, fmt.Sprintf("skipped parsing %s, %v", rootIdentifier, err))
	case rootData != nil:
		hasRootComposerJSON = true
		r.packageName = stringValue(rootData["name"])
	}

	if err := r.loadTags(ctx, driver); err != nil {
		return err
	}
	if err := r.loadBranches(ctx, driver, rootIdentifier, hasRootComposerJSON); err != nil {
		return err
	}

	if count, err := r.Count(ctx); err != nil || count == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("no valid composer.json was found in any branch or tag of " + r.config.URL)
	}
	return nil
}

func (r *VcsRepository) loadTags(ctx context.Context, driver ports.VcsDriverPort) error {
	tags, err := driver.Tags(ctx)
	if err != nil {
		return err
	}
	for _, rawTag := range sortedAnyKeys(tags) {
		identifier := tags[rawTag]
		tag := strings.ReplaceAll(rawTag, "release-", "")

		cached, state, err := r.cachedPackage(ctx, tag, identifier, false)
		if err != nil {
			return err
		}
		switch state {
		case ports.VersionCacheHit:
			if cached != nil {
				if err := r.AddPackage(cached); err != nil {
					return err
				}
				continue
			}
		case ports.VersionCacheEmpty:
			r.emptyReferences = append(r.emptyReferences, identifier)
			continue
		}

		parsedTag, err := semver.Normalize(tag)
		if err != nil {
			r.warn(ctx, "skipped tag "+tag+", invalid tag name")
			continue
		}
		data, err := driver.ComposerInformation(ctx, identifier)
		if err != nil {
			if ports.IsTransport(err) {
				r.recordEmpty(identifier, tag)
				if ports.IsSystemic(err) {
					return err
				}
			}
			r.warn(ctx, fmt.Sprintf("skipped tag %s, %v", tag, err))
			continue
		}
		if data == nil {
			r.warn(ctx, "skipped tag "+tag+", no composer file")
			r.recordEmpty(identifier, tag)
			continue
		}

		if version := stringValue(data["version"]); version != "" {
			normalized, err := semver.Normalize(version)
			if err != nil {
				r.warn(ctx, fmt.Sprintf("skipped tag %s, %v", tag, err))
				continue
			}
			data["version_normalized"] = normalized
		} else {
			data["version"] = tag
			data["version_normalized"] = parsedTag
		}
		data["version"] = tagDevSuffix.ReplaceAllString(stringValue(data["version"]), "")
		data["version_normalized"] = tagDevMarker.ReplaceAllString(stringValue(data["version_normalized"]), "")
		delete(data, "default-branch")

		if normalized := stringValue(data["version_normalized"]); normalized != parsedTag {
			if tagDevMarker.MatchString(parsedTag) {
				r.warn(ctx, "skipped tag "+tag+", invalid tag name, tags can not use dev prefixes or suffixes")
			} else {
				r.warn(ctx, fmt.Sprintf("skipped tag %s, tag (%s) does not match version (%s) in composer.json", tag, parsedTag, normalized))
			}
			continue
		}

		name := r.packageName
		if name == "" {
			name = stringValue(data["name"])
		}
		existing, err := r.FindPackage(ctx, name, semver.Equal(parsedTag))
		if err != nil {
			return err
		}
		if existing != nil {
			r.warn(ctx, fmt.Sprintf("skipped tag %s, it conflicts with another tag (%s) as both resolve to %s internally", tag, existing.PrettyVersion(), parsedTag))
			continue
		}
		data = r.preProcess(driver, data, identifier)
		pkg, err := r.loader.LoadPackage(data)
		if err != nil {
			r.warn(ctx, fmt.Sprintf("skipped tag %s, %v", tag, err))
			continue
		}
		if err := r.AddPackage(pkg); err != nil {
			return err
		}
		r.store(ctx, tag, identifier, data)
	}
	return nil
}

func (r *VcsRepository) loadBranches(ctx context.Context, driver ports.VcsDriverPort, rootIdentifier string, hasRootComposerJSON bool) error {
	branches, err := driver.Branches(ctx)
	if err != nil {
		return err
	}
	order := sortedAnyKeys(branches)
	if _, ok := branches[rootIdentifier]; ok && hasRootComposerJSON {
		rest := make([]string, 0, len(order))
		for _, branch := range order {
			if branch != rootIdentifier {
				rest = append(rest, branch)
			}
		}
		order = append([]string{rootIdentifier}, rest...)
	}

	for _, branch := range order {
		identifier := branches[branch]
		parsedBranch, ok := validateBranch(branch)
		if !ok {
			r.warn(ctx, "skipped branch "+branch+", invalid name")
			continue
		}
		var version string
		if strings.HasPrefix(parsedBranch, "dev-") || parsedBranch == semver.DefaultBranchAlias {
			version = "dev-" + strings.ReplaceAll(branch, "#", "+")
			parsedBranch = strings.ReplaceAll(parsedBranch, "#", "+")
		} else {
			prefix := ""
			if strings.HasPrefix(branch, "v") {
				prefix = "v"
			}
			version = prefix + prettyBranchVersion.ReplaceAllString(parsedBranch, ".x")
		}
		isDefault := branch == rootIdentifier

		cached, state, err := r.cachedPackage(ctx, version, identifier, isDefault)
		if err != nil {
			return err
		}
		switch state {
		case ports.VersionCacheHit:
			if cached != nil {
				if err := r.AddPackage(cached); err != nil {
					return err
				}
				continue
			}
		case ports.VersionCacheEmpty:
			r.emptyReferences = append(r.emptyReferences, identifier)
			continue
		}

		data, err := driver.ComposerInformation(ctx, identifier)
		if err != nil {
			if ports.IsTransport(err) {
				r.recordEmpty(identifier, version)
				if ports.IsSystemic(err) {
					return err
				}
				r.warn(ctx, fmt.Sprintf("skipped branch %s, no composer file was found (%d HTTP status code)", branch, ports.StatusOf(err)))
				continue
			}
			r.warn(ctx, fmt.Sprintf("skipped branch %s, %v", branch, err))
			continue
		}
		if data == nil {
			r.warn(ctx, "skipped branch "+branch+", no composer file")
			r.recordEmpty(identifier, version)
			continue
		}
		data["version"] = version
		data["version_normalized"] = parsedBranch
		delete(data, "default-branch")
		if isDefault {
			data["default-branch"] = true
		}
		data = r.preProcess(driver, data, identifier)
		pkg, err := r.loader.LoadPackage(data)
		if err != nil {
			r.warn(ctx, fmt.Sprintf("skipped branch %s, %v", branch, err))
			continue
		}
		if err := r.AddPackage(pkg); err != nil {
			return err
		}
		r.store(ctx, version, identifier, data)
	}
	return nil
}

func (r *VcsRepository) recordEmpty(identifier string, version string) {
	r.emptyReferences = append(r.emptyReferences, identifier)
	if r.versionCache != nil {
		_ = r.versionCache.StoreEmptyReference(version, identifier)
	}
}

func (r *VcsRepository) store(ctx context.Context, version string, identifier string, data map[string]any) {
	if r.versionCache == nil {
		return
	}
	if err := r.versionCache.StoreVersionPackage(version, identifier, data); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("version", version).Msg("version cache write failed")
	}
}

// cachedPackage consults the version cache. A hit that conflicts with an
// already loaded version is reported as a miss with a nil package.
func (r *VcsRepository) cachedPackage(ctx context.Context, version string, identifier string, isDefault bool) (types.Package, ports.VersionCacheState, error) {
	if r.versionCache == nil {
		return nil, ports.VersionCacheMiss, nil
	}
	data, state := r.versionCache.GetVersionPackage(version, identifier)
	if state != ports.VersionCacheHit {
		if state == ports.VersionCacheEmpty {
			r.warn(ctx, "skipped "+version+", no composer file (cached from ref "+identifier+")")
		}
		return nil, state, nil
	}
	if isDefault {
		data["default-branch"] = true
	}
	pkg, err := r.loader.LoadPackage(data)
	if err != nil {
		r.warn(ctx, fmt.Sprintf("ignored cached %s, %v", version, err))
		return nil, ports.VersionCacheMiss, nil
	}
	existing, err := r.FindPackage(ctx, pkg.Name(), semver.Equal(pkg.Version()))
	if err != nil {
		return nil, state, err
	}
	if existing != nil {
		r.warn(ctx, fmt.Sprintf("skipped cached version %s, it conflicts with another version (%s) as both resolve to %s internally", version, existing.PrettyVersion(), pkg.Version()))
		return nil, ports.VersionCacheMiss, nil
	}
	return pkg, state, nil
}

// preProcess keeps the root identifier's package name for every ref and
// fills source and dist from the driver.
func (r *VcsRepository) preProcess(driver ports.VcsDriverPort, data map[string]any, identifier string) map[string]any {
	if r.packageName != "" {
		data["name"] = r.packageName
	}
	if _, ok := data["dist"]; !ok {
		if dist := driver.Dist(identifier); dist != nil {
			data["dist"] = map[string]any{"type": dist.Type, "url": dist.URL, "reference": dist.Reference, "shasum": dist.Shasum}
		}
	}
	if _, ok := data["source"]; !ok {
		source := driver.Source(identifier)
		data["source"] = map[string]any{"type": source.Type, "url": source.URL, "reference": source.Reference}
	}
	dist := mapValue(data["dist"])
	source := mapValue(data["source"])
	if dist != nil && stringValue(dist["reference"]) == "" && stringValue(source["reference"]) != "" {
		dist["reference"] = source["reference"]
	}
	return data
}

// validateBranch normalizes a branch name and rejects names that would
// not survive constraint parsing.
func validateBranch(branch string) (string, bool) {
	normalized := semver.NormalizeBranch(branch)
	if _, err := semver.ParseConstraints(normalized); err != nil {
		return "", false
	}
	return normalized, true
}
