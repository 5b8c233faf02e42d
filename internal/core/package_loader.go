package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

var (
	linkTypes = []struct {
		key      string
		linkType types.LinkType
	}{
		{"require", types.LinkTypeRequire},
		{"require-dev", types.LinkTypeDevRequire},
		{"provide", types.LinkTypeProvide},
		{"replace", types.LinkTypeReplace},
		{"conflict", types.LinkTypeConflict},
	}
	prettyAliasNines = regexp.MustCompile(`(\.9{7})+`)
	leadingV         = regexp.MustCompile(`^v`)
)

// PackageLoader turns decoded version objects into packages.
type PackageLoader struct{}

func NewPackageLoader() PackageLoader {
	return PackageLoader{}
}

// LoadPackages loads a list of version objects, returning alias packages for
// versions declaring a branch alias.
func (l PackageLoader) LoadPackages(versions []map[string]any) ([]types.Package, error) {
	out := make([]types.Package, 0, len(versions))
	for _, version := range versions {
		pkg, err := l.LoadPackage(version)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	return out, nil
}

// LoadPackage builds one package. When the version object is a dev branch
// with a branch alias (or is the default branch) the result is an alias
// wrapping the real package.
func (l PackageLoader) LoadPackage(config map[string]any) (types.Package, error) {
	pkg, err := l.LoadComplete(config)
	if err != nil {
		return nil, err
	}
	if aliasNormalized := branchAlias(config); aliasNormalized != "" {
		prettyAlias := prettyAliasNines.ReplaceAllString(aliasNormalized, ".x")
		return types.NewAliasPackage(pkg, aliasNormalized, prettyAlias, semver.ParseStability(aliasNormalized)), nil
	}
	return pkg, nil
}

// LoadComplete builds the concrete package without branch-alias wrapping.
func (l PackageLoader) LoadComplete(config map[string]any) (*types.CompletePackage, error) {
	name := stringValue(config["name"])
	if name == "" {
		return nil, invalidArgument("version object has no name", nil)
	}
	prettyVersion := stringValue(config["version"])
	if prettyVersion == "" {
		return nil, invalidArgument(fmt.Sprintf("package %s has no version", name), nil)
	}
	version := stringValue(config["version_normalized"])
	if version == "" || version == semver.DefaultBranchAlias {
		normalized, err := semver.Normalize(prettyVersion)
		if err != nil {
			return nil, invalidArgument(fmt.Sprintf("package %s has an invalid version", name), err)
		}
		version = normalized
	}

	pkg := types.NewCompletePackage(name, version, prettyVersion, semver.ParseStability(version))
	pkg.SetType(strings.ToLower(stringValue(config["type"])))
	pkg.SetDescription(stringValue(config["description"]))
	pkg.SetKeywords(stringSlice(config["keywords"]))
	pkg.SetDefaultBranch(boolValue(config["default-branch"]))
	pkg.SetExtra(mapValue(config["extra"]))

	if source := mapValue(config["source"]); source != nil {
		pkg.SetSource(types.SourceInfo{
			Type:      stringValue(source["type"]),
			URL:       stringValue(source["url"]),
			Reference: stringValue(source["reference"]),
		})
	}
	if dist := mapValue(config["dist"]); dist != nil {
		pkg.SetDist(types.DistInfo{
			Type:      stringValue(dist["type"]),
			URL:       stringValue(dist["url"]),
			Reference: stringValue(dist["reference"]),
			Shasum:    stringValue(dist["shasum"]),
		})
	}
	switch abandoned := config["abandoned"].(type) {
	case bool:
		pkg.SetAbandoned(abandoned, "")
	case string:
		pkg.SetAbandoned(true, abandoned)
	}

	for _, entry := range linkTypes {
		raw := mapValue(config[entry.key])
		if len(raw) == 0 {
			continue
		}
		links, err := parseLinks(pkg.Name(), prettyVersion, entry.linkType, raw)
		if err != nil {
			return nil, err
		}
		pkg.SetLinks(entry.linkType, links)
	}
	return pkg, nil
}

// LoadRoot builds the project package from a composer.json document. A
// manifest without name or version is named "__root__" at
// "1.0.0+no-version-set".
func (l PackageLoader) LoadRoot(config map[string]any) (*types.RootPackage, error) {
	manifest := make(map[string]any, len(config)+2)
	for key, value := range config {
		manifest[key] = value
	}
	if stringValue(manifest["name"]) == "" {
		manifest["name"] = "__root__"
	}
	if stringValue(manifest["version"]) == "" {
		manifest["version"] = "1.0.0+no-version-set"
	}
	complete, err := l.LoadComplete(manifest)
	if err != nil {
		return nil, err
	}
	root := &types.RootPackage{
		CompletePackage:  complete,
		MinimumStability: types.StabilityStable,
		StabilityFlags:   map[string]types.Stability{},
		PreferStable:     boolValue(config["prefer-stable"]),
		References:       map[string]string{},
	}
	if raw := stringValue(config["minimum-stability"]); raw != "" {
		stability, ok := types.ParseStabilityName(raw)
		if !ok {
			return nil, invalidArgument(fmt.Sprintf("invalid minimum-stability %q in root package", raw), nil)
		}
		root.MinimumStability = stability
	}
	return root, nil
}

func parseLinks(source string, prettyVersion string, linkType types.LinkType, raw map[string]any) (map[string]types.Link, error) {
	targets := make([]string, 0, len(raw))
	for target := range raw {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	links := make(map[string]types.Link, len(raw))
	for _, target := range targets {
		pretty := stringValue(raw[target])
		expression := pretty
		if expression == "self.version" {
			expression = prettyVersion
		}
		constraint, err := semver.ParseConstraints(expression)
		if err != nil {
			return nil, invalidArgument(fmt.Sprintf("package %s has an invalid %s constraint for %s", source, linkType, target), err)
		}
		lower := strings.ToLower(target)
		links[lower] = types.Link{
			Source:           source,
			Target:           lower,
			Constraint:       constraint,
			Type:             linkType,
			PrettyConstraint: pretty,
		}
	}
	return links, nil
}

// branchAlias returns the normalized alias a dev version declares through
// extra.branch-alias, or the default branch alias.
func branchAlias(config map[string]any) string {
	version := stringValue(config["version"])
	if !strings.HasPrefix(version, "dev-") && !strings.HasSuffix(version, "-dev") {
		return ""
	}
	extra := mapValue(config["extra"])
	aliases := mapValue(extra["branch-alias"])
	sources := make([]string, 0, len(aliases))
	for source := range aliases {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, sourceBranch := range sources {
		target := stringValue(aliases[sourceBranch])
		if !strings.HasSuffix(target, "-dev") {
			continue
		}
		validated := semver.DefaultBranchAlias
		if target != semver.DefaultBranchAlias {
			validated = semver.NormalizeBranch(strings.TrimSuffix(target, "-dev"))
		}
		if !strings.HasSuffix(validated, "-dev") {
			continue
		}
		if !strings.EqualFold(version, sourceBranch) {
			continue
		}
		sourcePrefix := semver.ParseNumericAliasPrefix(sourceBranch)
		targetPrefix := semver.ParseNumericAliasPrefix(target)
		if sourcePrefix != "" && targetPrefix != "" && !strings.HasPrefix(strings.ToLower(targetPrefix), strings.ToLower(sourcePrefix)) {
			continue
		}
		return validated
	}
	if boolValue(config["default-branch"]) && semver.ParseNumericAliasPrefix(leadingV.ReplaceAllString(version, "")) == "" {
		return semver.DefaultBranchAlias
	}
	return ""
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func boolValue(value any) bool {
	b, ok := value.(bool)
	return ok && b
}

func mapValue(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[stringValue(key)] = item
		}
		return out
	default:
		return nil
	}
}

func listValue(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, item)
		}
		return out
	default:
		return nil
	}
}

func stringSlice(value any) []string {
	var out []string
	for _, item := range listValue(value) {
		if s := stringValue(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func mapSlice(value any) []map[string]any {
	var out []map[string]any
	for _, item := range listValue(value) {
		if m := mapValue(item); m != nil {
			out = append(out, m)
		}
	}
	return out
}
