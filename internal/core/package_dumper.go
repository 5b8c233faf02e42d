package core

import "composer-repos/internal/types"

// DumpPackage renders pkg as a version object that PackageLoader reads
// back. Aliases are dumped as the package they alias.
func DumpPackage(pkg types.Package) map[string]any {
	pkg = types.Unalias(pkg)
	out := map[string]any{
		"name":               pkg.PrettyName(),
		"version":            pkg.PrettyVersion(),
		"version_normalized": pkg.Version(),
		"type":               pkg.Type(),
	}
	if source := pkg.Source(); source.Type != "" {
		out["source"] = map[string]any{"type": source.Type, "url": source.URL, "reference": source.Reference}
	}
	if dist := pkg.Dist(); dist.Type != "" {
		entry := map[string]any{"type": dist.Type, "url": dist.URL, "reference": dist.Reference}
		if dist.Shasum != "" {
			entry["shasum"] = dist.Shasum
		}
		out["dist"] = entry
	}
	for _, entry := range linkTypes {
		links := linksOf(pkg, entry.linkType)
		if len(links) == 0 {
			continue
		}
		dumped := make(map[string]any, len(links))
		for target, link := range links {
			dumped[target] = link.PrettyConstraint
		}
		out[entry.key] = dumped
	}
	if description := pkg.Description(); description != "" {
		out["description"] = description
	}
	if keywords := pkg.Keywords(); len(keywords) > 0 {
		list := make([]any, 0, len(keywords))
		for _, keyword := range keywords {
			list = append(list, keyword)
		}
		out["keywords"] = list
	}
	if pkg.IsAbandoned() {
		if replacement := pkg.ReplacementPackage(); replacement != "" {
			out["abandoned"] = replacement
		} else {
			out["abandoned"] = true
		}
	}
	if pkg.IsDefaultBranch() {
		out["default-branch"] = true
	}
	if complete, ok := pkg.(interface{ Extra() map[string]any }); ok && len(complete.Extra()) > 0 {
		out["extra"] = complete.Extra()
	}
	return out
}

func linksOf(pkg types.Package, linkType types.LinkType) map[string]types.Link {
	switch linkType {
	case types.LinkTypeRequire:
		return pkg.Requires()
	case types.LinkTypeDevRequire:
		return pkg.DevRequires()
	case types.LinkTypeProvide:
		return pkg.Provides()
	case types.LinkTypeReplace:
		return pkg.Replaces()
	case types.LinkTypeConflict:
		return pkg.Conflicts()
	}
	return nil
}
