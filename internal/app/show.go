package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"composer-repos/internal/core"
	"composer-repos/internal/semver"
	"composer-repos/internal/shared"
	"composer-repos/internal/types"
)

// Show lists the versions of a package visible through the configured
// repositories. When nothing provides the name under that version, the
// packages that provide or replace it are returned instead.
func (s Service) Show(ctx context.Context, req ShowRequest) (ShowResult, error) {
	name := shared.NormalizePackageName(req.Name)
	if name == "" {
		return ShowResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("package name is required")
	}
	constraint, err := parseConstraint(req.Constraint)
	if err != nil {
		return ShowResult{}, err
	}
	isPlatform := core.IsPlatformPackage(name)
	if isPlatform && req.Pool {
		return ShowResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("%s is a platform package and cannot be loaded into a pool", name))
	}
	set, err := s.repositorySet(ctx, isPlatform)
	if err != nil {
		return ShowResult{}, err
	}

	var packages []types.Package
	if req.Pool {
		pool, err := set.CreatePoolForPackage(ctx, name)
		if err != nil {
			return ShowResult{}, err
		}
		log.Ctx(ctx).Debug().Str("package", name).Int("pool_size", pool.Count()).Msg("pool created")
		for _, pkg := range pool.WhatProvides(name, constraint) {
			if pkg.Name() == name {
				packages = append(packages, pkg)
			}
		}
	} else {
		var flags core.FindFlags
		if req.AllStabilities {
			flags |= core.AllowUnacceptableStabilities
		}
		if req.Shadowed {
			flags |= core.AllowShadowedRepositories
		}
		if packages, err = set.FindPackages(ctx, name, constraint, flags); err != nil {
			return ShowResult{}, err
		}
	}

	result := ShowResult{Name: name, Packages: summarizePackages(packages)}
	if len(result.Packages) > 0 {
		return result, nil
	}
	providers, err := set.GetProviders(ctx, name)
	if err != nil {
		return ShowResult{}, err
	}
	if len(providers) == 0 {
		return ShowResult{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("package %s %s not found", name, describeConstraint(req.Constraint)))
	}
	result.Providers = providers
	return result, nil
}

func parseConstraint(value string) (types.Constraint, error) {
	if strings.TrimSpace(value) == "" {
		return semver.MatchAll{}, nil
	}
	return semver.ParseConstraints(value)
}

func describeConstraint(value string) string {
	if strings.TrimSpace(value) == "" {
		return "*"
	}
	return value
}

// summarizePackages sorts newest first, with the default branch ahead of
// other dev versions.
func summarizePackages(packages []types.Package) []PackageSummary {
	sorted := append([]types.Package(nil), packages...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name() != sorted[j].Name() {
			return sorted[i].Name() < sorted[j].Name()
		}
		if sorted[i].IsDefaultBranch() != sorted[j].IsDefaultBranch() {
			return sorted[i].IsDefaultBranch()
		}
		return semver.CompareVersions(sorted[i].Version(), sorted[j].Version()) > 0
	})
	summaries := make([]PackageSummary, 0, len(sorted))
	for _, pkg := range sorted {
		summaries = append(summaries, summarize(pkg))
	}
	return summaries
}

func summarize(pkg types.Package) PackageSummary {
	summary := PackageSummary{
		Name:          pkg.PrettyName(),
		Version:       pkg.PrettyVersion(),
		Normalized:    pkg.Version(),
		Stability:     pkg.Stability(),
		Type:          pkg.Type(),
		Description:   pkg.Description(),
		DefaultBranch: pkg.IsDefaultBranch(),
	}
	if repo := pkg.Repository(); repo != nil {
		summary.Repository = repo.RepoName()
	}
	if source := pkg.Source(); source.Type != "" {
		summary.Source = &source
	}
	if dist := pkg.Dist(); dist.Type != "" {
		summary.Dist = &dist
	}
	if requires := pkg.Requires(); len(requires) > 0 {
		summary.Requires = make(map[string]string, len(requires))
		for target, link := range requires {
			summary.Requires[target] = link.PrettyConstraint
		}
	}
	if pkg.IsAbandoned() {
		summary.Abandoned = "true"
		if replacement := pkg.ReplacementPackage(); replacement != "" {
			summary.Abandoned = replacement
		}
	}
	if alias, ok := pkg.(*types.AliasPackage); ok {
		summary.AliasOf = alias.AliasOf().PrettyVersion()
	}
	return summary
}
