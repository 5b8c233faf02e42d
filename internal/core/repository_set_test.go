package core

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/ports"
	"composer-repos/internal/types"
)

func newTestRepositorySet(t *testing.T, options RepositorySetOptions, repos ...Repository) *RepositorySet {
	t.Helper()
	set, err := NewRepositorySet(options)
	require.NoError(t, err)
	for _, repo := range repos {
		require.NoError(t, set.AddRepository(repo))
	}
	return set
}

func TestRepositorySetFirstMatchWins(t *testing.T) {
	high := testArrayRepository(t, testPackage(t, "a/b", "1.0"))
	low := testArrayRepository(t, testPackage(t, "a/b", "1.0"), testPackage(t, "a/b", "2.0"))
	set := newTestRepositorySet(t, RepositorySetOptions{}, high, low)

	found, err := set.FindPackages(t.Context(), "a/b", nil, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, high.RepoID(), found[0].Repository().RepoID())

	shadowed, err := set.FindPackages(t.Context(), "a/b", nil, AllowShadowedRepositories)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"1.0", "1.0", "2.0"}, prettyVersions(shadowed)); diff != "" {
		t.Fatalf("unexpected shadowed packages (-want +got):\n%s", diff)
	}
}

func TestRepositorySetStabilityFlags(t *testing.T) {
	repo := testArrayRepository(t, testPackage(t, "a/b", "1.0.0"), testPackage(t, "a/b", "1.1.0-beta2"))
	set := newTestRepositorySet(t, RepositorySetOptions{MinimumStability: types.StabilityStable}, repo)

	found, err := set.FindPackages(t.Context(), "a/b", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, prettyVersions(found))

	found, err = set.FindPackages(t.Context(), "a/b", nil, AllowUnacceptableStabilities)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.1.0-beta2"}, prettyVersions(found))

	found, err = set.FindPackages(t.Context(), "a/b", nil, AllowShadowedRepositories)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, prettyVersions(found))

	assert.True(t, set.IsPackageAcceptable([]string{"a/b"}, types.StabilityStable))
	assert.False(t, set.IsPackageAcceptable([]string{"a/b"}, types.StabilityBeta))
}

func TestRepositorySetFlattensComposites(t *testing.T) {
	set := newTestRepositorySet(t, RepositorySetOptions{},
		NewCompositeRepository(testArrayRepository(t), testArrayRepository(t)),
		testArrayRepository(t),
	)
	assert.Len(t, set.Repositories(), 3)
}

func TestRepositorySetLockedAfterPool(t *testing.T) {
	set := newTestRepositorySet(t, RepositorySetOptions{}, testArrayRepository(t, testPackage(t, "a/b", "1.0.0")))
	_, err := set.CreatePoolForPackage(t.Context(), "a/b")
	require.NoError(t, err)

	err = set.AddRepository(testArrayRepository(t))
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}

func TestRepositorySetRejectsInstalledRepositories(t *testing.T) {
	installed, err := NewInstalledArrayRepository(testPackage(t, "a/b", "1.0.0"))
	require.NoError(t, err)
	set := newTestRepositorySet(t, RepositorySetOptions{}, installed)

	_, err = set.CreatePoolWithAllPackages(t.Context())
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))

	set.AllowInstalledRepositories(true)
	pool, err := set.CreatePoolWithAllPackages(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Count())
}

func TestRepositorySetCreatePoolTransitive(t *testing.T) {
	high := testArrayRepository(t,
		loadTestPackage(t, map[string]any{"name": "a/a", "version": "1.0.0", "require": map[string]any{"b/b": "^1.0", "php": ">=8.1"}}),
	)
	low := testArrayRepository(t,
		testPackage(t, "a/a", "2.0.0"),
		testPackage(t, "b/b", "1.0.0"),
		testPackage(t, "b/b", "2.0.0"),
		testPackage(t, "c/c", "1.0.0"),
	)
	set := newTestRepositorySet(t, RepositorySetOptions{}, high, low)

	pool, err := set.CreatePool(t.Context(), PoolRequest{Requires: map[string]types.Constraint{"a/a": nil}})
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"a/a-1.0.0.0", "b/b-1.0.0.0"}, uniqueNames(pool.Packages())); diff != "" {
		t.Fatalf("unexpected pool (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"a/a", "b/b"}, pool.Names())
	assert.Len(t, pool.WhatProvides("b/b", constraint(t, "^1.0")), 1)
	assert.Empty(t, pool.WhatProvides("b/b", constraint(t, "^2.0")))
}

func TestRepositorySetCreatePoolWidensConstraints(t *testing.T) {
	repo := testArrayRepository(t,
		loadTestPackage(t, map[string]any{"name": "a/a", "version": "1.0.0", "require": map[string]any{"c/c": "^1.0"}}),
		loadTestPackage(t, map[string]any{"name": "b/b", "version": "1.0.0", "require": map[string]any{"c/c": "^2.0"}}),
		testPackage(t, "c/c", "1.0.0"),
		testPackage(t, "c/c", "2.0.0"),
		testPackage(t, "c/c", "3.0.0"),
	)
	set := newTestRepositorySet(t, RepositorySetOptions{}, repo)

	pool, err := set.CreatePool(t.Context(), PoolRequest{Requires: map[string]types.Constraint{"a/a": nil, "b/b": nil}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.0", "2.0.0"}, prettyVersions(pool.WhatProvides("c/c", nil)))
}

func TestRepositorySetCreatePoolTemporaryConstraint(t *testing.T) {
	repo := testArrayRepository(t, testPackage(t, "b/b", "1.0.0"), testPackage(t, "b/b", "2.0.0"))
	set := newTestRepositorySet(t, RepositorySetOptions{
		TemporaryConstraints: map[string]types.Constraint{"B/B": constraint(t, "^2.0")},
	}, repo)

	pool, err := set.CreatePool(t.Context(), PoolRequest{Requires: map[string]types.Constraint{"b/b": nil}})
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0"}, prettyVersions(pool.Packages()))
}

func TestRepositorySetCreatePoolFixedAndRestricted(t *testing.T) {
	repo := testArrayRepository(t,
		loadTestPackage(t, map[string]any{"name": "a/a", "version": "1.0.0", "require": map[string]any{"b/b": "*"}}),
		testPackage(t, "b/b", "1.0.0"),
	)
	fixed := testPackage(t, "a/a", "9.0.0")
	set := newTestRepositorySet(t, RepositorySetOptions{}, repo)

	pool, err := set.CreatePool(t.Context(), PoolRequest{
		Requires: map[string]types.Constraint{"a/a": nil},
		Fixed:    []types.Package{fixed},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"9.0.0"}, prettyVersions(pool.Packages()))

	restricted := newTestRepositorySet(t, RepositorySetOptions{}, testArrayRepository(t,
		loadTestPackage(t, map[string]any{"name": "a/a", "version": "1.0.0", "require": map[string]any{"b/b": "*"}}),
		testPackage(t, "b/b", "1.0.0"),
	))
	pool, err = restricted.CreatePoolForPackage(t.Context(), "A/A")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/a"}, pool.Names())

	_, err = restricted.CreatePoolForPackage(t.Context(), "ext-json")
	require.Error(t, err)
}

func TestRepositorySetRootAliasesAndReferences(t *testing.T) {
	oldRef := "1111111111111111111111111111111111111111"
	newRef := "2222222222222222222222222222222222222222"
	repo := testArrayRepository(t, loadTestPackage(t, map[string]any{
		"name":    "foo/bar",
		"version": "dev-main",
		"source":  map[string]any{"type": "git", "url": "https://github.com/foo/bar.git", "reference": oldRef},
		"dist":    map[string]any{"type": "zip", "url": "https://api.github.com/repos/foo/bar/zipball/" + oldRef, "reference": oldRef},
	}))
	set := newTestRepositorySet(t, RepositorySetOptions{
		MinimumStability: types.StabilityDev,
		RootAliases:      []types.RootAlias{{Package: "Foo/Bar", Version: "dev-main", Alias: "1.0.0", AliasNormalized: "1.0.0.0"}},
		RootReferences:   map[string]string{"foo/bar": newRef},
	}, repo)

	pool, err := set.CreatePool(t.Context(), PoolRequest{Requires: map[string]types.Constraint{"foo/bar": nil}})
	require.NoError(t, err)
	require.Equal(t, 2, pool.Count())

	var alias *types.AliasPackage
	for _, pkg := range pool.Packages() {
		if candidate, ok := pkg.(*types.AliasPackage); ok {
			alias = candidate
		}
	}
	require.NotNil(t, alias)
	assert.True(t, alias.IsRootPackageAlias())
	assert.Equal(t, "1.0.0.0", alias.Version())
	assert.Len(t, pool.WhatProvides("foo/bar", constraint(t, "^1.0")), 1)

	real := types.Unalias(alias)
	assert.Equal(t, newRef, real.Source().Reference)
	assert.Equal(t, newRef, real.Dist().Reference)
	assert.Equal(t, "https://api.github.com/repos/foo/bar/zipball/"+newRef, real.Dist().URL)
}

func TestRepositorySetCreatePoolWithAllPackagesAddsRootAliases(t *testing.T) {
	repo := testArrayRepository(t, testPackage(t, "foo/bar", "dev-main"), testPackage(t, "baz/qux", "1.0.0"))
	set := newTestRepositorySet(t, RepositorySetOptions{
		RootAliases: []types.RootAlias{{Package: "foo/bar", Version: "dev-main", Alias: "2.0.0", AliasNormalized: "2.0.0.0"}},
	}, repo)
	pool, err := set.CreatePoolWithAllPackages(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Count())
}

type advisoryRepository struct {
	*ArrayRepository
	advisories []types.Advisory
	err        error
}

func newAdvisoryRepository(t *testing.T, advisories []types.Advisory, err error) *advisoryRepository {
	return &advisoryRepository{ArrayRepository: testArrayRepository(t), advisories: advisories, err: err}
}

func (r *advisoryRepository) HasSecurityAdvisories(context.Context) (bool, error) { return true, nil }

func (r *advisoryRepository) GetSecurityAdvisories(_ context.Context, constraints map[string]types.Constraint, _ bool) (types.AdvisoryResult, error) {
	if r.err != nil {
		return types.AdvisoryResult{}, r.err
	}
	result := types.AdvisoryResult{NamesFound: []string{}, Advisories: map[string][]types.Advisory{}}
	for _, advisory := range r.advisories {
		requested, ok := constraints[advisory.Package()]
		if !ok || !advisoryMatches(advisory, requested) {
			continue
		}
		result.Advisories[advisory.Package()] = append(result.Advisories[advisory.Package()], advisory)
	}
	return result, nil
}

func TestRepositorySetSecurityAdvisories(t *testing.T) {
	low := types.PartialSecurityAdvisory{AdvisoryID: "A-1", PackageName: "foo/bar", AffectedVersions: constraint(t, "<1.5")}
	high := types.PartialSecurityAdvisory{AdvisoryID: "A-2", PackageName: "foo/bar", AffectedVersions: constraint(t, ">=2.0")}
	other := types.PartialSecurityAdvisory{AdvisoryID: "A-3", PackageName: "foo/bar", AffectedVersions: constraint(t, "<1.2")}
	unreachable := &ports.TransportError{URL: "https://repo.example.org/api/security-advisories/", Status: http.StatusBadGateway}

	set := newTestRepositorySet(t, RepositorySetOptions{},
		newAdvisoryRepository(t, []types.Advisory{low, high}, nil),
		newAdvisoryRepository(t, nil, unreachable),
		newAdvisoryRepository(t, []types.Advisory{other}, nil),
	)

	_, err := set.GetSecurityAdvisories(t.Context(), []string{"foo/bar"}, true, false)
	require.Error(t, err)
	var transport *ports.TransportError
	assert.True(t, errors.As(err, &transport))

	report, err := set.GetSecurityAdvisories(t.Context(), []string{"foo/bar"}, true, true)
	require.NoError(t, err)
	assert.Len(t, report.Advisories["foo/bar"], 3)
	assert.Len(t, report.UnreachableRepos, 1)

	report, err = set.GetMatchingSecurityAdvisories(t.Context(), []types.Package{testPackage(t, "foo/bar", "1.0.0")}, true, true)
	require.NoError(t, err)
	ids := []string{}
	for _, advisory := range report.Advisories["foo/bar"] {
		ids = append(ids, advisory.ID())
	}
	if diff := cmp.Diff([]string{"A-1", "A-3"}, ids); diff != "" {
		t.Fatalf("unexpected advisories (-want +got):\n%s", diff)
	}
}

func TestRepositorySetSecurityAdvisoriesUnreachableRoot(t *testing.T) {
	server := newMetadataServer(t)
	server.status("/packages.json", http.StatusInternalServerError)
	advisory := types.PartialSecurityAdvisory{AdvisoryID: "A-1", PackageName: "foo/bar", AffectedVersions: constraint(t, "*")}

	set := newTestRepositorySet(t, RepositorySetOptions{},
		newTestComposerRepository(t, server.URL, newMemoryCache()),
		newAdvisoryRepository(t, []types.Advisory{advisory}, nil),
	)

	_, err := set.GetSecurityAdvisories(t.Context(), []string{"foo/bar"}, false, false)
	require.Error(t, err)
	assert.True(t, ports.IsTransport(err))
	assert.Equal(t, http.StatusInternalServerError, ports.StatusOf(err))

	report, err := set.GetSecurityAdvisories(t.Context(), []string{"foo/bar"}, false, true)
	require.NoError(t, err)
	require.Len(t, report.UnreachableRepos, 1)
	assert.Contains(t, report.UnreachableRepos[0], "500")
	assert.Len(t, report.Advisories["foo/bar"], 1)
}

func TestRepositorySetSecurityAdvisoriesUnreachableBehindFilter(t *testing.T) {
	server := newMetadataServer(t)
	server.status("/packages.json", http.StatusBadGateway)
	filtered, err := NewFilterRepository(newTestComposerRepository(t, server.URL, newMemoryCache()), types.RepositoryConfig{Only: []string{"foo/*"}})
	require.NoError(t, err)
	set := newTestRepositorySet(t, RepositorySetOptions{}, filtered)

	_, err = set.GetSecurityAdvisories(t.Context(), []string{"foo/bar"}, true, false)
	require.Error(t, err)
	assert.True(t, ports.IsTransport(err))

	report, err := set.GetSecurityAdvisories(t.Context(), []string{"foo/bar"}, true, true)
	require.NoError(t, err)
	assert.Len(t, report.UnreachableRepos, 1)
}

func TestRepositorySetSecurityAdvisoriesHonorFilterToggle(t *testing.T) {
	advisory := types.PartialSecurityAdvisory{AdvisoryID: "A-1", PackageName: "foo/bar", AffectedVersions: constraint(t, "*")}
	disabled := false
	filtered, err := NewFilterRepository(newAdvisoryRepository(t, []types.Advisory{advisory}, nil), types.RepositoryConfig{SecurityAdvisories: &disabled})
	require.NoError(t, err)
	set := newTestRepositorySet(t, RepositorySetOptions{}, filtered)

	report, err := set.GetSecurityAdvisories(t.Context(), []string{"foo/bar"}, true, false)
	require.NoError(t, err)
	assert.Empty(t, report.Advisories)
}

func TestRepositorySetRootRequiresDropPlatform(t *testing.T) {
	set := newTestRepositorySet(t, RepositorySetOptions{RootRequires: map[string]types.Constraint{
		"php":     constraint(t, ">=8.1"),
		"ext-json": nil,
		"Foo/Bar": constraint(t, "^1.0"),
	}})
	assert.Equal(t, []string{"foo/bar"}, sortedAnyKeys(set.RootRequires()))
}
