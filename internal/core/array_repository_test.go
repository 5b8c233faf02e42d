package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

func TestArrayRepositoryFindPackagesByConstraint(t *testing.T) {
	repo := testArrayRepository(t,
		testPackage(t, "foo/bar", "1.0.0"),
		testPackage(t, "foo/bar", "2.0.0"),
	)

	found, err := repo.FindPackages(t.Context(), "Foo/Bar", constraint(t, ">=1.5"))
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"2.0.0"}, prettyVersions(found)); diff != "" {
		t.Fatalf("unexpected versions (-want +got):\n%s", diff)
	}

	all, err := repo.FindPackages(t.Context(), "foo/bar", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	first, err := repo.FindPackage(t.Context(), "foo/bar", constraint(t, "^1.0"))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "1.0.0", first.PrettyVersion())

	missing, err := repo.FindPackage(t.Context(), "foo/baz", nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestArrayRepositoryAddPackageOwnership(t *testing.T) {
	pkg := testPackage(t, "foo/bar", "1.0.0")
	repo := testArrayRepository(t, pkg)
	assert.Equal(t, repo.RepoID(), pkg.Repository().RepoID())

	other := testArrayRepository(t)
	err := other.AddPackage(pkg)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))
}

func TestArrayRepositoryHasAndRemovePackage(t *testing.T) {
	pkg := testPackage(t, "foo/bar", "1.0.0")
	repo := testArrayRepository(t, pkg, testPackage(t, "foo/bar", "2.0.0"))

	has, err := repo.HasPackage(t.Context(), testPackage(t, "foo/bar", "1.0.0"))
	require.NoError(t, err)
	assert.True(t, has)

	repo.RemovePackage(pkg)
	has, err = repo.HasPackage(t.Context(), pkg)
	require.NoError(t, err)
	assert.False(t, has)

	repo.RemovePackage(testPackage(t, "foo/unknown", "1.0.0"))
	count, err := repo.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestArrayRepositoryAddsAliasTarget(t *testing.T) {
	alias := loadTestPackage(t, map[string]any{
		"name":    "foo/bar",
		"version": "dev-main",
		"extra":   map[string]any{"branch-alias": map[string]any{"dev-main": "1.0.x-dev"}},
	})
	_, isAlias := alias.(*types.AliasPackage)
	require.True(t, isAlias)

	repo := testArrayRepository(t, alias)
	packages, err := repo.GetPackages(t.Context())
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"1.0.x-dev", "dev-main"}, prettyVersions(packages)); diff != "" {
		t.Fatalf("unexpected packages (-want +got):\n%s", diff)
	}
	assert.Same(t, types.Unalias(alias), types.Unalias(packages[1]))
}

func TestArrayRepositoryLoadPackagesAliasRidesAlong(t *testing.T) {
	real := testPackage(t, "x/y", "1.0")
	alias := types.NewAliasPackage(real, "1.0.9999999.9999999-dev", "1.0.x-dev", types.StabilityDev)
	repo := testArrayRepository(t, alias)

	result, err := repo.LoadPackages(t.Context(), LoadRequest{
		Names: map[string]types.Constraint{"x/y": semver.Equal("1.0.9999999.9999999-dev")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x/y"}, result.NamesFound)
	assert.ElementsMatch(t, []string{"1.0.x-dev", "1.0"}, prettyVersions(result.Packages))

	// The real version alone also drags its alias in.
	result, err = repo.LoadPackages(t.Context(), LoadRequest{
		Names: map[string]types.Constraint{"x/y": semver.Equal("1.0.0.0")},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.x-dev", "1.0"}, prettyVersions(result.Packages))
}

func TestArrayRepositoryLoadPackagesFilters(t *testing.T) {
	repo := testArrayRepository(t,
		testPackage(t, "foo/bar", "1.0.0"),
		testPackage(t, "foo/bar", "1.1.0-beta1"),
		testPackage(t, "foo/bar", "2.0.0"),
	)

	tests := []struct {
		name    string
		request LoadRequest
		want    []string
	}{
		{
			name: "stable only",
			request: LoadRequest{
				Names:      map[string]types.Constraint{"foo/bar": nil},
				Acceptable: types.AcceptableStabilities(types.StabilityStable),
			},
			want: []string{"1.0.0", "2.0.0"},
		},
		{
			name: "flag lowers threshold",
			request: LoadRequest{
				Names:      map[string]types.Constraint{"foo/bar": constraint(t, "<2.0")},
				Acceptable: types.AcceptableStabilities(types.StabilityStable),
				Flags:      map[string]types.Stability{"foo/bar": types.StabilityBeta},
			},
			want: []string{"1.0.0", "1.1.0-beta1"},
		},
		{
			name: "already loaded skipped",
			request: LoadRequest{
				Names:         map[string]types.Constraint{"foo/bar": nil},
				AlreadyLoaded: map[string]map[string]bool{"foo/bar": {"2.0.0.0": true}},
			},
			want: []string{"1.0.0", "1.1.0-beta1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.LoadPackages(t.Context(), tt.request)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, prettyVersions(result.Packages)); diff != "" {
				t.Fatalf("unexpected packages (-want +got):\n%s", diff)
			}
			assert.Equal(t, []string{"foo/bar"}, result.NamesFound)
		})
	}
}

func TestArrayRepositoryNamesFoundWithoutMatch(t *testing.T) {
	repo := testArrayRepository(t, testPackage(t, "foo/bar", "1.0.0"))
	result, err := repo.LoadPackages(t.Context(), LoadRequest{
		Names: map[string]types.Constraint{"foo/bar": constraint(t, "^3.0"), "foo/missing": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"foo/bar"}, result.NamesFound)
	assert.Empty(t, result.Packages)
}

func TestArrayRepositorySearch(t *testing.T) {
	repo := testArrayRepository(t,
		loadTestPackage(t, map[string]any{"name": "acme/http-client", "version": "1.0.0", "description": "Talks HTTP"}),
		loadTestPackage(t, map[string]any{"name": "acme/logger", "version": "1.0.0", "keywords": []any{"psr-3"}, "abandoned": "monolog/monolog"}),
		loadTestPackage(t, map[string]any{"name": "other/tool", "version": "1.0.0", "type": "composer-plugin"}),
	)

	tests := []struct {
		name        string
		query       string
		mode        types.SearchMode
		packageType string
		want        []types.SearchResult
	}{
		{
			name:  "fulltext matches description",
			query: "http",
			mode:  types.SearchFulltext,
			want:  []types.SearchResult{{Name: "acme/http-client", Description: "Talks HTTP"}},
		},
		{
			name:  "fulltext matches keywords and reports replacement",
			query: "psr-3",
			mode:  types.SearchFulltext,
			want:  []types.SearchResult{{Name: "acme/logger", Abandoned: "monolog/monolog"}},
		},
		{
			name:  "vendor mode dedupes",
			query: "acme",
			mode:  types.SearchVendor,
			want:  []types.SearchResult{{Name: "acme"}},
		},
		{
			name:        "type filter",
			query:       "tool",
			mode:        types.SearchName,
			packageType: "composer-plugin",
			want:        []types.SearchResult{{Name: "other/tool"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Search(t.Context(), tt.query, tt.mode, tt.packageType)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("unexpected results (-want +got):\n%s", diff)
			}
		})
	}
}

func TestArrayRepositoryGetProviders(t *testing.T) {
	repo := testArrayRepository(t,
		loadTestPackage(t, map[string]any{"name": "acme/log", "version": "1.0.0", "type": "library", "provide": map[string]any{"psr/log-implementation": "1.0"}}),
		loadTestPackage(t, map[string]any{"name": "acme/log", "version": "1.1.0", "type": "library", "provide": map[string]any{"psr/log-implementation": "1.0"}}),
	)
	providers, err := repo.GetProviders(t.Context(), "psr/log-implementation")
	require.NoError(t, err)
	if diff := cmp.Diff([]ProviderInfo{{Name: "acme/log", Type: "library"}}, providers); diff != "" {
		t.Fatalf("unexpected providers (-want +got):\n%s", diff)
	}
}

func TestArrayRepositoryConcurrentReadersWaitForInitializer(t *testing.T) {
	packages := []types.Package{
		testPackage(t, "foo/bar", "1.0.0"),
		testPackage(t, "foo/bar", "2.0.0"),
		testPackage(t, "baz/qux", "1.0.0"),
	}
	var repo *ArrayRepository
	var calls int
	repo = newArrayRepository(KindArray, "slow repo", func(ctx context.Context) error {
		calls++
		for _, pkg := range packages {
			if err := repo.AddPackage(pkg); err != nil {
				return err
			}
			// reads from inside the initializer see the partial list
			if _, err := repo.Count(ctx); err != nil {
				return err
			}
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	})

	const readers = 8
	counts := make([]int, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := repo.GetPackages(t.Context())
			assert.NoError(t, err)
			counts[i] = len(found)
		}()
	}
	wg.Wait()

	for i, count := range counts {
		assert.Equal(t, len(packages), count, "reader %d", i)
	}
	assert.Equal(t, 1, calls)
}

func TestArrayRepositoryInitializerErrorIsSticky(t *testing.T) {
	failure := errbuilder.New().WithCode(errbuilder.CodeInternal).WithMsg("load failed")
	repo := newArrayRepository(KindArray, "broken repo", func(context.Context) error {
		return failure
	})

	_, err := repo.GetPackages(t.Context())
	require.Error(t, err)
	_, err = repo.Count(t.Context())
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInternal, errbuilder.CodeOf(err))
}
