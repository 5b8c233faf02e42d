package app

import (
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/types"
)

func versionsOf(summaries []PackageSummary) []string {
	out := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, summary.Version)
	}
	return out
}

func TestShowPackageIndex(t *testing.T) {
	service := newTestService(t, Config{Repositories: []types.RepositoryConfig{indexRepository(t, sampleIndex)}})

	result, err := service.Show(t.Context(), ShowRequest{Name: "Foo/Bar"})
	require.NoError(t, err)
	assert.Equal(t, "foo/bar", result.Name)
	if diff := cmp.Diff([]string{"1.0.0"}, versionsOf(result.Packages)); diff != "" {
		t.Fatalf("unexpected versions (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Stable bar", result.Packages[0].Description)
	assert.Equal(t, map[string]string{"baz/qux": "^1.0"}, result.Packages[0].Requires)

	all, err := service.Show(t.Context(), ShowRequest{Name: "foo/bar", AllStabilities: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.0", "1.1.0-beta1", "dev-main"}, versionsOf(all.Packages))

	constrained, err := service.Show(t.Context(), ShowRequest{Name: "baz/qux", Constraint: "^2.0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0"}, versionsOf(constrained.Packages))

	newestFirst, err := service.Show(t.Context(), ShowRequest{Name: "baz/qux"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0", "1.0.0"}, versionsOf(newestFirst.Packages))
}

func TestShowShadowedRepositories(t *testing.T) {
	first := indexRepository(t, "packages:\n  foo/bar:\n    - version: 1.0.0\n")
	second := indexRepository(t, "packages:\n  foo/bar:\n    - version: 2.0.0\n")
	service := newTestService(t, Config{Repositories: []types.RepositoryConfig{first, second}})

	result, err := service.Show(t.Context(), ShowRequest{Name: "foo/bar"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, versionsOf(result.Packages))

	shadowed, err := service.Show(t.Context(), ShowRequest{Name: "foo/bar", Shadowed: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0", "1.0.0"}, versionsOf(shadowed.Packages))
}

func TestShowProviders(t *testing.T) {
	service := newTestService(t, Config{Repositories: []types.RepositoryConfig{indexRepository(t, sampleIndex)}})

	result, err := service.Show(t.Context(), ShowRequest{Name: "psr/log-implementation"})
	require.NoError(t, err)
	assert.Empty(t, result.Packages)
	require.Len(t, result.Providers, 1)
	assert.Equal(t, "acme/logger", result.Providers[0].Name)

	_, err = service.Show(t.Context(), ShowRequest{Name: "missing/pkg"})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestShowRejectsBadInput(t *testing.T) {
	service := newTestService(t, Config{Repositories: []types.RepositoryConfig{indexRepository(t, sampleIndex)}})
	tests := []struct {
		name string
		req  ShowRequest
	}{
		{name: "empty name", req: ShowRequest{Name: " "}},
		{name: "invalid constraint", req: ShowRequest{Name: "foo/bar", Constraint: ">>>1"}},
		{name: "platform package in pool", req: ShowRequest{Name: "ext-json", Pool: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Show(t.Context(), tt.req)
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}
}

func TestShowPool(t *testing.T) {
	service := newTestService(t, Config{Repositories: []types.RepositoryConfig{indexRepository(t, sampleIndex)}})

	result, err := service.Show(t.Context(), ShowRequest{Name: "foo/bar", Pool: true})
	require.NoError(t, err)
	assert.Contains(t, versionsOf(result.Packages), "1.0.0")
	assert.NotContains(t, versionsOf(result.Packages), "dev-main")
}

func TestShowPlatformPackage(t *testing.T) {
	service := newTestService(t, Config{PlatformFile: writeFile(t, t.TempDir(), "platform.yaml", samplePlatform)})

	result, err := service.Show(t.Context(), ShowRequest{Name: "ext-intl"})
	require.NoError(t, err)
	require.Len(t, result.Packages, 1)
	assert.Equal(t, "8.3.4", result.Packages[0].Version)
	assert.Equal(t, "platform repo", result.Packages[0].Repository)
}

func TestShowComposerRepository(t *testing.T) {
	server := composerServer(t, map[string]string{
		"/packages.json": `{"packages": {"foo/bar": {
			"1.0.0": {"name": "foo/bar", "version": "1.0.0", "dist": {"type": "zip", "url": "https://example.org/foo-bar-1.0.0.zip"}},
			"1.2.0": {"name": "foo/bar", "version": "1.2.0"}
		}}}`,
	})
	root := t.TempDir()
	service := newTestService(t, Config{
		CacheDir:     root,
		Repositories: []types.RepositoryConfig{{Type: types.RepositoryTypeComposer, URL: server.URL}},
	})

	result, err := service.Show(t.Context(), ShowRequest{Name: "foo/bar", Constraint: "^1.0"})
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"1.2.0", "1.0.0"}, versionsOf(result.Packages)); diff != "" {
		t.Fatalf("unexpected versions (-want +got):\n%s", diff)
	}
	require.NotNil(t, result.Packages[1].Dist)
	assert.Equal(t, "zip", result.Packages[1].Dist.Type)

	cached, err := filepath.Glob(filepath.Join(root, "repo", "*", "packages.json"))
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}
