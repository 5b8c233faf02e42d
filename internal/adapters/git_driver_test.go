package adapters

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/core"
	"composer-repos/internal/ports"
	"composer-repos/internal/types"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=composer-repos",
		"GIT_AUTHOR_EMAIL=dev@example.com",
		"GIT_COMMITTER_NAME=composer-repos",
		"GIT_COMMITTER_EMAIL=dev@example.com",
	)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))
	return strings.TrimSpace(string(output))
}

func writeComposerJSON(t *testing.T, dir string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "composer.json"), []byte(content), 0o644))
}

// sampleGitRepo has a v1.0.0 tag, an annotated v1.1.0 tag, a tag without
// composer.json and a 2.x branch.
func sampleGitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed")
	}
	dir := t.TempDir()
	runGit(t, dir, "init", "--initial-branch=main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("acme"), 0o644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "readme")
	runGit(t, dir, "tag", "v0.1.0")

	writeComposerJSON(t, dir, `{"name": "acme/lib", "require": {"php": ">=8.1"}}`)
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "composer.json")
	runGit(t, dir, "tag", "v1.0.0")

	writeComposerJSON(t, dir, `{"name": "acme/lib", "require": {"php": ">=8.2"}}`)
	runGit(t, dir, "commit", "-am", "bump php")
	runGit(t, dir, "tag", "-a", "v1.1.0", "-m", "release 1.1.0")

	runGit(t, dir, "checkout", "-b", "2.x")
	writeComposerJSON(t, dir, `{"name": "acme/lib", "require": {"php": ">=8.3"}}`)
	runGit(t, dir, "commit", "-am", "next major")
	runGit(t, dir, "checkout", "main")
	return dir
}

func TestGitDriverReadsRefs(t *testing.T) {
	dir := sampleGitRepo(t)
	factory := NewGitDriverFactory(t.TempDir())
	driver, err := factory.Driver(types.RepositoryConfig{Type: types.RepositoryTypeGit, URL: dir})
	require.NoError(t, err)
	same, err := factory.Driver(types.RepositoryConfig{Type: types.RepositoryTypeGit, URL: dir})
	require.NoError(t, err)
	assert.Same(t, driver, same)

	ctx := t.Context()
	require.NoError(t, driver.Initialize(ctx))

	root, err := driver.RootIdentifier(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", root)

	tags, err := driver.Tags(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v0.1.0", "v1.0.0", "v1.1.0"}, keysOf(tags))
	assert.Equal(t, runGit(t, dir, "rev-parse", "v1.1.0^{commit}"), tags["v1.1.0"])

	branches, err := driver.Branches(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main", "2.x"}, keysOf(branches))

	info, err := driver.ComposerInformation(ctx, tags["v1.0.0"])
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "acme/lib", info["name"])
	assert.NotEmpty(t, info["time"])

	info, err = driver.ComposerInformation(ctx, tags["v0.1.0"])
	require.NoError(t, err)
	assert.Nil(t, info)

	_, err = driver.ComposerInformation(ctx, strings.Repeat("0", 40))
	require.Error(t, err)
	assert.True(t, ports.IsNotFound(err))

	assert.Equal(t, types.SourceInfo{Type: "git", URL: dir, Reference: "abc"}, driver.Source("abc"))
	assert.Nil(t, driver.Dist("abc"))
}

func TestGitDriverFeedsVcsRepository(t *testing.T) {
	dir := sampleGitRepo(t)
	cacheDir := t.TempDir()
	versionCache := NewVersionCacheFileAdapter(filepath.Join(cacheDir, "versions"))
	config := types.RepositoryConfig{Type: types.RepositoryTypeVcs, URL: dir}

	repo := core.NewVcsRepository(config, NewGitDriverFactory(cacheDir), versionCache)
	packages, err := repo.GetPackages(t.Context())
	require.NoError(t, err)
	var versions []string
	for _, pkg := range packages {
		versions = append(versions, pkg.PrettyVersion())
	}
	assert.Contains(t, versions, "v1.0.0")
	assert.Contains(t, versions, "v1.1.0")
	assert.Contains(t, versions, "dev-main")
	assert.Contains(t, versions, "2.x-dev")
	assert.NotContains(t, versions, "v0.1.0")

	// A second run over the existing mirror reuses the version cache.
	again := core.NewVcsRepository(config, NewGitDriverFactory(cacheDir), versionCache)
	count, err := again.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, len(packages), count)
}

func keysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}
