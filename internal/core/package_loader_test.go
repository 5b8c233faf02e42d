package core

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

func TestPackageLoaderBranchAliases(t *testing.T) {
	tests := []struct {
		name        string
		config      map[string]any
		wantAlias   string
		wantVersion string
	}{
		{
			name: "branch alias",
			config: map[string]any{
				"name": "foo/bar", "version": "dev-main",
				"extra": map[string]any{"branch-alias": map[string]any{"dev-main": "1.0.x-dev"}},
			},
			wantAlias:   "1.0.x-dev",
			wantVersion: "1.0.9999999.9999999-dev",
		},
		{
			name:        "default branch",
			config:      map[string]any{"name": "foo/bar", "version": "dev-trunk", "default-branch": true},
			wantAlias:   semver.DefaultBranchAlias,
			wantVersion: semver.DefaultBranchAlias,
		},
		{
			name: "alias for another branch is ignored",
			config: map[string]any{
				"name": "foo/bar", "version": "dev-main",
				"extra": map[string]any{"branch-alias": map[string]any{"dev-next": "2.0.x-dev"}},
			},
		},
		{
			name:   "tagged release",
			config: map[string]any{"name": "foo/bar", "version": "1.2.3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := NewPackageLoader().LoadPackage(tt.config)
			require.NoError(t, err)
			alias, isAlias := pkg.(*types.AliasPackage)
			if tt.wantAlias == "" {
				assert.False(t, isAlias)
				return
			}
			require.True(t, isAlias)
			assert.Equal(t, tt.wantAlias, alias.PrettyVersion())
			assert.Equal(t, tt.wantVersion, alias.Version())
			assert.Equal(t, tt.config["version"], alias.AliasOf().PrettyVersion())
		})
	}
}

func TestPackageLoaderLinks(t *testing.T) {
	pkg, err := NewPackageLoader().LoadPackage(map[string]any{
		"name":      "Foo/Bar",
		"version":   "1.2.0",
		"require":   map[string]any{"PHP": ">=8.1", "foo/core": "self.version"},
		"replace":   map[string]any{"foo/legacy": "*"},
		"abandoned": "foo/next",
	})
	require.NoError(t, err)
	assert.Equal(t, "foo/bar", pkg.Name())
	assert.Equal(t, "Foo/Bar", pkg.PrettyName())

	core := pkg.Requires()["foo/core"]
	assert.True(t, core.Constraint.Matches(semver.Equal("1.2.0.0")))
	assert.Equal(t, "self.version", core.PrettyConstraint)
	assert.Contains(t, pkg.Requires(), "php")
	if diff := cmp.Diff([]string{"foo/bar", "foo/legacy"}, pkg.Names(true)); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
	assert.True(t, pkg.IsAbandoned())
	assert.Equal(t, "foo/next", pkg.ReplacementPackage())
}

func TestPackageLoaderRejectsInvalidObjects(t *testing.T) {
	for name, config := range map[string]map[string]any{
		"missing name":       {"version": "1.0.0"},
		"missing version":    {"name": "foo/bar"},
		"invalid version":    {"name": "foo/bar", "version": "not a version"},
		"invalid constraint": {"name": "foo/bar", "version": "1.0.0", "require": map[string]any{"a/b": ">>>1"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewPackageLoader().LoadPackage(config)
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}
}

func TestMetadataMinifierRestoresVersions(t *testing.T) {
	versions := []map[string]any{
		{"name": "foo/bar", "version": "2.0.0", "require": map[string]any{"php": ">=8.1"}, "description": "Bar"},
		{"name": "foo/bar", "version": "1.0.0", "require": map[string]any{"php": ">=7.4"}, "description": "Bar"},
		{"name": "foo/bar", "version": "0.1.0"},
	}

	minified := MinifyMetadata(versions)
	assert.Equal(t, map[string]any{"version": "1.0.0", "require": map[string]any{"php": ">=7.4"}}, minified[1])
	assert.Equal(t, map[string]any{"version": "0.1.0", "require": unsetMarker, "description": unsetMarker}, minified[2])

	if diff := cmp.Diff(versions, ExpandMetadata(minified)); diff != "" {
		t.Fatalf("expanded metadata differs (-want +got):\n%s", diff)
	}
}

func TestPackageLoaderLoadRoot(t *testing.T) {
	root, err := NewPackageLoader().LoadRoot(map[string]any{
		"require":           map[string]any{"foo/bar": "^1.0"},
		"require-dev":       map[string]any{"baz/qux": "^2.0"},
		"minimum-stability": "beta",
		"prefer-stable":     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "__root__", root.Name())
	assert.Equal(t, "1.0.0+no-version-set", root.PrettyVersion())
	assert.Equal(t, types.StabilityBeta, root.MinimumStability)
	assert.True(t, root.PreferStable)
	assert.Contains(t, root.Requires(), "foo/bar")
	assert.Contains(t, root.DevRequires(), "baz/qux")

	_, err = NewPackageLoader().LoadRoot(map[string]any{"minimum-stability": "sometimes"})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}
