package app

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/types"
)

func searchNames(results []types.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, result := range results {
		out = append(out, result.Name)
	}
	return out
}

func TestParseSearchMode(t *testing.T) {
	tests := map[string]types.SearchMode{
		"":         types.SearchFulltext,
		"fulltext": types.SearchFulltext,
		"Name":     types.SearchName,
		"vendor":   types.SearchVendor,
	}
	for input, want := range tests {
		got, err := ParseSearchMode(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
	_, err := ParseSearchMode("regex")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestSearch(t *testing.T) {
	duplicate := indexRepository(t, "packages:\n  acme/logger:\n    - version: 1.0.0\n")
	service := newTestService(t, Config{Repositories: []types.RepositoryConfig{
		indexRepository(t, sampleIndex),
		duplicate,
	}})

	result, err := service.Search(t.Context(), SearchRequest{Query: "logger"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/logger"}, searchNames(result.Results))
	assert.Equal(t, "A logger", result.Results[0].Description)

	byName, err := service.Search(t.Context(), SearchRequest{Query: "bar", Mode: "name"})
	require.NoError(t, err)
	assert.Equal(t, []string{"foo/bar"}, searchNames(byName.Results))

	_, err = service.Search(t.Context(), SearchRequest{Query: "  "})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}
