package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/types"
)

const advisoryResponse = `{"advisories": {"foo/bar": [
	{
		"advisoryId": "PKSA-1",
		"packageName": "foo/bar",
		"affectedVersions": "<1.5",
		"title": "XSS in templates",
		"cve": "CVE-2024-0001",
		"link": "https://example.org/PKSA-1",
		"reportedAt": "2024-01-02 03:04:05",
		"severity": "high",
		"sources": [{"name": "GitHub", "remoteId": "GHSA-0001"}]
	},
	{
		"advisoryId": "PKSA-2",
		"packageName": "foo/bar",
		"affectedVersions": ">=3.0,<3.1",
		"title": "Path traversal",
		"reportedAt": "2024-02-01 00:00:00",
		"sources": [{"name": "FriendsOfPHP", "remoteId": "foo/bar/2.yaml"}]
	}
]}}`

func advisoryService(t *testing.T) Service {
	t.Helper()
	server := composerServer(t, map[string]string{
		"/packages.json": `{
			"metadata-url": "/p2/%package%.json",
			"security-advisories": {"api-url": "/api/security-advisories/"}
		}`,
		"/api/security-advisories/": advisoryResponse,
	})
	return newTestService(t, Config{
		Repositories: []types.RepositoryConfig{{Type: types.RepositoryTypeComposer, URL: server.URL}},
	})
}

func advisoryIDs(entries []AdvisoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.ID)
	}
	return out
}

func TestAdvisories(t *testing.T) {
	service := advisoryService(t)

	result, err := service.Advisories(t.Context(), AdvisoriesRequest{Packages: []string{"foo/bar"}})
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"PKSA-1", "PKSA-2"}, advisoryIDs(result.Advisories)); diff != "" {
		t.Fatalf("unexpected advisories (-want +got):\n%s", diff)
	}
	first := result.Advisories[0]
	assert.Equal(t, "XSS in templates", first.Title)
	assert.Equal(t, "CVE-2024-0001", first.CVE)
	assert.Equal(t, "<1.5", first.Affected)
	require.NotNil(t, first.ReportedAt)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), *first.ReportedAt)
	assert.Empty(t, result.UnreachableRepos)

	constrained, err := service.Advisories(t.Context(), AdvisoriesRequest{Packages: []string{"foo/bar:^1.0"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"PKSA-1"}, advisoryIDs(constrained.Advisories))
}

func TestAdvisoriesUnreachableRepository(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)
	up := composerServer(t, map[string]string{
		"/packages.json": `{
			"metadata-url": "/p2/%package%.json",
			"security-advisories": {"api-url": "/api/security-advisories/"}
		}`,
		"/api/security-advisories/": advisoryResponse,
	})
	service := newTestService(t, Config{
		Repositories: []types.RepositoryConfig{
			{Type: types.RepositoryTypeComposer, URL: down.URL},
			{Type: types.RepositoryTypeComposer, URL: up.URL},
		},
	})

	_, err := service.Advisories(t.Context(), AdvisoriesRequest{Packages: []string{"foo/bar"}})
	require.Error(t, err)

	result, err := service.Advisories(t.Context(), AdvisoriesRequest{Packages: []string{"foo/bar"}, IgnoreUnreachable: true})
	require.NoError(t, err)
	assert.Len(t, result.UnreachableRepos, 1)
	assert.Equal(t, []string{"PKSA-1", "PKSA-2"}, advisoryIDs(result.Advisories))
}

func TestAdvisoriesRejectsBadArguments(t *testing.T) {
	service := advisoryService(t)
	tests := []struct {
		name string
		args []string
	}{
		{name: "no packages"},
		{name: "blank name", args: []string{"  "}},
		{name: "invalid constraint", args: []string{"foo/bar:>>>1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Advisories(t.Context(), AdvisoriesRequest{Packages: tt.args})
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}
}
