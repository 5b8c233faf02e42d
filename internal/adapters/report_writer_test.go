package adapters

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/types"
)

func TestRender(t *testing.T) {
	results := []types.SearchResult{{Name: "acme/lib", Description: "<Library>", Abandoned: "acme/next"}}
	tests := []struct {
		format string
		want   string
	}{
		{format: "yaml", want: "- name: acme/lib\n  description: <Library>\n  abandoned: acme/next\n"},
		{format: "json", want: "[\n  {\n    \"name\": \"acme/lib\",\n    \"description\": \"<Library>\",\n    \"abandoned\": \"acme/next\"\n  }\n]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Render(&buf, tt.format, results))
			if diff := cmp.Diff(tt.want, buf.String()); diff != "" {
				t.Fatalf("unexpected output (-want +got):\n%s", diff)
			}
		})
	}

	err := Render(&bytes.Buffer{}, "xml", results)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestReportWriterAdapter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "search.json")
	require.NoError(t, NewReportWriterAdapter().Write(path, "json", map[string]int{"count": 2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count": 2}`, string(data))

	err = NewReportWriterAdapter().Write("", "json", nil)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}
