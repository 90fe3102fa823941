package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saurabh22suman/oreo.io-v3/pkg/paths"
)

func TestWriteChangeRequestArtifact(t *testing.T) {
	resolver := paths.NewResolver(t.TempDir())
	writer := NewWriter(resolver)

	payload := map[string]interface{}{"ok": true, "rows_added": 3}
	require.NoError(t, writer.WriteChangeRequestArtifact("p1", "d1", "cr_1", "merge_result.json", payload))

	dir, err := resolver.AuditChangeRequest("p1", "d1", "cr_1")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "merge_result.json"))
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, float64(3), got["rows_added"])

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteValidationRun(t *testing.T) {
	resolver := paths.NewResolver(t.TempDir())
	writer := NewWriter(resolver)

	summary := map[string]interface{}{"state": "PASSED"}
	full := map[string]interface{}{"state": "PASSED", "messages": []string{}}
	require.NoError(t, writer.WriteValidationRun("p1", "d1", "run_1", summary, full))

	dir, err := resolver.AuditValidationRun("p1", "d1", "run_1")
	require.NoError(t, err)
	for _, name := range []string{"summary.json", "full.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.True(t, json.Valid(data), name)
	}
}
