package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	ok := []string{"p1", "dataset-42", "sess_abc123", "UPPER.case"}
	for _, segment := range ok {
		got, err := Sanitize(segment)
		require.NoError(t, err, segment)
		assert.Equal(t, segment, got)
	}

	bad := []string{"", ".", "..", "a/b", `a\b`, "..secret", "x..y"}
	for _, segment := range bad {
		_, err := Sanitize(segment)
		assert.Error(t, err, segment)
	}
}

func TestResolverPaths(t *testing.T) {
	r := NewResolver("/data/delta")

	main, err := r.Main("p1", "d2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/delta", "projects", "p1", "datasets", "d2", "main"), main)

	staging, err := r.Staging("p1", "d2", "cr_abc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/delta", "projects", "p1", "datasets", "d2", "staging", "cr_abc"), staging)

	liveEdit, err := r.LiveEdit("p1", "d2", "sess_x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/delta", "projects", "p1", "datasets", "d2", "live_edit", "sess_x", "edits"), liveEdit)

	upload, err := r.PendingUpload("up_1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/delta", "pending_uploads", "up_1"), upload)

	_, err = r.Main("../etc", "d")
	assert.Error(t, err)
	_, err = r.Staging("p", "d", "../../main")
	assert.Error(t, err)
}

func TestEnsureDatasetLayout(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)

	datasetRoot, err := r.EnsureDatasetLayout("p1", "d1")
	require.NoError(t, err)

	for _, dir := range []string{
		"main", "staging", "live_edit", "imports",
		filepath.Join("audit", "validation_runs"),
		filepath.Join("audit", "snapshots"),
		filepath.Join("audit", "history"),
		filepath.Join("audit", "change_requests"),
	} {
		info, err := os.Stat(filepath.Join(datasetRoot, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	// Idempotent.
	_, err = r.EnsureDatasetLayout("p1", "d1")
	require.NoError(t, err)
}
