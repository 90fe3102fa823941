package uploads

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/paths"
)

func newTestStore(t *testing.T) (*Store, *delta.Adapter) {
	t.Helper()
	resolver := paths.NewResolver(t.TempDir())
	adapter := delta.NewAdapter(resolver)
	return NewStore(resolver, adapter), adapter
}

func TestPutGetDelete(t *testing.T) {
	store, _ := newTestStore(t)

	meta, err := store.Put("data.csv", strings.NewReader("id,v\n1,a\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(meta.UploadID, "up_"))
	assert.Equal(t, "data.csv", meta.Filename)

	got, err := store.Get(meta.UploadID)
	require.NoError(t, err)
	assert.Equal(t, meta.FilePath, got.FilePath)

	// The file and its sidecar exist.
	_, err = os.Stat(meta.FilePath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(meta.FilePath), metaFileName))
	require.NoError(t, err)

	require.NoError(t, store.Delete(meta.UploadID))
	_, err = store.Get(meta.UploadID)
	var notFound *domain.ErrNotFound
	require.ErrorAs(t, err, &notFound)

	err = store.Delete(meta.UploadID)
	require.ErrorAs(t, err, &notFound)
}

func TestFinalize_CSV(t *testing.T) {
	store, adapter := newTestStore(t)
	ctx := context.Background()

	csv := "id,amount,name\n1,10.5,alice\n2,20,bob\n"
	meta, err := store.Put("batch.csv", strings.NewReader(csv))
	require.NoError(t, err)

	result, err := store.Finalize(ctx, meta.UploadID, "p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 0, result.Duplicates)

	// The upload is gone after consumption.
	_, err = store.Get(meta.UploadID)
	var notFound *domain.ErrNotFound
	require.ErrorAs(t, err, &notFound)

	main, err := adapter.Resolver().Main("p1", "d1")
	require.NoError(t, err)
	res, err := adapter.Query(ctx, main, &domain.QueryOptions{OrderBy: `"id"`})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int64(1), res.Rows[0]["id"])
	assert.Equal(t, 10.5, res.Rows[0]["amount"])
	assert.Equal(t, "alice", res.Rows[0]["name"])
}

func TestFinalize_JSON(t *testing.T) {
	store, adapter := newTestStore(t)
	ctx := context.Background()

	payload := `[{"id": 1, "flag": true}, {"id": 2, "flag": false}]`
	meta, err := store.Put("batch.json", strings.NewReader(payload))
	require.NoError(t, err)

	result, err := store.Finalize(ctx, meta.UploadID, "p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	main, err := adapter.Resolver().Main("p1", "d1")
	require.NoError(t, err)
	stats, err := adapter.Stats(ctx, main)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.NumRows)
}

func TestSweepExpired(t *testing.T) {
	store, _ := newTestStore(t)

	stale, err := store.Put("old.csv", strings.NewReader("a\n1\n"))
	require.NoError(t, err)
	fresh, err := store.Put("new.csv", strings.NewReader("a\n1\n"))
	require.NoError(t, err)

	store.SetTTL(time.Hour)
	removed, err := store.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	store.SetTTL(time.Nanosecond)
	time.Sleep(time.Millisecond)
	removed, err = store.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	var notFound *domain.ErrNotFound
	_, err = store.Get(stale.UploadID)
	require.ErrorAs(t, err, &notFound)
	_, err = store.Get(fresh.UploadID)
	require.ErrorAs(t, err, &notFound)
}

func TestParseFile_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.parquet")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err := ParseFile(path)
	assert.Error(t, err)
}

func TestTableFromCells_TypeInference(t *testing.T) {
	rows := tableFromCells(
		[]string{"id", "price", "flag", "note", "empty"},
		[][]string{
			{"1", "9.5", "true", "hello", ""},
			{"2", "10", "false", "2nd", ""},
		},
	)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, 9.5, rows[0]["price"])
	assert.Equal(t, true, rows[0]["flag"])
	assert.Equal(t, "hello", rows[0]["note"])
	assert.Nil(t, rows[0]["empty"])
	// Integer-looking cells in a float column stay float.
	assert.Equal(t, 10.0, rows[1]["price"])
}
