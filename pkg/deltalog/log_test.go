package deltalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
)

var testSchema = &domain.TableInfo{
	Name: "items",
	Columns: []domain.ColumnInfo{
		{Name: "id", Type: "int64", Nullable: true},
		{Name: "v", Type: "string", Nullable: true},
	},
}

func testRows(pairs ...interface{}) []domain.Row {
	var rows []domain.Row
	for i := 0; i+1 < len(pairs); i += 2 {
		rows = append(rows, domain.Row{"id": int64(pairs[i].(int)), "v": pairs[i+1].(string)})
	}
	return rows
}

func TestTable_CommitAndRead(t *testing.T) {
	dir := t.TempDir()
	table := Open(filepath.Join(dir, "main"))

	assert.False(t, table.Exists())
	head, err := table.Head()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), head)

	version, err := table.Commit(domain.OpWrite, testSchema, testRows(1, "a", 2, "b"), map[string]string{"numOutputRows": "2"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
	assert.True(t, table.Exists())

	info, rows, head, err := table.ReadLatest()
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)
	assert.Len(t, info.Columns, 2)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "a", rows[0]["v"])
}

func TestTable_VersionMonotonicity(t *testing.T) {
	table := Open(filepath.Join(t.TempDir(), "main"))

	for i := 0; i < 4; i++ {
		version, err := table.Commit(domain.OpWrite, testSchema, testRows(i, "x"), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(i), version)
	}

	history, err := table.History()
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, rec := range history {
		assert.Equal(t, int64(i), rec.Version)
	}
}

func TestTable_ReadVersion_TimeTravel(t *testing.T) {
	table := Open(filepath.Join(t.TempDir(), "main"))

	_, err := table.Commit(domain.OpWrite, testSchema, testRows(1, "a"), nil)
	require.NoError(t, err)
	_, err = table.Commit(domain.OpOverwrite, testSchema, testRows(1, "a", 2, "b", 3, "c"), nil)
	require.NoError(t, err)

	_, rows, err := table.ReadVersion(0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, rows, err = table.ReadVersion(1)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestTable_ReadVersion_NotFound(t *testing.T) {
	table := Open(filepath.Join(t.TempDir(), "main"))
	_, err := table.Commit(domain.OpWrite, testSchema, testRows(1, "a"), nil)
	require.NoError(t, err)

	_, _, err = table.ReadVersion(7)
	var notFound *domain.ErrVersionNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(7), notFound.Version)
}

func TestTable_ReadVersion_VacuumedFiles(t *testing.T) {
	table := Open(filepath.Join(t.TempDir(), "main"))
	_, err := table.Commit(domain.OpWrite, testSchema, testRows(1, "a"), nil)
	require.NoError(t, err)
	_, err = table.Commit(domain.OpWrite, testSchema, testRows(1, "a", 2, "b"), nil)
	require.NoError(t, err)

	// Simulate a vacuum removing the old data file.
	require.NoError(t, os.Remove(table.dataPath(0)))

	_, _, err = table.ReadVersion(0)
	var notFound *domain.ErrVersionNotFound
	require.ErrorAs(t, err, &notFound)

	// The head is untouched.
	_, rows, head, err := table.ReadLatest()
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
	assert.Len(t, rows, 2)
}

func TestTable_CommitRecordsMetrics(t *testing.T) {
	table := Open(filepath.Join(t.TempDir(), "main"))
	_, err := table.Commit(domain.OpMerge, testSchema, testRows(1, "a"), map[string]string{
		"numTargetRowsInserted": "1",
		"numTargetRowsUpdated":  "0",
	})
	require.NoError(t, err)

	rec, err := table.Record(0)
	require.NoError(t, err)
	assert.Equal(t, domain.OpMerge, rec.Operation)
	assert.Equal(t, "1", rec.OperationMetrics["numTargetRowsInserted"])
	assert.NotNil(t, rec.Schema)
}

func TestTable_NullValuesRoundTrip(t *testing.T) {
	table := Open(filepath.Join(t.TempDir(), "main"))
	rows := []domain.Row{
		{"id": int64(1), "v": "a"},
		{"id": int64(2), "v": nil},
	}
	_, err := table.Commit(domain.OpWrite, testSchema, rows, nil)
	require.NoError(t, err)

	_, got, _, err := table.ReadLatest()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[1]["v"])
	assert.Equal(t, int64(2), got[1]["id"])
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staging")
	table := Open(path)
	_, err := table.Commit(domain.OpWrite, testSchema, testRows(1, "a"), nil)
	require.NoError(t, err)

	require.NoError(t, Delete(path))
	assert.False(t, Exists(path))
}
