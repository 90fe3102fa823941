package catalog

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put("cr/1", &record{Name: "a", Count: 2}))

	var got record
	found, err := store.Get("cr/1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 2, got.Count)

	found, err = store.Get("cr/missing", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Delete("cr/1"))
	found, err = store.Get("cr/1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Delete("cr/1"))
}

func TestList_PrefixAndOrder(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(fmt.Sprintf("crevt/x/%020d", i), &record{Count: i}))
	}
	require.NoError(t, store.Put("crevt/y/00000000000000000000", &record{Count: 99}))

	var counts []int
	err := store.List("crevt/x/", func(key string, value []byte) error {
		var r record
		require.NoError(t, json.Unmarshal(value, &r))
		counts = append(counts, r.Count)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, counts)
}

func TestNextSeq_Monotonic(t *testing.T) {
	store := newTestStore(t)

	var prev uint64
	first := true
	for i := 0; i < 10; i++ {
		seq, err := store.NextSeq("events")
		require.NoError(t, err)
		if !first {
			assert.Greater(t, seq, prev)
		}
		prev = seq
		first = false
	}
}

func TestDatasetOptions(t *testing.T) {
	store := newTestStore(t)

	// Absent options resolve to the zero value.
	opts, err := store.GetDatasetOptions("p1", "d1")
	require.NoError(t, err)
	assert.Empty(t, opts.RowIDColumn)
	assert.Empty(t, opts.PrimaryKeys)

	require.NoError(t, store.SetDatasetOptions("p1", "d1", &DatasetOptions{
		RowIDColumn: "id",
		PrimaryKeys: []string{"id"},
		Rules: map[string][]validation.Rule{
			"amount": {{Type: validation.RuleGreaterThan, Value: 0.0}},
		},
	}))

	opts, err = store.GetDatasetOptions("p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "id", opts.RowIDColumn)
	assert.Equal(t, []string{"id"}, opts.PrimaryKeys)
	require.Len(t, opts.Rules["amount"], 1)
	assert.Equal(t, validation.RuleGreaterThan, opts.Rules["amount"][0].Type)
}
