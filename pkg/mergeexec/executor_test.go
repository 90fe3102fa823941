package mergeexec

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saurabh22suman/oreo.io-v3/pkg/audit"
	"github.com/saurabh22suman/oreo.io-v3/pkg/catalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/changerequest"
	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/paths"
	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

type fixture struct {
	executor *Executor
	adapter  *delta.Adapter
	crs      *changerequest.Service
	store    *catalog.Store
	mainPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := catalog.Open(catalog.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := paths.NewResolver(t.TempDir())
	adapter := delta.NewAdapter(resolver)
	crs := changerequest.NewService(store, resolver)
	executor := NewExecutor(adapter, crs, store, audit.NewWriter(resolver))

	mainPath, err := resolver.Main("p1", "d1")
	require.NoError(t, err)
	_, err = adapter.AppendDedup(context.Background(), mainPath, []domain.Row{
		{"id": int64(1), "v": "a"},
	})
	require.NoError(t, err)

	return &fixture{executor: executor, adapter: adapter, crs: crs, store: store, mainPath: mainPath}
}

// approvedCR creates an APPROVED change request whose staging table holds
// the given rows, with the optimistic baseline at the current head.
func (f *fixture) approvedCR(t *testing.T, rows []domain.Row) *changerequest.ChangeRequest {
	t.Helper()
	ctx := context.Background()

	cr, err := f.crs.Create(changerequest.CreateRequest{
		ProjectID: "p1", DatasetID: "d1", Title: "batch",
	}, "alice")
	require.NoError(t, err)

	_, err = f.adapter.Overwrite(ctx, cr.StagingPath, rows)
	require.NoError(t, err)

	head, err := f.adapter.HeadVersion(f.mainPath)
	require.NoError(t, err)
	require.NoError(t, f.crs.SetVersionBefore(cr.ID, head))

	summary := &validation.Summary{State: validation.StatePassed}
	_, err = f.crs.SubmitForReview(cr.ID, "alice", summary)
	require.NoError(t, err)
	cr, err = f.crs.Approve(cr.ID, "bob", "", false)
	require.NoError(t, err)
	return cr
}

func TestMergeCR_ApproveMergeCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr := f.approvedCR(t, []domain.Row{
		{"id": int64(2), "v": "B"},
		{"id": int64(3), "v": "C"},
	})

	result, err := f.executor.MergeCR(ctx, Request{CRID: cr.ID, ExecutorID: "system", PrimaryKeys: []string{"id"}})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.True(t, result.Cleanup)
	assert.Greater(t, result.VersionAfter, result.VersionBefore)

	// Main now holds the upserted content.
	res, err := f.adapter.Query(ctx, f.mainPath, &domain.QueryOptions{OrderBy: `"id"`})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "a", res.Rows[0]["v"])
	assert.Equal(t, "B", res.Rows[1]["v"])
	assert.Equal(t, "C", res.Rows[2]["v"])

	// The CR is MERGED with versions recorded, staging deleted, and a
	// merged event present.
	merged, err := f.crs.Get(cr.ID)
	require.NoError(t, err)
	assert.Equal(t, changerequest.StatusMerged, merged.Status)
	require.NotNil(t, merged.DeltaVersionAfter)
	assert.Greater(t, *merged.DeltaVersionAfter, *merged.DeltaVersionBefore)
	assert.False(t, f.adapter.Exists(cr.StagingPath))

	events, err := f.crs.Events(cr.ID)
	require.NoError(t, err)
	var sawMerged bool
	for _, evt := range events {
		if evt.EventType == changerequest.EventMerged {
			sawMerged = true
		}
	}
	assert.True(t, sawMerged)

	// Audit artifacts exist.
	auditDir, err := f.adapter.Resolver().AuditChangeRequest("p1", "d1", cr.ID)
	require.NoError(t, err)
	for _, name := range []string{"merge_result.json", "diff.json"} {
		data, err := os.ReadFile(filepath.Join(auditDir, name))
		require.NoError(t, err, name)
		assert.True(t, json.Valid(data), name)
	}
}

func TestMergeCR_Conflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Seed main with the row both writers will touch.
	_, err := f.adapter.AppendDedup(ctx, f.mainPath, []domain.Row{{"id": int64(7), "v": "x"}})
	require.NoError(t, err)

	cr := f.approvedCR(t, []domain.Row{{"id": int64(7), "v": "mine"}})

	// Another merge advances main and rewrites id=7.
	other, err := f.adapter.Resolver().Staging("p1", "d1", "cr_other")
	require.NoError(t, err)
	_, err = f.adapter.Overwrite(ctx, other, []domain.Row{{"id": int64(7), "v": "theirs"}})
	require.NoError(t, err)
	_, err = f.adapter.Merge(ctx, f.mainPath, other, []string{"id"})
	require.NoError(t, err)

	headBefore, err := f.adapter.HeadVersion(f.mainPath)
	require.NoError(t, err)

	result, err := f.executor.MergeCR(ctx, Request{CRID: cr.ID, ExecutorID: "system", PrimaryKeys: []string{"id"}})
	var conflict *domain.ErrMergeConflict
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, "theirs", conflict.Conflicts[0]["v"])
	require.NotNil(t, result)
	assert.Equal(t, "merge_conflict", result.Error)

	// The CR stays APPROVED, main is unchanged, and the conflict report
	// was persisted.
	after, err := f.crs.Get(cr.ID)
	require.NoError(t, err)
	assert.Equal(t, changerequest.StatusApproved, after.Status)

	headAfter, err := f.adapter.HeadVersion(f.mainPath)
	require.NoError(t, err)
	assert.Equal(t, headBefore, headAfter)

	auditDir, err := f.adapter.Resolver().AuditChangeRequest("p1", "d1", cr.ID)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(auditDir, "conflicts.json"))
	require.NoError(t, err)
}

func TestMergeCR_ForceMergeSkipsConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.adapter.AppendDedup(ctx, f.mainPath, []domain.Row{{"id": int64(7), "v": "x"}})
	require.NoError(t, err)
	cr := f.approvedCR(t, []domain.Row{{"id": int64(7), "v": "mine"}})

	other, err := f.adapter.Resolver().Staging("p1", "d1", "cr_other")
	require.NoError(t, err)
	_, err = f.adapter.Overwrite(ctx, other, []domain.Row{{"id": int64(7), "v": "theirs"}})
	require.NoError(t, err)
	_, err = f.adapter.Merge(ctx, f.mainPath, other, []string{"id"})
	require.NoError(t, err)

	result, err := f.executor.MergeCR(ctx, Request{
		CRID: cr.ID, ExecutorID: "system", PrimaryKeys: []string{"id"}, SkipConflictCheck: true,
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.True(t, result.Forced)

	res, err := f.adapter.Query(ctx, f.mainPath, &domain.QueryOptions{
		Filters: []domain.Filter{{Field: "id", Value: 7}},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "mine", res.Rows[0]["v"])

	// The forced merge is distinguishable in the audit trail.
	events, err := f.crs.Events(cr.ID)
	require.NoError(t, err)
	var forced bool
	for _, evt := range events {
		if evt.EventType == changerequest.EventMerged && evt.Metadata["forced"] == true {
			forced = true
		}
	}
	assert.True(t, forced)
}

func TestMergeCR_SkipsConflictCheckWhenVersionUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Staging touches an existing key, but main has not moved since the
	// baseline was recorded, so the merge is a plain upsert.
	cr := f.approvedCR(t, []domain.Row{{"id": int64(1), "v": "updated"}})

	result, err := f.executor.MergeCR(ctx, Request{CRID: cr.ID, ExecutorID: "system", PrimaryKeys: []string{"id"}})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.Merge.RowsUpdated)
}

func TestMergeCR_RequiresApprovedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr, err := f.crs.Create(changerequest.CreateRequest{ProjectID: "p1", DatasetID: "d1", Title: "t"}, "alice")
	require.NoError(t, err)

	_, err = f.executor.MergeCR(ctx, Request{CRID: cr.ID, ExecutorID: "system"})
	var illegal *domain.ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
}

func TestMergeCR_BlockedByValidationState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr := f.approvedCR(t, []domain.Row{{"id": int64(2), "v": "b"}})

	// Degrade the embedded summary to PARTIAL_PASS without an override.
	loaded, err := f.crs.Get(cr.ID)
	require.NoError(t, err)
	loaded.ValidationSummary.State = validation.StatePartialPass
	require.NoError(t, f.store.Put("cr/"+loaded.ID, loaded))

	_, err = f.executor.MergeCR(ctx, Request{CRID: cr.ID, ExecutorID: "system", PrimaryKeys: []string{"id"}})
	var blocked *domain.ErrValidationBlocked
	require.ErrorAs(t, err, &blocked)
}

func TestMergeCR_MissingStagingFailsPrecondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cr := f.approvedCR(t, []domain.Row{{"id": int64(2), "v": "b"}})
	require.NoError(t, f.adapter.DeleteTable(cr.StagingPath))

	_, err := f.executor.MergeCR(ctx, Request{CRID: cr.ID, ExecutorID: "system"})
	var precondition *domain.ErrPreconditionFailed
	require.ErrorAs(t, err, &precondition)
}

func TestMergeCR_DefaultKeysFromDatasetOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetDatasetOptions("p1", "d1", &catalog.DatasetOptions{
		PrimaryKeys: []string{"id"},
	}))
	cr := f.approvedCR(t, []domain.Row{{"id": int64(5), "v": "e"}})

	result, err := f.executor.MergeCR(ctx, Request{CRID: cr.ID, ExecutorID: "system"})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.Merge.RowsInserted)
}

func TestMergeCR_ArchiveStaging(t *testing.T) {
	f := newFixture(t)
	f.executor.ArchiveStaging = true
	ctx := context.Background()

	cr := f.approvedCR(t, []domain.Row{{"id": int64(9), "v": "z"}})
	result, err := f.executor.MergeCR(ctx, Request{CRID: cr.ID, ExecutorID: "system", PrimaryKeys: []string{"id"}})
	require.NoError(t, err)
	assert.True(t, result.OK)

	assert.False(t, f.adapter.Exists(cr.StagingPath))
	archived := filepath.Join(f.adapter.Resolver().Root(), "archive", "change_requests", cr.ID)
	_, err = os.Stat(archived)
	require.NoError(t, err)
}
