package changerequest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saurabh22suman/oreo.io-v3/pkg/catalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/paths"
	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := catalog.Open(catalog.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, paths.NewResolver(t.TempDir()))
}

func passedSummary() *validation.Summary {
	return &validation.Summary{State: validation.StatePassed, Counts: validation.Counts{}}
}

func TestCreate_SetsStagingPathAndEvent(t *testing.T) {
	svc := newTestService(t)

	cr, err := svc.Create(CreateRequest{ProjectID: "p1", DatasetID: "d1", Title: "add rows"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, cr.Status)
	assert.Contains(t, cr.StagingPath, cr.ID)
	assert.Equal(t, "alice", cr.CreatedBy)

	events, err := svc.Events(cr.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].EventType)
}

func TestSubmit_BlockedByErrors(t *testing.T) {
	svc := newTestService(t)
	cr, err := svc.Create(CreateRequest{ProjectID: "p1", DatasetID: "d1", Title: "x"}, "alice")
	require.NoError(t, err)

	summary := &validation.Summary{
		State:  validation.StateFailed,
		Counts: validation.Counts{Error: 3},
	}
	got, err := svc.SubmitForReview(cr.ID, "alice", summary)
	var blocked *domain.ErrValidationBlocked
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 3, blocked.Errors)
	// The CR remains DRAFT.
	assert.Equal(t, StatusDraft, got.Status)

	persisted, err := svc.Get(cr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, persisted.Status)
	assert.Equal(t, 3, persisted.ErrorsCount)
}

func TestSubmit_RequiresTitle(t *testing.T) {
	svc := newTestService(t)
	cr, err := svc.Create(CreateRequest{ProjectID: "p1", DatasetID: "d1"}, "alice")
	require.NoError(t, err)

	_, err = svc.SubmitForReview(cr.ID, "alice", passedSummary())
	var precondition *domain.ErrPreconditionFailed
	require.ErrorAs(t, err, &precondition)
}

func TestLifecycle_HappyPath(t *testing.T) {
	svc := newTestService(t)
	cr, err := svc.Create(CreateRequest{ProjectID: "p1", DatasetID: "d1", Title: "t"}, "alice")
	require.NoError(t, err)

	cr, err = svc.SubmitForReview(cr.ID, "alice", passedSummary())
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, cr.Status)

	cr, err = svc.Approve(cr.ID, "bob", "looks good", false)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, cr.Status)
	assert.NotNil(t, cr.ApprovedAt)

	cr, err = svc.MarkMerged(cr.ID, "system", 4, 5, false)
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, cr.Status)
	require.NotNil(t, cr.DeltaVersionBefore)
	require.NotNil(t, cr.DeltaVersionAfter)
	assert.Greater(t, *cr.DeltaVersionAfter, *cr.DeltaVersionBefore)

	cr, err = svc.Close(cr.ID, "system")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, cr.Status)

	events, err := svc.Events(cr.ID)
	require.NoError(t, err)
	types := make([]EventType, len(events))
	for i, evt := range events {
		types[i] = evt.EventType
	}
	assert.Equal(t, []EventType{EventCreated, EventSubmitted, EventApproved, EventMerged, EventCleanup}, types)
}

func TestReject_RequiresMessageAndAllowsResubmit(t *testing.T) {
	svc := newTestService(t)
	cr, err := svc.Create(CreateRequest{ProjectID: "p1", DatasetID: "d1", Title: "t"}, "alice")
	require.NoError(t, err)
	_, err = svc.SubmitForReview(cr.ID, "alice", passedSummary())
	require.NoError(t, err)

	_, err = svc.Reject(cr.ID, "bob", "  ")
	var precondition *domain.ErrPreconditionFailed
	require.ErrorAs(t, err, &precondition)

	cr, err = svc.Reject(cr.ID, "bob", "needs work")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, cr.Status)

	cr, err = svc.Resubmit(cr.ID, "alice", passedSummary())
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, cr.Status)
}

func TestIllegalTransitions(t *testing.T) {
	svc := newTestService(t)
	cr, err := svc.Create(CreateRequest{ProjectID: "p1", DatasetID: "d1", Title: "t"}, "alice")
	require.NoError(t, err)

	// DRAFT cannot be approved, rejected, or merged.
	_, err = svc.Approve(cr.ID, "bob", "", false)
	var illegal *domain.ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)

	_, err = svc.Reject(cr.ID, "bob", "msg")
	require.ErrorAs(t, err, &illegal)

	_, err = svc.MarkMerged(cr.ID, "system", 0, 1, false)
	require.ErrorAs(t, err, &illegal)

	_, err = svc.Close(cr.ID, "system")
	require.ErrorAs(t, err, &illegal)
}

func TestApprove_PartialPassOverride(t *testing.T) {
	svc := newTestService(t)
	cr, err := svc.Create(CreateRequest{ProjectID: "p1", DatasetID: "d1", Title: "t"}, "alice")
	require.NoError(t, err)

	summary := &validation.Summary{
		State:  validation.StatePartialPass,
		Counts: validation.Counts{Warning: 2},
	}
	_, err = svc.SubmitForReview(cr.ID, "alice", summary)
	require.NoError(t, err)

	cr, err = svc.Approve(cr.ID, "bob", "", true)
	require.NoError(t, err)
	assert.Equal(t, validation.StatePassed, cr.ValidationSummary.State)

	events, err := svc.Events(cr.ID)
	require.NoError(t, err)
	var found bool
	for _, evt := range events {
		if evt.EventType == EventOverrideApproved {
			found = true
			assert.Equal(t, "bob", evt.ActorID)
		}
	}
	assert.True(t, found, "override must be recorded as a distinct event")
}

func TestMarkMergeFailed_ReturnsToReview(t *testing.T) {
	svc := newTestService(t)
	cr, err := svc.Create(CreateRequest{ProjectID: "p1", DatasetID: "d1", Title: "t"}, "alice")
	require.NoError(t, err)
	_, err = svc.SubmitForReview(cr.ID, "alice", passedSummary())
	require.NoError(t, err)
	_, err = svc.Approve(cr.ID, "bob", "", false)
	require.NoError(t, err)

	cr, err = svc.MarkMergeFailed(cr.ID, "system", "engine exploded")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, cr.Status)
}

func TestGetMissingCR(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get("cr_nope")
	var notFound *domain.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestEditsRoundTrip(t *testing.T) {
	svc := newTestService(t)
	cr, err := svc.Create(CreateRequest{ProjectID: "p1", DatasetID: "d1", Title: "t"}, "alice")
	require.NoError(t, err)

	edits := &Edits{
		Diffs: []RowDiff{{
			RowID:   "1",
			Changes: map[string]map[string]interface{}{"amount": {"old": 100.0, "new": 150.0}},
		}},
	}
	require.NoError(t, svc.SaveEdits(cr.ID, "alice", edits))

	got, err := svc.GetEdits(cr.ID)
	require.NoError(t, err)
	assert.Equal(t, cr.ID, got.CRID)
	require.Len(t, got.Diffs, 1)
	assert.Equal(t, "1", got.Diffs[0].RowID)
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.CanCreate(RoleOwner))
	assert.True(t, p.CanCreate(RoleContributor))
	assert.False(t, p.CanCreate(RoleViewer))
	assert.True(t, p.CanApprove(RoleViewer))
	assert.True(t, p.CanMerge(RoleViewer))
	assert.True(t, p.CanView(RoleViewer))
	assert.False(t, p.CanView("stranger"))
}

func TestCanTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusDraft, StatusPendingReview))
	assert.True(t, CanTransition(StatusPendingReview, StatusApproved))
	assert.True(t, CanTransition(StatusPendingReview, StatusRejected))
	assert.True(t, CanTransition(StatusRejected, StatusPendingReview))
	assert.True(t, CanTransition(StatusApproved, StatusMerged))
	assert.True(t, CanTransition(StatusApproved, StatusPendingReview))
	assert.True(t, CanTransition(StatusMerged, StatusClosed))

	assert.False(t, CanTransition(StatusDraft, StatusApproved))
	assert.False(t, CanTransition(StatusDraft, StatusMerged))
	assert.False(t, CanTransition(StatusClosed, StatusPendingReview))
	assert.False(t, CanTransition(StatusMerged, StatusPendingReview))
}
