package changerequest

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saurabh22suman/oreo.io-v3/pkg/catalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/paths"
	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

const (
	crKeyPrefix    = "cr/"
	eventKeyPrefix = "crevt/"
	editsKeyPrefix = "credits/"
)

// Service owns change request records and their event trail in the
// catalog. Only the merge executor moves a CR to MERGED.
type Service struct {
	store    *catalog.Store
	resolver *paths.Resolver
	policy   Policy
}

// NewService creates a change request service.
func NewService(store *catalog.Store, resolver *paths.Resolver) *Service {
	return &Service{store: store, resolver: resolver, policy: DefaultPolicy()}
}

// SetPolicy replaces the permission policy.
func (s *Service) SetPolicy(p Policy) { s.policy = p }

// Policy returns the active permission policy.
func (s *Service) Policy() Policy { return s.policy }

func shortID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func logEvent(event string, fields map[string]interface{}) {
	payload := map[string]interface{}{"event": event}
	for k, v := range fields {
		payload[k] = v
	}
	data, _ := json.Marshal(payload)
	log.Printf("[ChangeRequest] %s", data)
}

// CreateRequest carries the creation parameters.
type CreateRequest struct {
	ProjectID   string   `json:"project_id"`
	DatasetID   string   `json:"dataset_id"`
	SessionID   string   `json:"session_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Approvers   []string `json:"approvers,omitempty"`
}

// Create mints a new change request in DRAFT with its staging path fixed
// for life, and records the created event.
func (s *Service) Create(req CreateRequest, createdBy string) (*ChangeRequest, error) {
	crID := shortID("cr_")
	stagingPath, err := s.resolver.Staging(req.ProjectID, req.DatasetID, crID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cr := &ChangeRequest{
		ID:          crID,
		ProjectID:   req.ProjectID,
		DatasetID:   req.DatasetID,
		SessionID:   req.SessionID,
		Title:       req.Title,
		Description: req.Description,
		CreatedBy:   createdBy,
		Approvers:   req.Approvers,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		StagingPath: stagingPath,
	}
	if err := s.put(cr); err != nil {
		return nil, err
	}
	if err := s.appendEvent(crID, EventCreated, createdBy, "Created CR: "+req.Title, nil); err != nil {
		return nil, err
	}

	logEvent("cr_created", map[string]interface{}{
		"cr_id": crID, "project_id": req.ProjectID, "dataset_id": req.DatasetID, "created_by": createdBy,
	})
	return cr, nil
}

// Get loads a change request by id.
func (s *Service) Get(crID string) (*ChangeRequest, error) {
	var cr ChangeRequest
	found, err := s.store.Get(crKeyPrefix+crID, &cr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &domain.ErrNotFound{Kind: "change request", ID: crID}
	}
	return &cr, nil
}

// List returns change requests matching the optional filters, newest
// first.
func (s *Service) List(projectID, datasetID string, status Status) ([]*ChangeRequest, error) {
	var results []*ChangeRequest
	err := s.store.List(crKeyPrefix, func(_ string, value []byte) error {
		var cr ChangeRequest
		if err := json.Unmarshal(value, &cr); err != nil {
			return err
		}
		if projectID != "" && cr.ProjectID != projectID {
			return nil
		}
		if datasetID != "" && cr.DatasetID != datasetID {
			return nil
		}
		if status != "" && cr.Status != status {
			return nil
		}
		results = append(results, &cr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.After(results[j].CreatedAt) })
	return results, nil
}

// ApplySummary embeds a validation summary and refreshes the cached
// severity counters.
func ApplySummary(cr *ChangeRequest, summary *validation.Summary) {
	cr.ValidationSummary = summary
	cr.WarningsCount = summary.Counts.Warning
	cr.ErrorsCount = summary.Counts.Error
	cr.FatalErrors = summary.Counts.Fatal
}

// SubmitForReview transitions DRAFT -> PENDING_REVIEW behind the
// submission gate.
func (s *Service) SubmitForReview(crID, submitterID string, summary *validation.Summary) (*ChangeRequest, error) {
	cr, err := s.Get(crID)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		ApplySummary(cr, summary)
	}
	if err := validateSubmission(cr); err != nil {
		// Persist refreshed counters even when the gate rejects.
		s.put(cr)
		return cr, err
	}
	if err := checkTransition(cr.Status, StatusPendingReview); err != nil {
		return cr, err
	}

	cr.Status = StatusPendingReview
	cr.UpdatedAt = time.Now().UTC()
	if err := s.put(cr); err != nil {
		return nil, err
	}
	if err := s.appendEvent(crID, EventSubmitted, submitterID, "Submitted for review", nil); err != nil {
		return nil, err
	}
	logEvent("cr_submitted", map[string]interface{}{
		"cr_id": crID, "submitter_id": submitterID, "warnings": cr.WarningsCount, "errors": cr.ErrorsCount,
	})
	return cr, nil
}

// Approve transitions PENDING_REVIEW -> APPROVED behind the approval gate.
// When the embedded summary sits at PARTIAL_PASS and overridePartial is
// set, the override is recorded as its own event and the summary state
// advances to PASSED.
func (s *Service) Approve(crID, approverID, message string, overridePartial bool) (*ChangeRequest, error) {
	cr, err := s.Get(crID)
	if err != nil {
		return nil, err
	}
	if err := validateApproval(cr); err != nil {
		return cr, err
	}
	if err := checkTransition(cr.Status, StatusApproved); err != nil {
		return cr, err
	}

	if overridePartial && cr.ValidationSummary != nil && cr.ValidationSummary.State == validation.StatePartialPass {
		cr.ValidationSummary.State = validation.Transition(validation.StatePartialPass, cr.ValidationSummary.Counts, true)
		if err := s.appendEvent(crID, EventOverrideApproved, approverID,
			"Warnings overridden by approver", map[string]interface{}{"warnings": cr.WarningsCount}); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	cr.Status = StatusApproved
	cr.ApprovedAt = &now
	cr.UpdatedAt = now
	if err := s.put(cr); err != nil {
		return nil, err
	}
	if message == "" {
		message = "Approved"
	}
	if err := s.appendEvent(crID, EventApproved, approverID, message, nil); err != nil {
		return nil, err
	}
	logEvent("cr_approved", map[string]interface{}{"cr_id": crID, "approver_id": approverID})
	return cr, nil
}

// Reject transitions PENDING_REVIEW -> REJECTED. A message is required.
func (s *Service) Reject(crID, reviewerID, message string) (*ChangeRequest, error) {
	if strings.TrimSpace(message) == "" {
		return nil, &domain.ErrPreconditionFailed{Reason: "rejection requires a message"}
	}
	cr, err := s.Get(crID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cr.Status, StatusRejected); err != nil {
		return cr, err
	}

	now := time.Now().UTC()
	cr.Status = StatusRejected
	cr.RejectedAt = &now
	cr.UpdatedAt = now
	if err := s.put(cr); err != nil {
		return nil, err
	}
	if err := s.appendEvent(crID, EventRejected, reviewerID, message, nil); err != nil {
		return nil, err
	}
	logEvent("cr_rejected", map[string]interface{}{"cr_id": crID, "reviewer_id": reviewerID, "reason": message})
	return cr, nil
}

// Resubmit transitions REJECTED -> PENDING_REVIEW after edits.
func (s *Service) Resubmit(crID, submitterID string, summary *validation.Summary) (*ChangeRequest, error) {
	cr, err := s.Get(crID)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		ApplySummary(cr, summary)
	}
	if cr.FatalErrors > 0 || cr.ErrorsCount > 0 {
		s.put(cr)
		return cr, &domain.ErrValidationBlocked{
			Reason: "change request has blocking validation results",
			Errors: cr.ErrorsCount,
			Fatal:  cr.FatalErrors,
		}
	}
	if err := checkTransition(cr.Status, StatusPendingReview); err != nil {
		return cr, err
	}

	cr.Status = StatusPendingReview
	cr.UpdatedAt = time.Now().UTC()
	if err := s.put(cr); err != nil {
		return nil, err
	}
	if err := s.appendEvent(crID, EventSubmitted, submitterID, "Resubmitted for review", nil); err != nil {
		return nil, err
	}
	return cr, nil
}

// ValidateMergeable runs the merge gate without mutating the record.
func (s *Service) ValidateMergeable(cr *ChangeRequest) error {
	return validateMerge(cr)
}

// MarkMerged finalises a successful merge: APPROVED -> MERGED with the
// recorded log versions and a merged event. forced marks a merge that
// skipped conflict detection.
func (s *Service) MarkMerged(crID, executorID string, versionBefore, versionAfter int64, forced bool) (*ChangeRequest, error) {
	cr, err := s.Get(crID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cr.Status, StatusMerged); err != nil {
		return cr, err
	}

	now := time.Now().UTC()
	cr.Status = StatusMerged
	cr.DeltaVersionBefore = &versionBefore
	cr.DeltaVersionAfter = &versionAfter
	cr.MergedAt = &now
	cr.UpdatedAt = now
	if err := s.put(cr); err != nil {
		return nil, err
	}
	meta := map[string]interface{}{"version_before": versionBefore, "version_after": versionAfter}
	if forced {
		meta["forced"] = true
	}
	if err := s.appendEvent(crID, EventMerged, executorID,
		fmt.Sprintf("Merged to version %d", versionAfter), meta); err != nil {
		return nil, err
	}
	logEvent("cr_merged", map[string]interface{}{
		"cr_id": crID, "version_before": versionBefore, "version_after": versionAfter, "executor_id": executorID,
	})
	return cr, nil
}

// MarkMergeFailed returns a failed merge to review: APPROVED ->
// PENDING_REVIEW with an error event. The staging table is preserved by
// the executor.
func (s *Service) MarkMergeFailed(crID, executorID, reason string) (*ChangeRequest, error) {
	cr, err := s.Get(crID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cr.Status, StatusPendingReview); err != nil {
		return cr, err
	}
	cr.Status = StatusPendingReview
	cr.UpdatedAt = time.Now().UTC()
	if err := s.put(cr); err != nil {
		return nil, err
	}
	if err := s.appendEvent(crID, EventMergeFailed, executorID, reason, nil); err != nil {
		return nil, err
	}
	logEvent("cr_merge_failed", map[string]interface{}{"cr_id": crID, "reason": reason})
	return cr, nil
}

// Close finalises a merged change request: MERGED -> CLOSED.
func (s *Service) Close(crID, actorID string) (*ChangeRequest, error) {
	cr, err := s.Get(crID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(cr.Status, StatusClosed); err != nil {
		return cr, err
	}
	now := time.Now().UTC()
	cr.Status = StatusClosed
	cr.ClosedAt = &now
	cr.UpdatedAt = now
	if err := s.put(cr); err != nil {
		return nil, err
	}
	if err := s.appendEvent(crID, EventCleanup, actorID, "Closed after merge", nil); err != nil {
		return nil, err
	}
	return cr, nil
}

// RecordCleanup appends a cleanup event (staging removal, archival).
func (s *Service) RecordCleanup(crID, actorID, message string) error {
	return s.appendEvent(crID, EventCleanup, actorID, message, nil)
}

// SetVersionBefore records the optimistic-concurrency baseline.
func (s *Service) SetVersionBefore(crID string, version int64) error {
	cr, err := s.Get(crID)
	if err != nil {
		return err
	}
	cr.DeltaVersionBefore = &version
	cr.UpdatedAt = time.Now().UTC()
	return s.put(cr)
}

// UpdateCounters refreshes the row/cell counters of a change request.
func (s *Service) UpdateCounters(crID string, added, updated, deleted, cells int) error {
	cr, err := s.Get(crID)
	if err != nil {
		return err
	}
	cr.RowCountAdded = added
	cr.RowCountUpdated = updated
	cr.RowCountDeleted = deleted
	cr.CellCountChanged = cells
	cr.UpdatedAt = time.Now().UTC()
	return s.put(cr)
}

// Events returns the full audit trail of a change request in append
// order.
func (s *Service) Events(crID string) ([]*Event, error) {
	if _, err := s.Get(crID); err != nil {
		return nil, err
	}
	var events []*Event
	err := s.store.List(eventKeyPrefix+crID+"/", func(_ string, value []byte) error {
		var evt Event
		if err := json.Unmarshal(value, &evt); err != nil {
			return err
		}
		events = append(events, &evt)
		return nil
	})
	return events, err
}

// SaveEdits stores the aggregated diff summary of a change request and
// records an edited event.
func (s *Service) SaveEdits(crID, actorID string, edits *Edits) error {
	if _, err := s.Get(crID); err != nil {
		return err
	}
	edits.CRID = crID
	if err := s.store.Put(editsKeyPrefix+crID, edits); err != nil {
		return err
	}
	if err := s.appendEvent(crID, EventEdited, actorID,
		fmt.Sprintf("Saved %d row diffs", len(edits.Diffs)), nil); err != nil {
		return err
	}
	logEvent("cr_edits_saved", map[string]interface{}{"cr_id": crID, "diff_count": len(edits.Diffs)})
	return nil
}

// GetEdits loads the aggregated diff summary.
func (s *Service) GetEdits(crID string) (*Edits, error) {
	var edits Edits
	found, err := s.store.Get(editsKeyPrefix+crID, &edits)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &domain.ErrNotFound{Kind: "change request edits", ID: crID}
	}
	return &edits, nil
}

func (s *Service) put(cr *ChangeRequest) error {
	return s.store.Put(crKeyPrefix+cr.ID, cr)
}

// appendEvent persists an immutable event under a monotonic sequence key.
func (s *Service) appendEvent(crID string, eventType EventType, actorID, message string, metadata map[string]interface{}) error {
	seq, err := s.store.NextSeq("crevt")
	if err != nil {
		return err
	}
	evt := &Event{
		ID:        shortID("evt_"),
		CRID:      crID,
		EventType: eventType,
		ActorID:   actorID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	key := fmt.Sprintf("%s%s/%020d", eventKeyPrefix, crID, seq)
	return s.store.Put(key, evt)
}
