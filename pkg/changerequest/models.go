// Package changerequest owns the change request lifecycle: the six-state
// machine, the append-only event trail, and the gates that tie both to
// validation results.
package changerequest

import (
	"time"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

// Status is a change request lifecycle state.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pending_review"
	StatusRejected      Status = "rejected"
	StatusApproved      Status = "approved"
	StatusMerged        Status = "merged"
	StatusClosed        Status = "closed"
)

// EventType tags one audit-trail event.
type EventType string

const (
	EventCreated          EventType = "created"
	EventEdited           EventType = "edited"
	EventSubmitted        EventType = "submitted"
	EventApproved         EventType = "approved"
	EventRejected         EventType = "rejected"
	EventMerged           EventType = "merged"
	EventRestored         EventType = "restored"
	EventCleanup          EventType = "cleanup"
	EventMergeFailed      EventType = "merge_failed"
	EventOverrideApproved EventType = "override_approved"
)

// ChangeRequest is one reviewable unit of proposed change.
type ChangeRequest struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
	SessionID string `json:"session_id,omitempty"`

	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	CreatedBy   string   `json:"created_by"`
	Approvers   []string `json:"approvers,omitempty"`

	Status Status `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	MergedAt   *time.Time `json:"merged_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`

	// StagingPath is set at creation and never mutated; it is the identity
	// of the proposed change.
	StagingPath        string `json:"staging_path"`
	DeltaVersionBefore *int64 `json:"delta_version_before,omitempty"`
	DeltaVersionAfter  *int64 `json:"delta_version_after,omitempty"`

	RowCountAdded    int `json:"row_count_added"`
	RowCountUpdated  int `json:"row_count_updated"`
	RowCountDeleted  int `json:"row_count_deleted"`
	CellCountChanged int `json:"cell_count_changed"`

	ValidationSummary *validation.Summary `json:"validation_summary,omitempty"`
	WarningsCount     int                 `json:"warnings_count"`
	ErrorsCount       int                 `json:"errors_count"`
	FatalErrors       int                 `json:"fatal_errors"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Event is one append-only audit record of a change request.
type Event struct {
	ID        string                 `json:"id"`
	CRID      string                 `json:"cr_id"`
	EventType EventType              `json:"event_type"`
	ActorID   string                 `json:"actor_id"`
	Message   string                 `json:"message,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RowDiff is one row-level diff entry of a change request.
type RowDiff struct {
	RowID   string                            `json:"row_id"`
	Changes map[string]map[string]interface{} `json:"changes"` // column -> {old, new}
}

// Edits aggregates a change request's diff summary. Detailed diffs live in
// the dataset audit tree.
type Edits struct {
	CRID    string                 `json:"cr_id"`
	Diffs   []RowDiff              `json:"diffs"`
	Summary map[string]interface{} `json:"summary,omitempty"`
}

// validTransitions is the full transition table; everything absent is
// rejected with ErrIllegalTransition.
var validTransitions = map[Status][]Status{
	StatusDraft:         {StatusPendingReview},
	StatusPendingReview: {StatusApproved, StatusRejected},
	StatusRejected:      {StatusPendingReview},
	StatusApproved:      {StatusMerged, StatusPendingReview},
	StatusMerged:        {StatusClosed},
	StatusClosed:        {},
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// checkTransition returns a typed error for a rejected transition.
func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &domain.ErrIllegalTransition{From: string(from), To: string(to)}
	}
	return nil
}

// validateSubmission is the submission gate: DRAFT, a title, and no
// blocking validation results.
func validateSubmission(cr *ChangeRequest) error {
	if cr.Status != StatusDraft {
		return &domain.ErrIllegalTransition{From: string(cr.Status), To: string(StatusPendingReview)}
	}
	if cr.Title == "" {
		return &domain.ErrPreconditionFailed{Reason: "change request must have a title"}
	}
	if cr.FatalErrors > 0 || cr.ErrorsCount > 0 {
		return &domain.ErrValidationBlocked{
			Reason: "change request has blocking validation results",
			Errors: cr.ErrorsCount,
			Fatal:  cr.FatalErrors,
		}
	}
	return nil
}

// validateApproval is the approval gate: PENDING_REVIEW and no blocking
// validation results. Warnings pass but propagate to the audit trail.
func validateApproval(cr *ChangeRequest) error {
	if cr.Status != StatusPendingReview {
		return &domain.ErrIllegalTransition{From: string(cr.Status), To: string(StatusApproved)}
	}
	if cr.FatalErrors > 0 || cr.ErrorsCount > 0 {
		return &domain.ErrValidationBlocked{
			Reason: "change request has blocking validation results",
			Errors: cr.ErrorsCount,
			Fatal:  cr.FatalErrors,
		}
	}
	return nil
}

// validateMerge is the merge gate: APPROVED with a staging path.
func validateMerge(cr *ChangeRequest) error {
	if cr.Status != StatusApproved {
		return &domain.ErrIllegalTransition{From: string(cr.Status), To: string(StatusMerged)}
	}
	if cr.StagingPath == "" {
		return &domain.ErrPreconditionFailed{Reason: "change request staging path not set"}
	}
	return nil
}

// Role names used by the permission policy.
const (
	RoleOwner       = "owner"
	RoleContributor = "contributor"
	RoleViewer      = "viewer"
)

// Policy maps capabilities to the roles allowed to exercise them.
type Policy struct {
	Create  []string `json:"create"`
	Approve []string `json:"approve"`
	Merge   []string `json:"merge"`
	View    []string `json:"view"`
}

// DefaultPolicy reproduces the current upstream policy: creating needs
// owner or contributor; approve/merge/view are open to every role.
func DefaultPolicy() Policy {
	all := []string{RoleOwner, RoleContributor, RoleViewer}
	return Policy{
		Create:  []string{RoleOwner, RoleContributor},
		Approve: all,
		Merge:   all,
		View:    all,
	}
}

func contains(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanCreate reports whether a role may create change requests.
func (p Policy) CanCreate(role string) bool { return contains(p.Create, role) }

// CanApprove reports whether a role may approve change requests.
func (p Policy) CanApprove(role string) bool { return contains(p.Approve, role) }

// CanMerge reports whether a role may merge change requests.
func (p Policy) CanMerge(role string) bool { return contains(p.Merge, role) }

// CanView reports whether a role may view change requests.
func (p Policy) CanView(role string) bool { return contains(p.View, role) }
