package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced out of the core carries one of these
// so the boundary can map it to a transport status.

// ErrNotFound reports a missing dataset, table, CR, session or upload.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ErrIllegalTransition reports a rejected change-request state transition.
type ErrIllegalTransition struct {
	From string
	To   string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

// ErrValidationBlocked reports blocking validation results (error or fatal
// severity) on a gated operation.
type ErrValidationBlocked struct {
	Reason string
	Errors int
	Fatal  int
}

func (e *ErrValidationBlocked) Error() string {
	return fmt.Sprintf("validation blocked: %s (errors=%d fatal=%d)", e.Reason, e.Errors, e.Fatal)
}

// ErrSchemaMismatch reports rows that cannot be aligned to the target schema.
type ErrSchemaMismatch struct {
	Path   string
	Detail string
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch on %s: %s", e.Path, e.Detail)
}

// ErrMergeConflict reports an optimistic-concurrency violation. Conflicts
// holds the conflicting target rows for the audit report.
type ErrMergeConflict struct {
	Conflicts []Row
}

func (e *ErrMergeConflict) Error() string {
	return fmt.Sprintf("merge conflicts detected: %d rows", len(e.Conflicts))
}

// ErrVersionNotFound reports a time-travel target outside the retention
// window or with vacuumed files.
type ErrVersionNotFound struct {
	Path    string
	Version int64
}

func (e *ErrVersionNotFound) Error() string {
	return fmt.Sprintf("version %d not found for %s", e.Version, e.Path)
}

// ErrPreconditionFailed reports an operation whose preconditions do not
// hold (missing staging path, expired session, frozen session, ...).
type ErrPreconditionFailed struct {
	Reason string
}

func (e *ErrPreconditionFailed) Error() string {
	return "precondition failed: " + e.Reason
}

// ErrInternal wraps an unexpected failure with a correlation id.
type ErrInternal struct {
	CorrelationID string
	Err           error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error [%s]: %v", e.CorrelationID, e.Err)
}

func (e *ErrInternal) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an ErrNotFound or ErrVersionNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	var vnf *ErrVersionNotFound
	return errors.As(err, &nf) || errors.As(err, &vnf)
}
