// Package liveedit manages cell-level editing sessions: an append-only
// edit log per session in the columnar log, overlay reads projecting the
// latest edit per cell onto the base table, and a bounded session
// lifetime.
package liveedit

import (
	"time"

	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

// Mode of a session.
type Mode string

const (
	ModeFullTable    Mode = "FULL_TABLE"
	ModeRowSelection Mode = "ROW_SELECTION"
)

// Status of a session.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPreview   Status = "PREVIEW"
	StatusSubmitted Status = "SUBMITTED"
	StatusAborted   Status = "ABORTED"
	StatusExpired   Status = "EXPIRED"
)

// DefaultTTL bounds a session's editable lifetime.
const DefaultTTL = 24 * time.Hour

// Session is one live-edit context.
type Session struct {
	SessionID    string   `json:"session_id"`
	ProjectID    string   `json:"project_id"`
	DatasetID    string   `json:"dataset_id"`
	UserID       string   `json:"user_id"`
	Mode         Mode     `json:"mode"`
	SelectedRows []string `json:"selected_rows,omitempty"`
	StagingPath  string   `json:"staging_path"`

	EditableColumns []string                     `json:"editable_columns"`
	RulesMap        map[string][]validation.Rule `json:"rules_map,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	EditCount    int `json:"edit_count"`
	CellsChanged int `json:"cells_changed"`
	RowsAffected int `json:"rows_affected"`

	ChangeRequestID string `json:"change_request_id,omitempty"`
}

// CanEdit reports whether the session accepts edits: ACTIVE, unexpired,
// and not frozen by an attached change request.
func (s *Session) CanEdit(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.ExpiresAt) && s.ChangeRequestID == ""
}

// IsExpired reports whether the session TTL has elapsed.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CellEdit is one record of the session's append-only edit log. The
// effective value of a cell is the NewValue of the last edit for its
// (row_id, column).
type CellEdit struct {
	EditID     string                 `json:"edit_id"`
	SessionID  string                 `json:"session_id"`
	RowID      string                 `json:"row_id"`
	Column     string                 `json:"column"`
	OldValue   interface{}            `json:"old_value"`
	NewValue   interface{}            `json:"new_value"`
	UserID     string                 `json:"user_id"`
	ClientTS   *time.Time             `json:"client_ts,omitempty"`
	ServerTS   time.Time              `json:"server_ts"`
	Validation *validation.CellResult `json:"validation,omitempty"`
	IsValid    bool                   `json:"is_valid"`
}

// CellEditRequest is one incoming edit.
type CellEditRequest struct {
	RowID    string      `json:"row_id"`
	Column   string      `json:"column"`
	NewValue interface{} `json:"new_value"`
	ClientTS string      `json:"client_ts,omitempty"`
}

// EditResponse reports the outcome of one edit. Status is "error" when
// the edit failed validation at blocking severity or was rejected.
type EditResponse struct {
	Status     string                 `json:"status"`
	Validation *validation.CellResult `json:"validation"`
	EditID     string                 `json:"edit_id,omitempty"`
}

// GridColumn describes one column of a grid page.
type GridColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Editable bool   `json:"editable"`
}

// GridRow is one overlaid row; Edited marks rows touched by the session.
type GridRow struct {
	RowID  string                 `json:"row_id"`
	Cells  map[string]interface{} `json:"cells"`
	Edited bool                   `json:"edited"`
}

// GridMeta carries pagination metadata.
type GridMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// GridData is one page of overlaid grid rows.
type GridData struct {
	Meta    GridMeta     `json:"meta"`
	Columns []GridColumn `json:"columns"`
	Rows    []GridRow    `json:"rows"`
}

// CellDiff is one entry of a preview.
type CellDiff struct {
	RowID  string      `json:"row_id"`
	Column string      `json:"column"`
	Old    interface{} `json:"old"`
	New    interface{} `json:"new"`
}

// Preview aggregates a session's edit log: Diffs and the Valid, Warnings
// and Errors counts cover every logged edit; RowsChanged and CellsChanged
// count effective (last-per-cell) edits.
type Preview struct {
	SessionID    string     `json:"session_id"`
	RowsChanged  int        `json:"rows_changed"`
	CellsChanged int        `json:"cells_changed"`
	Diffs        []CellDiff `json:"diffs"`
	Valid        int        `json:"valid"`
	Warnings     int        `json:"warnings"`
	Errors       int        `json:"errors"`
}

// ApplyResult reports an apply-changes mutation on main.
type ApplyResult struct {
	RowsUpdated int `json:"rows_updated"`
	RowsDeleted int `json:"rows_deleted"`
}
