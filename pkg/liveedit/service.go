package liveedit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saurabh22suman/oreo.io-v3/pkg/catalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/deltalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

const sessionKeyPrefix = "sess/"

// editsSchema is the fixed schema of a session's edit-log table.
var editsSchema = &domain.TableInfo{
	Name: "edits",
	Columns: []domain.ColumnInfo{
		{Name: "edit_id", Type: "string"},
		{Name: "session_id", Type: "string"},
		{Name: "row_id", Type: "string"},
		{Name: "column", Type: "string"},
		{Name: "old_value", Type: "string", Nullable: true},
		{Name: "new_value", Type: "string", Nullable: true},
		{Name: "user_id", Type: "string"},
		{Name: "client_ts", Type: "int64", Nullable: true},
		{Name: "server_ts", Type: "int64"},
		{Name: "validation", Type: "string", Nullable: true},
		{Name: "is_valid", Type: "boolean"},
	},
}

// Service owns live-edit sessions and their edit logs.
type Service struct {
	store     *catalog.Store
	adapter   *delta.Adapter
	validator *validation.Validator
	ttl       time.Duration
	now       func() time.Time
}

// NewService creates a session manager with the default TTL.
func NewService(store *catalog.Store, adapter *delta.Adapter) *Service {
	return &Service{
		store:     store,
		adapter:   adapter,
		validator: validation.NewValidator(),
		ttl:       DefaultTTL,
		now:       time.Now,
	}
}

// SetTTL overrides the session lifetime (tests, config).
func (s *Service) SetTTL(ttl time.Duration) { s.ttl = ttl }

func logEvent(event string, fields map[string]interface{}) {
	payload := map[string]interface{}{"event": event}
	for k, v := range fields {
		payload[k] = v
	}
	data, _ := json.Marshal(payload)
	log.Printf("[LiveEdit] %s", data)
}

func shortID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// StartSessionRequest carries session creation parameters.
type StartSessionRequest struct {
	UserID string   `json:"user_id"`
	Mode   Mode     `json:"mode"`
	Rows   []string `json:"rows,omitempty"`
}

// StartSessionResponse returns the minted session plus a data sample.
type StartSessionResponse struct {
	SessionID       string                       `json:"session_id"`
	StagingPath     string                       `json:"staging_path"`
	EditableColumns []string                     `json:"editable_columns"`
	RulesMap        map[string][]validation.Rule `json:"rules_map,omitempty"`
	SampleRows      []domain.Row                 `json:"sample_rows"`
	ExpiresAt       time.Time                    `json:"expires_at"`
}

// StartSession mints a session, resolves editable columns and rules from
// the dataset options, allocates the edit-log table and returns sample
// rows from main.
func (s *Service) StartSession(ctx context.Context, projectID, datasetID string, req StartSessionRequest) (*StartSessionResponse, error) {
	sessionID := shortID("sess_")

	editsPath, err := s.adapter.Resolver().LiveEdit(projectID, datasetID, sessionID)
	if err != nil {
		return nil, err
	}

	opts, err := s.store.GetDatasetOptions(projectID, datasetID)
	if err != nil {
		return nil, err
	}
	editable := opts.EditableColumns
	if len(editable) == 0 {
		// Without configuration every base column is editable.
		mainPath, err := s.adapter.Resolver().Main(projectID, datasetID)
		if err != nil {
			return nil, err
		}
		if info, err := s.adapter.Schema(ctx, mainPath); err == nil {
			for _, col := range info.Columns {
				editable = append(editable, col.Name)
			}
		}
	}

	now := s.now().UTC()
	session := &Session{
		SessionID:       sessionID,
		ProjectID:       projectID,
		DatasetID:       datasetID,
		UserID:          req.UserID,
		Mode:            req.Mode,
		StagingPath:     editsPath,
		EditableColumns: editable,
		RulesMap:        opts.Rules,
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(s.ttl),
	}
	if req.Mode == ModeRowSelection {
		session.SelectedRows = req.Rows
	}

	// Allocate an empty edit log so the session table exists from the
	// first read.
	if _, err := deltalog.Open(editsPath).Commit(domain.OpOverwrite, editsSchema, nil, map[string]string{"numOutputRows": "0"}); err != nil {
		return nil, err
	}
	if err := s.put(session); err != nil {
		return nil, err
	}

	sample := s.sampleRows(ctx, projectID, datasetID, 10)

	logEvent("live_session_created", map[string]interface{}{
		"session_id": sessionID, "user_id": req.UserID, "dataset_id": datasetID, "mode": req.Mode,
	})
	return &StartSessionResponse{
		SessionID:       sessionID,
		StagingPath:     editsPath,
		EditableColumns: editable,
		RulesMap:        opts.Rules,
		SampleRows:      sample,
		ExpiresAt:       session.ExpiresAt,
	}, nil
}

func (s *Service) sampleRows(ctx context.Context, projectID, datasetID string, limit int) []domain.Row {
	mainPath, err := s.adapter.Resolver().Main(projectID, datasetID)
	if err != nil {
		return []domain.Row{}
	}
	result, err := s.adapter.Query(ctx, mainPath, &domain.QueryOptions{Limit: limit})
	if err != nil {
		return []domain.Row{}
	}
	return result.Rows
}

// GetSession loads a session by id.
func (s *Service) GetSession(sessionID string) (*Session, error) {
	var session Session
	found, err := s.store.Get(sessionKeyPrefix+sessionID, &session)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &domain.ErrNotFound{Kind: "session", ID: sessionID}
	}
	return &session, nil
}

// SaveCellEdit validates and appends one edit to the session log.
func (s *Service) SaveCellEdit(ctx context.Context, sessionID string, req CellEditRequest, userID string) (*EditResponse, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !session.CanEdit(s.now().UTC()) {
		return nil, &domain.ErrPreconditionFailed{Reason: "session is not editable"}
	}
	if !containsString(session.EditableColumns, req.Column) {
		return nil, &domain.ErrPreconditionFailed{Reason: fmt.Sprintf("column %q is not editable", req.Column)}
	}

	oldValue := s.lookupOldValue(ctx, session, req.RowID, req.Column)

	result := s.validator.ValidateCell(req.Column, req.NewValue, session.RulesMap[req.Column])
	result.RowID = req.RowID

	edit := &CellEdit{
		EditID:     shortID("edit_"),
		SessionID:  sessionID,
		RowID:      req.RowID,
		Column:     req.Column,
		OldValue:   oldValue,
		NewValue:   req.NewValue,
		UserID:     userID,
		ServerTS:   s.now().UTC(),
		Validation: result,
		IsValid:    result.Valid,
	}
	if req.ClientTS != "" {
		if ts, err := time.Parse(time.RFC3339, req.ClientTS); err == nil {
			edit.ClientTS = &ts
		}
	}

	if err := s.appendEdit(ctx, session, edit); err != nil {
		return nil, err
	}

	// Refresh rollups from the effective edit set.
	edits, err := s.Edits(ctx, session)
	if err != nil {
		return nil, err
	}
	session.EditCount = len(edits)
	session.CellsChanged, session.RowsAffected = rollup(edits)
	session.UpdatedAt = s.now().UTC()
	if err := s.put(session); err != nil {
		return nil, err
	}

	status := "ok"
	if !edit.IsValid {
		status = "error"
	}
	logEvent("edit_saved", map[string]interface{}{
		"session_id": sessionID, "edit_id": edit.EditID, "row_id": req.RowID,
		"column": req.Column, "valid": edit.IsValid,
	})
	return &EditResponse{Status: status, Validation: result, EditID: edit.EditID}, nil
}

// SaveBulkEdits applies edits sequentially and reports per-edit outcomes
// in input order.
func (s *Service) SaveBulkEdits(ctx context.Context, sessionID string, reqs []CellEditRequest, userID string) ([]*EditResponse, error) {
	responses := make([]*EditResponse, 0, len(reqs))
	for _, req := range reqs {
		resp, err := s.SaveCellEdit(ctx, sessionID, req, userID)
		if err != nil {
			resp = &EditResponse{
				Status: "error",
				Validation: &validation.CellResult{
					Valid:    false,
					Severity: validation.SeverityError,
					Column:   req.Column,
					Messages: []validation.Message{{
						Column:   req.Column,
						Severity: validation.SeverityError,
						RuleType: "rejected",
						Message:  err.Error(),
					}},
				},
			}
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// lookupOldValue fetches the current base value of a cell, best-effort.
func (s *Service) lookupOldValue(ctx context.Context, session *Session, rowID, column string) interface{} {
	rows, _, err := s.rowsByIDs(ctx, session.ProjectID, session.DatasetID, []string{rowID})
	if err != nil || len(rows) == 0 {
		return nil
	}
	return rows[0][column]
}

// appendEdit commits the edit log with the new record appended.
func (s *Service) appendEdit(ctx context.Context, session *Session, edit *CellEdit) error {
	t := deltalog.Open(session.StagingPath)
	_, existing, _, err := t.ReadLatest()
	if err != nil {
		return err
	}
	existing = append(existing, encodeEdit(edit))
	_, err = t.Commit(domain.OpWrite, editsSchema, existing, map[string]string{"numOutputRows": "1"})
	return err
}

func encodeEdit(edit *CellEdit) domain.Row {
	row := domain.Row{
		"edit_id":    edit.EditID,
		"session_id": edit.SessionID,
		"row_id":     edit.RowID,
		"column":     edit.Column,
		"old_value":  encodeJSON(edit.OldValue),
		"new_value":  encodeJSON(edit.NewValue),
		"user_id":    edit.UserID,
		"server_ts":  edit.ServerTS.UnixMicro(),
		"validation": encodeJSON(edit.Validation),
		"is_valid":   edit.IsValid,
	}
	if edit.ClientTS != nil {
		row["client_ts"] = edit.ClientTS.UnixMicro()
	}
	return row
}

func decodeEdit(row domain.Row) *CellEdit {
	edit := &CellEdit{
		EditID:    str(row["edit_id"]),
		SessionID: str(row["session_id"]),
		RowID:     str(row["row_id"]),
		Column:    str(row["column"]),
		UserID:    str(row["user_id"]),
	}
	if ts, ok := row["server_ts"].(int64); ok {
		edit.ServerTS = time.UnixMicro(ts).UTC()
	}
	if ts, ok := row["client_ts"].(int64); ok {
		t := time.UnixMicro(ts).UTC()
		edit.ClientTS = &t
	}
	edit.OldValue = decodeJSON(str(row["old_value"]))
	edit.NewValue = decodeJSON(str(row["new_value"]))
	if v := str(row["validation"]); v != "" {
		var result validation.CellResult
		if json.Unmarshal([]byte(v), &result) == nil {
			edit.Validation = &result
		}
	}
	if b, ok := row["is_valid"].(bool); ok {
		edit.IsValid = b
	}
	return edit
}

func encodeJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeJSON(s string) interface{} {
	if s == "" {
		return nil
	}
	var v interface{}
	if json.Unmarshal([]byte(s), &v) != nil {
		return s
	}
	return v
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// Edits returns the session's full edit log in append order.
func (s *Service) Edits(ctx context.Context, session *Session) ([]*CellEdit, error) {
	t := deltalog.Open(session.StagingPath)
	if !t.Exists() {
		return nil, nil
	}
	_, rows, _, err := t.ReadLatest()
	if err != nil {
		return nil, err
	}
	edits := make([]*CellEdit, 0, len(rows))
	for _, row := range rows {
		edits = append(edits, decodeEdit(row))
	}
	return edits, nil
}

// effective reduces the edit log to the last edit per (row_id, column).
func effective(edits []*CellEdit) map[string]map[string]*CellEdit {
	byRow := map[string]map[string]*CellEdit{}
	for _, edit := range edits {
		cols, ok := byRow[edit.RowID]
		if !ok {
			cols = map[string]*CellEdit{}
			byRow[edit.RowID] = cols
		}
		cols[edit.Column] = edit
	}
	return byRow
}

func rollup(edits []*CellEdit) (cells, rows int) {
	byRow := effective(edits)
	for _, cols := range byRow {
		cells += len(cols)
	}
	return cells, len(byRow)
}

// GetGridData reads one base-table page and overlays the session's
// effective edits onto it.
func (s *Service) GetGridData(ctx context.Context, projectID, datasetID string, page, limit int, sessionID, orderBy string) (*GridData, error) {
	mainPath, err := s.adapter.Resolver().Main(projectID, datasetID)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	offset := (page - 1) * limit

	result, err := s.adapter.Query(ctx, mainPath, &domain.QueryOptions{
		OrderBy: orderBy,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, err
	}
	stats, err := s.adapter.Stats(ctx, mainPath)
	if err != nil {
		return nil, err
	}
	schema, err := s.adapter.Schema(ctx, mainPath)
	if err != nil {
		return nil, err
	}

	var session *Session
	overlay := map[string]map[string]*CellEdit{}
	if sessionID != "" {
		session, err = s.GetSession(sessionID)
		if err != nil {
			return nil, err
		}
		edits, err := s.Edits(ctx, session)
		if err != nil {
			return nil, err
		}
		overlay = effective(edits)
	}

	opts, err := s.store.GetDatasetOptions(projectID, datasetID)
	if err != nil {
		return nil, err
	}

	columns := make([]GridColumn, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		editable := session != nil && containsString(session.EditableColumns, col.Name)
		columns = append(columns, GridColumn{Name: col.Name, Type: col.Type, Editable: editable})
	}

	gridRows := make([]GridRow, 0, len(result.Rows))
	for i, base := range result.Rows {
		rowID := resolveRowID(base, opts.RowIDColumn, offset+i)
		cells := make(map[string]interface{}, len(base))
		for k, v := range base {
			cells[k] = v
		}
		edited := false
		if cols, ok := overlay[rowID]; ok {
			for col, edit := range cols {
				cells[col] = edit.NewValue
			}
			edited = true
		}
		gridRows = append(gridRows, GridRow{RowID: rowID, Cells: cells, Edited: edited})
	}

	return &GridData{
		Meta:    GridMeta{Page: page, Limit: limit, Total: stats.NumRows},
		Columns: columns,
		Rows:    gridRows,
	}, nil
}

// resolveRowID picks the row identity per the dataset configuration,
// falling back to id, row_id, then the positional projection.
func resolveRowID(row domain.Row, configured string, position int) string {
	candidates := []string{configured, "id", "row_id"}
	for _, col := range candidates {
		if col == "" {
			continue
		}
		if v, ok := row[col]; ok && v != nil {
			if f, ok := v.(float64); ok && f == float64(int64(f)) {
				return strconv.FormatInt(int64(f), 10)
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return strconv.Itoa(position)
}

// GeneratePreview compiles the session's edit log into a diff summary: one
// diff and one validity/severity count per logged edit, while RowsChanged
// and CellsChanged count the effective (last-per-cell) edits.
func (s *Service) GeneratePreview(ctx context.Context, sessionID string) (*Preview, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	edits, err := s.Edits(ctx, session)
	if err != nil {
		return nil, err
	}

	var diffs []CellDiff
	valid, warnings, errors := 0, 0, 0
	for _, edit := range edits {
		diffs = append(diffs, CellDiff{RowID: edit.RowID, Column: edit.Column, Old: edit.OldValue, New: edit.NewValue})
		if edit.IsValid {
			valid++
		}
		if edit.Validation != nil {
			switch edit.Validation.Severity {
			case validation.SeverityWarning:
				warnings++
			case validation.SeverityError, validation.SeverityFatal:
				errors++
			}
		}
	}
	cells, rows := rollup(edits)

	if session.Status == StatusActive {
		session.Status = StatusPreview
		session.UpdatedAt = s.now().UTC()
		if err := s.put(session); err != nil {
			return nil, err
		}
	}

	return &Preview{
		SessionID:    sessionID,
		RowsChanged:  rows,
		CellsChanged: cells,
		Diffs:        diffs,
		Valid:        valid,
		Warnings:     warnings,
		Errors:       errors,
	}, nil
}

// AttachChangeRequest freezes the session under a change request.
func (s *Service) AttachChangeRequest(sessionID, crID string) error {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.ChangeRequestID != "" && session.ChangeRequestID != crID {
		return &domain.ErrPreconditionFailed{Reason: "session already attached to a change request"}
	}
	session.ChangeRequestID = crID
	session.Status = StatusSubmitted
	session.UpdatedAt = s.now().UTC()
	return s.put(session)
}

// DeleteSession aborts a session. Sessions frozen by a change request
// cannot be deleted directly.
func (s *Service) DeleteSession(sessionID string) error {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.ChangeRequestID != "" {
		return &domain.ErrPreconditionFailed{Reason: "cannot delete session with associated change request"}
	}
	session.Status = StatusAborted
	session.UpdatedAt = s.now().UTC()
	if err := s.put(session); err != nil {
		return err
	}
	if err := s.adapter.DeleteTable(session.StagingPath); err != nil {
		return err
	}
	logEvent("session_aborted", map[string]interface{}{"session_id": sessionID})
	return nil
}

// ApplyChanges is the merge-executor hook for live-edit change requests:
// it loads main as a row-keyed projection, applies cell updates by row
// identity, removes deleted rows, and writes the result as one overwrite
// commit.
func (s *Service) ApplyChanges(ctx context.Context, projectID, datasetID, sessionID string, editedCells []CellDiff, deletedRows []string) (*ApplyResult, error) {
	mainPath, err := s.adapter.Resolver().Main(projectID, datasetID)
	if err != nil {
		return nil, err
	}
	if !s.adapter.Exists(mainPath) {
		return nil, &domain.ErrNotFound{Kind: "dataset", ID: projectID + "/" + datasetID}
	}

	schema, err := s.adapter.Schema(ctx, mainPath)
	if err != nil {
		return nil, err
	}
	t := deltalog.Open(mainPath)
	_, rows, _, err := t.ReadLatest()
	if err != nil {
		return nil, err
	}

	opts, err := s.store.GetDatasetOptions(projectID, datasetID)
	if err != nil {
		return nil, err
	}

	known := map[string]bool{}
	for _, col := range schema.Columns {
		known[col.Name] = true
	}

	index := map[string]int{}
	for i, row := range rows {
		index[resolveRowID(row, opts.RowIDColumn, i)] = i
	}

	updatedRows := map[int]bool{}
	for _, edit := range editedCells {
		i, ok := index[edit.RowID]
		if !ok || !known[edit.Column] {
			continue
		}
		rows[i][edit.Column] = edit.New
		updatedRows[i] = true
	}

	deleted := 0
	if len(deletedRows) > 0 {
		drop := map[int]bool{}
		for _, rid := range deletedRows {
			if i, ok := index[rid]; ok {
				drop[i] = true
			}
		}
		kept := make([]domain.Row, 0, len(rows))
		for i, row := range rows {
			if drop[i] {
				deleted++
				continue
			}
			kept = append(kept, row)
		}
		rows = kept
	}

	if _, err := s.adapter.OverwriteWithSchema(ctx, mainPath, schema, rows); err != nil {
		return nil, err
	}

	if sessionID != "" {
		if session, err := s.GetSession(sessionID); err == nil {
			session.Status = StatusSubmitted
			session.UpdatedAt = s.now().UTC()
			s.put(session)
		}
	}

	logEvent("live_edit_applied", map[string]interface{}{
		"session_id": sessionID, "project_id": projectID, "dataset_id": datasetID,
		"rows_updated": len(updatedRows), "rows_deleted": deleted,
	})
	return &ApplyResult{RowsUpdated: len(updatedRows), RowsDeleted: deleted}, nil
}

// GetRowsByIDs fetches specific base rows by row identity.
func (s *Service) GetRowsByIDs(ctx context.Context, projectID, datasetID string, rowIDs []string) ([]domain.Row, []string, error) {
	return s.rowsByIDs(ctx, projectID, datasetID, rowIDs)
}

func (s *Service) rowsByIDs(ctx context.Context, projectID, datasetID string, rowIDs []string) ([]domain.Row, []string, error) {
	mainPath, err := s.adapter.Resolver().Main(projectID, datasetID)
	if err != nil {
		return nil, nil, err
	}
	if !s.adapter.Exists(mainPath) {
		return nil, nil, &domain.ErrNotFound{Kind: "dataset", ID: projectID + "/" + datasetID}
	}
	schema, err := s.adapter.Schema(ctx, mainPath)
	if err != nil {
		return nil, nil, err
	}
	t := deltalog.Open(mainPath)
	_, rows, _, err := t.ReadLatest()
	if err != nil {
		return nil, nil, err
	}
	opts, err := s.store.GetDatasetOptions(projectID, datasetID)
	if err != nil {
		return nil, nil, err
	}

	want := map[string]bool{}
	for _, rid := range rowIDs {
		want[rid] = true
	}
	var matched []domain.Row
	for i, row := range rows {
		if want[resolveRowID(row, opts.RowIDColumn, i)] {
			matched = append(matched, row)
		}
	}
	columns := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		columns[i] = col.Name
	}
	return matched, columns, nil
}

// CleanupExpired sweeps sessions past their TTL with no attached change
// request, transitioning them to EXPIRED and discarding their edit logs.
// Idempotent; returns the number of sessions swept.
func (s *Service) CleanupExpired() (int, error) {
	now := s.now().UTC()
	var expired []*Session
	err := s.store.List(sessionKeyPrefix, func(_ string, value []byte) error {
		var session Session
		if err := json.Unmarshal(value, &session); err != nil {
			return err
		}
		if session.ChangeRequestID != "" {
			return nil
		}
		if (session.Status == StatusActive || session.Status == StatusPreview) && session.IsExpired(now) {
			expired = append(expired, &session)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, session := range expired {
		session.Status = StatusExpired
		session.UpdatedAt = now
		if err := s.put(session); err != nil {
			return 0, err
		}
		if err := s.adapter.DeleteTable(session.StagingPath); err != nil {
			return 0, err
		}
		logEvent("session_expired", map[string]interface{}{"session_id": session.SessionID})
	}
	return len(expired), nil
}

func (s *Service) put(session *Session) error {
	return s.store.Put(sessionKeyPrefix+session.SessionID, session)
}

func containsString(list []string, v string) bool {
	for _, entry := range list {
		if entry == v {
			return true
		}
	}
	return false
}
