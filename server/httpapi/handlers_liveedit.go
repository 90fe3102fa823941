package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saurabh22suman/oreo.io-v3/pkg/liveedit"
)

// handleStartSession mints a live-edit session for a dataset.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req liveedit.StartSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = actor(r)
	}
	if req.Mode == "" {
		req.Mode = liveedit.ModeFullTable
	}
	resp, err := s.sessions.StartSession(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "dataset"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGridData returns one overlaid page of the base table.
func (s *Server) handleGridData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	grid, err := s.sessions.GetGridData(
		r.Context(),
		chi.URLParam(r, "project"), chi.URLParam(r, "dataset"),
		queryInt(r, "page", 1), queryInt(r, "limit", 50),
		q.Get("session_id"), q.Get("order_by"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleSaveEdit appends one validated cell edit to the session log.
func (s *Server) handleSaveEdit(w http.ResponseWriter, r *http.Request) {
	var req liveedit.CellEditRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	resp, err := s.sessions.SaveCellEdit(r.Context(), chi.URLParam(r, "id"), req, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type bulkEditRequest struct {
	Edits []liveedit.CellEditRequest `json:"edits"`
}

func (s *Server) handleSaveBulkEdits(w http.ResponseWriter, r *http.Request) {
	var req bulkEditRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	results, err := s.sessions.SaveBulkEdits(r.Context(), chi.URLParam(r, "id"), req.Edits, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.sessions.GeneratePreview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DeleteSession(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

type applyChangesRequest struct {
	ProjectID   string              `json:"project_id"`
	DatasetID   string              `json:"dataset_id"`
	SessionID   string              `json:"session_id,omitempty"`
	EditedCells []liveedit.CellDiff `json:"edited_cells"`
	DeletedRows []string            `json:"deleted_rows,omitempty"`
}

// handleApplyChanges is the merge-executor hook that commits live edits
// onto main.
func (s *Server) handleApplyChanges(w http.ResponseWriter, r *http.Request) {
	var req applyChangesRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.ProjectID == "" || req.DatasetID == "" {
		writeBadRequest(w, "project_id and dataset_id are required")
		return
	}
	result, err := s.sessions.ApplyChanges(r.Context(), req.ProjectID, req.DatasetID, req.SessionID, req.EditedCells, req.DeletedRows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result})
}

type rowsByIDsRequest struct {
	ProjectID string   `json:"project_id"`
	DatasetID string   `json:"dataset_id"`
	RowIDs    []string `json:"row_ids"`
}

func (s *Server) handleRowsByIDs(w http.ResponseWriter, r *http.Request) {
	var req rowsByIDsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	rows, columns, err := s.sessions.GetRowsByIDs(r.Context(), req.ProjectID, req.DatasetID, req.RowIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "rows": rows, "columns": columns})
}
