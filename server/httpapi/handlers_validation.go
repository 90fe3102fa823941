package httpapi

import (
	"context"
	"net/http"

	"github.com/saurabh22suman/oreo.io-v3/pkg/deltalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

// flattenRules turns a per-column rule map into a single rule list with
// Column populated.
func flattenRules(rules map[string][]validation.Rule) []validation.Rule {
	var flat []validation.Rule
	for column, list := range rules {
		for _, rule := range list {
			rule.Column = column
			flat = append(flat, rule)
		}
	}
	return flat
}

// validateStaging revalidates a change request's staging table against
// the dataset rules and persists the run artifacts.
func (s *Server) validateStaging(ctx context.Context, crID string) (*validation.Summary, error) {
	cr, err := s.crs.Get(crID)
	if err != nil {
		return nil, err
	}
	opts, err := s.store.GetDatasetOptions(cr.ProjectID, cr.DatasetID)
	if err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	staging := deltalog.Open(cr.StagingPath)
	if staging.Exists() {
		_, stagingRows, _, err := staging.ReadLatest()
		if err != nil {
			return nil, err
		}
		for _, row := range stagingRows {
			rows = append(rows, map[string]interface{}(row))
		}
	}

	result := s.validator.ValidateRows(rows, flattenRules(opts.Rules))
	if result.RunID != "" {
		s.auditor.WriteValidationRun(cr.ProjectID, cr.DatasetID, result.RunID, result.Summary(), result)
	}
	return result.Summary(), nil
}

type validateCellRequest struct {
	ProjectID string            `json:"project_id,omitempty"`
	DatasetID string            `json:"dataset_id,omitempty"`
	Column    string            `json:"column"`
	Value     interface{}       `json:"value"`
	Rules     []validation.Rule `json:"rules,omitempty"`
}

// handleValidateCell validates one value, either against inline rules or
// against the dataset's configured rules for the column.
func (s *Server) handleValidateCell(w http.ResponseWriter, r *http.Request) {
	var req validateCellRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Column == "" {
		writeBadRequest(w, "column is required")
		return
	}
	rules := req.Rules
	if len(rules) == 0 && req.ProjectID != "" && req.DatasetID != "" {
		opts, err := s.store.GetDatasetOptions(req.ProjectID, req.DatasetID)
		if err != nil {
			writeError(w, err)
			return
		}
		rules = opts.Rules[req.Column]
	}
	writeJSON(w, http.StatusOK, s.validator.ValidateCell(req.Column, req.Value, rules))
}

type validateSessionRequest struct {
	SessionID string `json:"session_id"`
}

// handleValidateSession validates every edit in a session's log against
// the session rule map.
func (s *Server) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	var req validateSessionRequest
	if err := decodeBody(r, &req); err != nil || req.SessionID == "" {
		writeBadRequest(w, "session_id is required")
		return
	}
	session, err := s.sessions.GetSession(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	edits, err := s.sessions.Edits(r.Context(), session)
	if err != nil {
		writeError(w, err)
		return
	}

	var counts validation.Counts
	var messages []validation.Message
	for _, edit := range edits {
		result := s.validator.ValidateCell(edit.Column, edit.NewValue, session.RulesMap[edit.Column])
		for _, msg := range result.Messages {
			msg.RowID = edit.RowID
			messages = append(messages, msg)
			counts.Add(msg.Severity)
		}
	}
	state := validation.Resolve(counts)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    req.SessionID,
		"state":         state,
		"counts":        counts,
		"messages":      messages,
		"can_create_cr": !counts.HasBlocking(),
	})
}

type validateCRRequest struct {
	CRID string `json:"cr_id"`
}

// handleValidateCR revalidates a change request's staging snapshot.
func (s *Server) handleValidateCR(w http.ResponseWriter, r *http.Request) {
	var req validateCRRequest
	if err := decodeBody(r, &req); err != nil || req.CRID == "" {
		writeBadRequest(w, "cr_id is required")
		return
	}
	summary, err := s.validateStaging(r.Context(), req.CRID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cr_id":       req.CRID,
		"summary":     summary,
		"can_approve": !summary.Counts.HasBlocking(),
	})
}

// handleValidateMerge runs the pre-merge gate: staging revalidation plus
// conflict detection.
func (s *Server) handleValidateMerge(w http.ResponseWriter, r *http.Request) {
	var req validateCRRequest
	if err := decodeBody(r, &req); err != nil || req.CRID == "" {
		writeBadRequest(w, "cr_id is required")
		return
	}
	summary, err := s.validateStaging(r.Context(), req.CRID)
	if err != nil {
		writeError(w, err)
		return
	}
	conflicts, err := s.executor.DetectConflicts(r.Context(), req.CRID, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cr_id":             req.CRID,
		"summary":           summary,
		"can_merge":         validation.CanMerge(summary.State) && len(conflicts) == 0,
		"conflict_detected": len(conflicts) > 0,
		"conflicts":         conflicts,
	})
}

type validateRowsRequest struct {
	Rows  []map[string]interface{} `json:"rows"`
	Rules []validation.Rule        `json:"rules"`
}

// handleValidateRows runs the rule engine over an inline row batch.
func (s *Server) handleValidateRows(w http.ResponseWriter, r *http.Request) {
	var req validateRowsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.validator.ValidateRows(req.Rows, req.Rules))
}
