package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saurabh22suman/oreo.io-v3/pkg/changerequest"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/mergeexec"
	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

type createCRRequest struct {
	changerequest.CreateRequest
	// Rows optionally seeds the staging table at creation.
	Rows []domain.Row `json:"rows,omitempty"`
}

// handleCreateCR creates a DRAFT change request, optionally seeding its
// staging table and freezing an attached live-edit session.
func (s *Server) handleCreateCR(w http.ResponseWriter, r *http.Request) {
	var req createCRRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.ProjectID == "" || req.DatasetID == "" || req.Title == "" {
		writeBadRequest(w, "project_id, dataset_id and title are required")
		return
	}

	cr, err := s.crs.Create(req.CreateRequest, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}

	if len(req.Rows) > 0 {
		if _, err := s.pooled(r.Context(), func(ctx context.Context) (interface{}, error) {
			return s.adapter.Overwrite(ctx, cr.StagingPath, req.Rows)
		}); err != nil {
			writeError(w, err)
			return
		}
	}

	// Record the optimistic-concurrency baseline at creation.
	if mainPath, perr := s.adapter.Resolver().Main(cr.ProjectID, cr.DatasetID); perr == nil {
		if head, herr := s.adapter.HeadVersion(mainPath); herr == nil && head >= 0 {
			s.crs.SetVersionBefore(cr.ID, head)
		}
	}

	if cr.SessionID != "" {
		if err := s.sessions.AttachChangeRequest(cr.SessionID, cr.ID); err != nil {
			writeError(w, err)
			return
		}
	}

	cr, err = s.crs.Get(cr.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

func (s *Server) handleListCRs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	crs, err := s.crs.List(q.Get("project_id"), q.Get("dataset_id"), changerequest.Status(q.Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"change_requests": crs})
}

func (s *Server) handleGetCR(w http.ResponseWriter, r *http.Request) {
	cr, err := s.crs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

type submitCRRequest struct {
	ValidationSummary *validation.Summary `json:"validation_summary,omitempty"`
}

func (s *Server) handleSubmitCR(w http.ResponseWriter, r *http.Request) {
	var req submitCRRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	crID := chi.URLParam(r, "id")

	summary := req.ValidationSummary
	if summary == nil {
		// Revalidate staging against the dataset rules when the caller
		// did not supply a summary.
		if computed, err := s.validateStaging(r.Context(), crID); err == nil {
			summary = computed
		}
	}

	current, err := s.crs.Get(crID)
	if err != nil {
		writeError(w, err)
		return
	}

	var cr *changerequest.ChangeRequest
	if current.Status == changerequest.StatusRejected {
		cr, err = s.crs.Resubmit(crID, actor(r), summary)
	} else {
		cr, err = s.crs.SubmitForReview(crID, actor(r), summary)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

type approveCRRequest struct {
	Message         string `json:"message,omitempty"`
	OverridePartial bool   `json:"override_partial,omitempty"`
}

func (s *Server) handleApproveCR(w http.ResponseWriter, r *http.Request) {
	var req approveCRRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	cr, err := s.crs.Approve(chi.URLParam(r, "id"), actor(r), req.Message, req.OverridePartial)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

type rejectCRRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleRejectCR(w http.ResponseWriter, r *http.Request) {
	var req rejectCRRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	cr, err := s.crs.Reject(chi.URLParam(r, "id"), actor(r), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

func (s *Server) handleMergeCRByID(w http.ResponseWriter, r *http.Request) {
	var req mergeexec.Request
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	req.CRID = chi.URLParam(r, "id")
	if req.ExecutorID == "" {
		req.ExecutorID = actor(r)
	}
	result, err := s.pooled(r.Context(), func(ctx context.Context) (interface{}, error) {
		return s.executor.MergeCR(ctx, req)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.(*mergeexec.Result))
}

func (s *Server) handleCloseCR(w http.ResponseWriter, r *http.Request) {
	cr, err := s.crs.Close(chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

func (s *Server) handleCREvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.crs.Events(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleGetCREdits(w http.ResponseWriter, r *http.Request) {
	edits, err := s.crs.GetEdits(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edits)
}

func (s *Server) handleSaveCREdits(w http.ResponseWriter, r *http.Request) {
	var edits changerequest.Edits
	if err := decodeBody(r, &edits); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := s.crs.SaveEdits(chi.URLParam(r, "id"), actor(r), &edits); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
