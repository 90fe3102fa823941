package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
)

// handleUpload stores a raw file in the pending-uploads area.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeBadRequest(w, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "file is required")
		return
	}
	defer file.Close()

	meta, err := s.uploads.Put(header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type finalizeUploadRequest struct {
	UploadID  string `json:"upload_id"`
	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
}

// handleFinalizeUpload parses a pending upload into the dataset's main
// table and discards it.
func (s *Server) handleFinalizeUpload(w http.ResponseWriter, r *http.Request) {
	var req finalizeUploadRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.UploadID == "" || req.ProjectID == "" || req.DatasetID == "" {
		writeBadRequest(w, "upload_id, project_id and dataset_id are required")
		return
	}
	result, err := s.pooled(r.Context(), func(ctx context.Context) (interface{}, error) {
		return s.uploads.Finalize(ctx, req.UploadID, req.ProjectID, req.DatasetID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result.(*domain.AppendResult)})
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	meta, err := s.uploads.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.uploads.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
