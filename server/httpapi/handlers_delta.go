package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/mergeexec"
	"github.com/saurabh22suman/oreo.io-v3/pkg/query"
)

type datasetRequest struct {
	ProjectID string                 `json:"project_id"`
	DatasetID string                 `json:"dataset_id"`
	Schema    map[string]interface{} `json:"schema,omitempty"`
	Version   *int64                 `json:"version,omitempty"`
}

func (s *Server) mainPath(w http.ResponseWriter, projectID, datasetID string) (string, bool) {
	path, err := s.adapter.Resolver().Main(projectID, datasetID)
	if err != nil {
		writeBadRequest(w, err.Error())
		return "", false
	}
	return path, true
}

// handleEnsure creates an empty main table with the given schema.
func (s *Server) handleEnsure(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.ProjectID == "" || req.DatasetID == "" {
		writeBadRequest(w, "project_id and dataset_id are required")
		return
	}
	path, err := s.pooled(r.Context(), func(ctx context.Context) (interface{}, error) {
		return s.adapter.EnsureDataset(ctx, req.ProjectID, req.DatasetID, req.Schema)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "path": path})
}

// handleAppendFile parses a multipart upload and appends its rows to main
// with duplicate suppression.
func (s *Server) handleAppendFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeBadRequest(w, "invalid multipart form")
		return
	}
	projectID := r.FormValue("project_id")
	datasetID := r.FormValue("dataset_id")
	if projectID == "" || datasetID == "" {
		writeBadRequest(w, "project_id and dataset_id are required")
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
	result, err := s.pooled(r.Context(), func(ctx context.Context) (interface{}, error) {
		return s.uploads.Finalize(ctx, meta.UploadID, projectID, datasetID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result.(*domain.AppendResult)})
}

// handleQuery is the ad-hoc SQL surface.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	resp, err := s.surface.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	path, ok := s.mainPath(w, chi.URLParam(r, "project"), chi.URLParam(r, "dataset"))
	if !ok {
		return
	}
	history, err := s.adapter.History(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if err := decodeBody(r, &req); err != nil || req.Version == nil {
		writeBadRequest(w, "project_id, dataset_id and version are required")
		return
	}
	path, ok := s.mainPath(w, req.ProjectID, req.DatasetID)
	if !ok {
		return
	}
	result, err := s.pooled(r.Context(), func(ctx context.Context) (interface{}, error) {
		return s.adapter.Restore(ctx, path, *req.Version)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result.(*domain.RestoreResult)})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid version")
		return
	}
	path, ok := s.mainPath(w, chi.URLParam(r, "project"), chi.URLParam(r, "dataset"))
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	result, err := s.adapter.ReadAtVersion(r.Context(), path, version, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	path, ok := s.mainPath(w, r.URL.Query().Get("project_id"), r.URL.Query().Get("dataset_id"))
	if !ok {
		return
	}
	stats, err := s.adapter.Stats(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTableInfo(w http.ResponseWriter, r *http.Request) {
	path, ok := s.mainPath(w, r.URL.Query().Get("project_id"), r.URL.Query().Get("dataset_id"))
	if !ok {
		return
	}
	stats, err := s.adapter.Stats(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics, err := s.adapter.LatestOperationMetrics(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats, "latest_operation": metrics})
}

// handleMergeCR runs the full merge pipeline for an approved CR.
func (s *Server) handleMergeCR(w http.ResponseWriter, r *http.Request) {
	var req mergeexec.Request
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.CRID == "" {
		writeBadRequest(w, "cr_id is required")
		return
	}
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

type importDBRequest struct {
	DSN       string `json:"dsn"`
	Table     string `json:"table"`
	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
}

// handleImportDB copies an external SQL table into main.
func (s *Server) handleImportDB(w http.ResponseWriter, r *http.Request) {
	var req importDBRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.DSN == "" || req.Table == "" || req.ProjectID == "" || req.DatasetID == "" {
		writeBadRequest(w, "dsn, table, project_id and dataset_id are required")
		return
	}
	result, err := s.pooled(r.Context(), func(ctx context.Context) (interface{}, error) {
		return s.importer.ImportTable(ctx, req.DSN, req.Table, req.ProjectID, req.DatasetID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result.(*domain.AppendResult)})
}

// pooled runs a blocking task on the worker pool when one is configured.
func (s *Server) pooled(ctx context.Context, task func(context.Context) (interface{}, error)) (interface{}, error) {
	if s.pool == nil {
		return task(ctx)
	}
	return s.pool.Submit(ctx, task)
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
