package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error         string      `json:"error"`
	Kind          string      `json:"kind,omitempty"`
	Code          int         `json:"code"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Details       interface{} `json:"details,omitempty"`
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a typed domain error onto its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	var notFound *domain.ErrNotFound
	var versionNotFound *domain.ErrVersionNotFound
	var illegal *domain.ErrIllegalTransition
	var blocked *domain.ErrValidationBlocked
	var mismatch *domain.ErrSchemaMismatch
	var conflict *domain.ErrMergeConflict
	var precondition *domain.ErrPreconditionFailed

	switch {
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: "NOT_FOUND", Code: http.StatusNotFound})
	case errors.As(err, &versionNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: "VERSION_NOT_FOUND", Code: http.StatusNotFound})
	case errors.As(err, &illegal):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "ILLEGAL_TRANSITION", Code: http.StatusBadRequest})
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: "VALIDATION_BLOCKED", Code: http.StatusUnprocessableEntity})
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "SCHEMA_MISMATCH", Code: http.StatusBadRequest})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(), Kind: "MERGE_CONFLICT", Code: http.StatusConflict,
			Details: map[string]interface{}{"conflicts": conflict.Conflicts},
		})
	case errors.As(err, &precondition):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "PRECONDITION_FAILED", Code: http.StatusBadRequest})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error", Kind: "INTERNAL", Code: http.StatusInternalServerError,
			CorrelationID: uuid.NewString(),
		})
	}
}

// writeBadRequest reports a malformed request body.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: http.StatusBadRequest})
}

// decodeBody parses a JSON request body.
func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// actor extracts the acting user from the gateway header.
func actor(r *http.Request) string {
	if user := r.Header.Get("X-User-ID"); user != "" {
		return user
	}
	return "anonymous"
}
