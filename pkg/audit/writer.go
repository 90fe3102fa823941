// Package audit persists immutable JSON artifacts under a dataset's audit
// tree. Every write goes through a temp file in the destination directory
// followed by a rename, so a crashed writer never leaves a partial
// document behind. Artifacts are never overwritten once written.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/saurabh22suman/oreo.io-v3/pkg/paths"
)

// Writer writes audit artifacts for one data root.
type Writer struct {
	resolver *paths.Resolver
}

// NewWriter creates an audit writer.
func NewWriter(resolver *paths.Resolver) *Writer {
	return &Writer{resolver: resolver}
}

// writeJSON writes one document atomically. It refuses to replace a
// document that already exists under the same name.
func writeJSON(dir, name string, v interface{}) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); err == nil {
		return &os.PathError{Op: "write", Path: dest, Err: os.ErrExist}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".audit_tmp_*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dest)
}

// WriteChangeRequestArtifact writes one named document under
// audit/change_requests/<cr_id>/.
func (w *Writer) WriteChangeRequestArtifact(projectID, datasetID, crID, name string, v interface{}) error {
	dir, err := w.resolver.AuditChangeRequest(projectID, datasetID, crID)
	if err != nil {
		return err
	}
	return writeJSON(dir, name, v)
}

// WriteValidationRun writes summary.json and full.json for one run under
// audit/validation_runs/<run_id>/.
func (w *Writer) WriteValidationRun(projectID, datasetID, runID string, summary, full interface{}) error {
	dir, err := w.resolver.AuditValidationRun(projectID, datasetID, runID)
	if err != nil {
		return err
	}
	if err := writeJSON(dir, "summary.json", summary); err != nil {
		return err
	}
	return writeJSON(dir, "full.json", full)
}
