// Package paths maps dataset coordinates to their canonical on-disk layout:
//
//	<root>/projects/<project>/datasets/<dataset>/
//	    main/
//	    staging/<cr_id>/
//	    live_edit/<session_id>/edits/
//	    imports/<upload_id>/
//	    audit/{validation_runs,snapshots,history,change_requests}/
//	<root>/pending_uploads/<upload_id>/
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver computes canonical paths under a single data root.
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root returns the data root.
func (r *Resolver) Root() string { return r.root }

// Sanitize validates a single path segment. Identifiers must not be empty,
// must not traverse (".."), and must not contain separator characters.
func Sanitize(segment string) (string, error) {
	if segment == "" {
		return "", fmt.Errorf("empty path segment")
	}
	if segment == "." || segment == ".." {
		return "", fmt.Errorf("invalid path segment %q", segment)
	}
	if strings.ContainsAny(segment, `/\`) || strings.Contains(segment, "..") {
		return "", fmt.Errorf("invalid path segment %q", segment)
	}
	return segment, nil
}

func (r *Resolver) datasetRoot(projectID, datasetID string) (string, error) {
	p, err := Sanitize(projectID)
	if err != nil {
		return "", err
	}
	d, err := Sanitize(datasetID)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.root, "projects", p, "datasets", d), nil
}

// DatasetRoot returns the root directory of a dataset.
func (r *Resolver) DatasetRoot(projectID, datasetID string) (string, error) {
	return r.datasetRoot(projectID, datasetID)
}

// Main returns the path of the canonical main table.
func (r *Resolver) Main(projectID, datasetID string) (string, error) {
	root, err := r.datasetRoot(projectID, datasetID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "main"), nil
}

// Staging returns the staging table path of a change request.
func (r *Resolver) Staging(projectID, datasetID, crID string) (string, error) {
	root, err := r.datasetRoot(projectID, datasetID)
	if err != nil {
		return "", err
	}
	id, err := Sanitize(crID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "staging", id), nil
}

// LiveEdit returns the append-only edit-log table path of a session.
func (r *Resolver) LiveEdit(projectID, datasetID, sessionID string) (string, error) {
	root, err := r.datasetRoot(projectID, datasetID)
	if err != nil {
		return "", err
	}
	id, err := Sanitize(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "live_edit", id, "edits"), nil
}

// Import returns the raw-import directory of one upload inside a dataset.
func (r *Resolver) Import(projectID, datasetID, uploadID string) (string, error) {
	root, err := r.datasetRoot(projectID, datasetID)
	if err != nil {
		return "", err
	}
	id, err := Sanitize(uploadID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "imports", id), nil
}

// AuditRoot returns the audit tree root of a dataset.
func (r *Resolver) AuditRoot(projectID, datasetID string) (string, error) {
	root, err := r.datasetRoot(projectID, datasetID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "audit"), nil
}

// AuditChangeRequest returns the per-CR audit directory.
func (r *Resolver) AuditChangeRequest(projectID, datasetID, crID string) (string, error) {
	root, err := r.AuditRoot(projectID, datasetID)
	if err != nil {
		return "", err
	}
	id, err := Sanitize(crID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "change_requests", id), nil
}

// AuditValidationRun returns the per-run audit directory.
func (r *Resolver) AuditValidationRun(projectID, datasetID, runID string) (string, error) {
	root, err := r.AuditRoot(projectID, datasetID)
	if err != nil {
		return "", err
	}
	id, err := Sanitize(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "validation_runs", id), nil
}

// PendingUpload returns the staging-upload directory outside any dataset.
func (r *Resolver) PendingUpload(uploadID string) (string, error) {
	id, err := Sanitize(uploadID)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.root, "pending_uploads", id), nil
}

// EnsureDatasetLayout creates the full directory skeleton of a dataset.
// Idempotent.
func (r *Resolver) EnsureDatasetLayout(projectID, datasetID string) (string, error) {
	root, err := r.datasetRoot(projectID, datasetID)
	if err != nil {
		return "", err
	}
	dirs := []string{
		filepath.Join(root, "main"),
		filepath.Join(root, "staging"),
		filepath.Join(root, "live_edit"),
		filepath.Join(root, "imports"),
		filepath.Join(root, "audit", "validation_runs"),
		filepath.Join(root, "audit", "snapshots"),
		filepath.Join(root, "audit", "history"),
		filepath.Join(root, "audit", "change_requests"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return root, nil
}

// EnsureParent creates the parent directory of path. Idempotent.
func EnsureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
