// Package mergeexec orchestrates the approval-to-commit pipeline that
// commits change requests into a dataset's main table. A merge locks the change
// request, detects conflicts optimistically against the current head,
// executes the keyed upsert through the table adapter, records versions
// and diffs, persists audit artifacts, cleans staging up and finalises
// the change request.
package mergeexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/saurabh22suman/oreo.io-v3/pkg/audit"
	"github.com/saurabh22suman/oreo.io-v3/pkg/catalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/changerequest"
	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/deltalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
)

// Executor runs merge pipelines. Safe for concurrent use; concurrent
// merges of the same change request are rejected.
type Executor struct {
	adapter *delta.Adapter
	crs     *changerequest.Service
	store   *catalog.Store
	writer  *audit.Writer

	// ArchiveStaging moves staging aside instead of deleting it.
	ArchiveStaging bool

	merging sync.Map // cr id -> struct{}
}

// NewExecutor creates a merge executor.
func NewExecutor(adapter *delta.Adapter, crs *changerequest.Service, store *catalog.Store, writer *audit.Writer) *Executor {
	return &Executor{adapter: adapter, crs: crs, store: store, writer: writer}
}

// Request parameterises one merge run.
type Request struct {
	CRID              string   `json:"cr_id"`
	ExecutorID        string   `json:"executor_id"`
	PrimaryKeys       []string `json:"primary_keys,omitempty"`
	SkipConflictCheck bool     `json:"skip_conflict_check,omitempty"`
	CleanupAfter      *bool    `json:"cleanup_after,omitempty"`
}

// Diff summarises a merge's effect on main.
type Diff struct {
	VersionBefore int64     `json:"version_before"`
	VersionAfter  int64     `json:"version_after"`
	RowsBefore    int64     `json:"rows_before"`
	RowsAfter     int64     `json:"rows_after"`
	RowsAdded     int       `json:"rows_added"`
	RowsUpdated   int       `json:"rows_updated"`
	RowsDeleted   int       `json:"rows_deleted"`
	ComputedAt    time.Time `json:"computed_at"`
}

// Result is the unified merge outcome persisted as merge_result.json.
type Result struct {
	OK            bool                `json:"ok"`
	CRID          string              `json:"cr_id"`
	ProjectID     string              `json:"project_id"`
	DatasetID     string              `json:"dataset_id"`
	VersionBefore int64               `json:"version_before"`
	VersionAfter  int64               `json:"version_after"`
	Conflicts     []domain.Row        `json:"conflicts,omitempty"`
	Merge         *domain.MergeResult `json:"merge,omitempty"`
	Diff          *Diff               `json:"diff,omitempty"`
	Cleanup       bool                `json:"cleanup"`
	Forced        bool                `json:"forced,omitempty"`
	Error         string              `json:"error,omitempty"`
}

func logEvent(event string, fields map[string]interface{}) {
	payload := map[string]interface{}{"event": event}
	for k, v := range fields {
		payload[k] = v
	}
	data, _ := json.Marshal(payload)
	log.Printf("[MergeExecutor] %s", data)
}

// MergeCR runs the full pipeline for an approved change request.
func (e *Executor) MergeCR(ctx context.Context, req Request) (*Result, error) {
	// Step 1: lock. A second concurrent merge of the same CR is rejected.
	if _, loaded := e.merging.LoadOrStore(req.CRID, struct{}{}); loaded {
		return nil, &domain.ErrPreconditionFailed{Reason: "merge already in progress for " + req.CRID}
	}
	defer e.merging.Delete(req.CRID)

	cr, err := e.crs.Get(req.CRID)
	if err != nil {
		return nil, err
	}
	if err := e.crs.ValidateMergeable(cr); err != nil {
		return nil, err
	}
	if cr.ValidationSummary != nil && !validation.CanMerge(cr.ValidationSummary.State) {
		return nil, &domain.ErrValidationBlocked{
			Reason: fmt.Sprintf("validation state %s does not allow merge", cr.ValidationSummary.State),
			Errors: cr.ErrorsCount,
			Fatal:  cr.FatalErrors,
		}
	}

	mainPath, err := e.adapter.Resolver().Main(cr.ProjectID, cr.DatasetID)
	if err != nil {
		return nil, err
	}
	if !e.adapter.Exists(cr.StagingPath) {
		return nil, &domain.ErrPreconditionFailed{Reason: "staging table missing for " + req.CRID}
	}

	keys, err := e.resolveKeys(cr, req.PrimaryKeys)
	if err != nil {
		return nil, err
	}

	versionBefore, err := e.adapter.HeadVersion(mainPath)
	if err != nil {
		return nil, err
	}

	result := &Result{
		CRID:          cr.ID,
		ProjectID:     cr.ProjectID,
		DatasetID:     cr.DatasetID,
		VersionBefore: versionBefore,
		Forced:        req.SkipConflictCheck,
	}

	// Step 2: conflict detection, unless the caller forces past it.
	if !req.SkipConflictCheck {
		conflicts, err := e.detectConflicts(ctx, mainPath, cr.StagingPath, keys, cr.DeltaVersionBefore, versionBefore)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			result.Conflicts = conflicts
			result.Error = "merge_conflict"
			e.writer.WriteChangeRequestArtifact(cr.ProjectID, cr.DatasetID, cr.ID, "conflicts.json", conflicts)
			logEvent("merge.conflict", map[string]interface{}{"cr_id": cr.ID, "conflict_count": len(conflicts)})
			// The CR stays APPROVED; the reviewer decides to force or redraft.
			return result, &domain.ErrMergeConflict{Conflicts: conflicts}
		}
	}

	statsBefore, err := e.adapter.Stats(ctx, mainPath)
	if err != nil {
		return nil, err
	}

	// Step 3: execute the merge. A failed merge returns the CR to review
	// with the staging table intact. Failures in the later steps do not
	// change the CR's status, and a step 8 failure comes after staging
	// cleanup.
	mergeResult, err := e.adapter.Merge(ctx, mainPath, cr.StagingPath, keys)
	if err != nil {
		result.Error = err.Error()
		if _, ferr := e.crs.MarkMergeFailed(cr.ID, req.ExecutorID, "Merge failed: "+err.Error()); ferr != nil {
			logEvent("merge.failed_unrecorded", map[string]interface{}{"cr_id": cr.ID, "error": ferr.Error()})
		}
		logEvent("merge.failed", map[string]interface{}{"cr_id": cr.ID, "error": err.Error()})
		return result, err
	}

	// Step 4: record the new version.
	versionAfter := mergeResult.Version
	result.Merge = mergeResult
	result.VersionAfter = versionAfter

	// Step 5: diff between the pre- and post-merge versions.
	statsAfter, err := e.adapter.Stats(ctx, mainPath)
	if err != nil {
		statsAfter = &domain.TableStats{}
	}
	diff := &Diff{
		VersionBefore: versionBefore,
		VersionAfter:  versionAfter,
		RowsBefore:    statsBefore.NumRows,
		RowsAfter:     statsAfter.NumRows,
		RowsAdded:     mergeResult.RowsInserted,
		RowsUpdated:   mergeResult.RowsUpdated,
		ComputedAt:    time.Now().UTC(),
	}
	result.Diff = diff

	// Step 6: audit artifacts.
	e.writer.WriteChangeRequestArtifact(cr.ProjectID, cr.DatasetID, cr.ID, "diff.json", diff)

	// Step 7: staging cleanup, best-effort. A leftover staging directory
	// after MERGED is a recoverable leak, not a correctness violation.
	cleanup := req.CleanupAfter == nil || *req.CleanupAfter
	if cleanup {
		if err := e.cleanupStaging(cr.StagingPath, cr.ID); err != nil {
			logEvent("merge.cleanup_failed", map[string]interface{}{"cr_id": cr.ID, "error": err.Error()})
		} else {
			result.Cleanup = true
			e.crs.RecordCleanup(cr.ID, req.ExecutorID, "Staging cleaned after merge")
		}
	}

	// Step 8: finalise the change request.
	if _, err := e.crs.MarkMerged(cr.ID, req.ExecutorID, versionBefore, versionAfter, req.SkipConflictCheck); err != nil {
		result.Error = err.Error()
		return result, err
	}
	e.crs.UpdateCounters(cr.ID, mergeResult.RowsInserted, mergeResult.RowsUpdated, 0, cr.CellCountChanged)

	result.OK = true
	e.writer.WriteChangeRequestArtifact(cr.ProjectID, cr.DatasetID, cr.ID, "merge_result.json", result)

	logEvent("merge.success", map[string]interface{}{
		"cr_id": cr.ID, "version_before": versionBefore, "version_after": versionAfter,
		"rows_affected": mergeResult.RowsAffected,
	})
	return result, nil
}

// resolveKeys picks the merge keys: explicit request keys, then the
// dataset's configured primary keys, then id.
func (e *Executor) resolveKeys(cr *changerequest.ChangeRequest, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	opts, err := e.store.GetDatasetOptions(cr.ProjectID, cr.DatasetID)
	if err != nil {
		return nil, err
	}
	if len(opts.PrimaryKeys) > 0 {
		return opts.PrimaryKeys, nil
	}
	return []string{"id"}, nil
}

// detectConflicts returns the main rows whose keys collide with staging
// rows. When the recorded baseline version equals the current head, no
// conflict is possible and the check short-circuits.
func (e *Executor) detectConflicts(ctx context.Context, mainPath, stagingPath string, keys []string, versionBefore *int64, currentVersion int64) ([]domain.Row, error) {
	if versionBefore != nil && *versionBefore == currentVersion {
		logEvent("conflict_detection", map[string]interface{}{"has_conflicts": false, "reason": "version unchanged"})
		return nil, nil
	}

	_, stagingRows, _, err := deltalog.Open(stagingPath).ReadLatest()
	if err != nil {
		return nil, err
	}
	if len(stagingRows) == 0 {
		return nil, nil
	}
	_, mainRows, _, err := deltalog.Open(mainPath).ReadLatest()
	if err != nil {
		return nil, err
	}

	stagingKeys := map[string]bool{}
	for _, row := range stagingRows {
		stagingKeys[keyOf(row, keys)] = true
	}
	var conflicts []domain.Row
	for _, row := range mainRows {
		if stagingKeys[keyOf(row, keys)] {
			conflicts = append(conflicts, row)
		}
	}

	logEvent("conflict_detection", map[string]interface{}{
		"has_conflicts": len(conflicts) > 0, "conflict_count": len(conflicts),
	})
	return conflicts, nil
}

func keyOf(row domain.Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%v", row[k])
	}
	data, _ := json.Marshal(parts)
	return string(data)
}

// cleanupStaging deletes the staging table, or moves it under
// archive/change_requests/<cr_id> when archival is configured.
func (e *Executor) cleanupStaging(stagingPath, crID string) error {
	if !e.ArchiveStaging {
		return deltalog.Delete(stagingPath)
	}
	archivePath := filepath.Join(e.adapter.Resolver().Root(), "archive", "change_requests", crID)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return err
	}
	return os.Rename(stagingPath, archivePath)
}

// DetectConflicts exposes step 2 standalone for the review surface.
func (e *Executor) DetectConflicts(ctx context.Context, crID string, primaryKeys []string) ([]domain.Row, error) {
	cr, err := e.crs.Get(crID)
	if err != nil {
		return nil, err
	}
	mainPath, err := e.adapter.Resolver().Main(cr.ProjectID, cr.DatasetID)
	if err != nil {
		return nil, err
	}
	keys, err := e.resolveKeys(cr, primaryKeys)
	if err != nil {
		return nil, err
	}
	current, err := e.adapter.HeadVersion(mainPath)
	if err != nil {
		return nil, err
	}
	return e.detectConflicts(ctx, mainPath, cr.StagingPath, keys, cr.DeltaVersionBefore, current)
}
