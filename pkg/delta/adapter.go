// Package delta is the table adapter over the versioned columnar log.
// It owns every write to main, staging and live_edit tables, enforces
// schema alignment on append, and maps commit metrics into the stable
// shape the rest of the service consumes.
package delta

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"github.com/saurabh22suman/oreo.io-v3/pkg/deltalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/paths"
	"github.com/saurabh22suman/oreo.io-v3/pkg/sqlengine"
)

// Adapter exposes the table-log contract keyed by explicit table paths.
type Adapter struct {
	resolver *paths.Resolver
	engine   *sqlengine.Engine
}

// NewAdapter creates an adapter over the given data root resolver.
func NewAdapter(resolver *paths.Resolver) *Adapter {
	return &Adapter{resolver: resolver, engine: sqlengine.Shared()}
}

// Resolver returns the path resolver the adapter was built with.
func (a *Adapter) Resolver() *paths.Resolver { return a.resolver }

func logEvent(event string, fields map[string]interface{}) {
	payload := map[string]interface{}{"event": event}
	for k, v := range fields {
		payload[k] = v
	}
	data, _ := json.Marshal(payload)
	log.Printf("[Delta] %s", data)
}

// EnsureTable creates an empty table with the given JSON-Schema-style
// column specification if it does not exist. Idempotent.
func (a *Adapter) EnsureTable(ctx context.Context, path string, schema map[string]interface{}) error {
	t := deltalog.Open(path)
	if t.Exists() {
		return nil
	}
	info := schemaFromSpec(tableName(path), schema)
	_, err := t.Commit(domain.OpOverwrite, info, nil, map[string]string{"numOutputRows": "0"})
	if err != nil {
		return err
	}
	cols := make([]string, len(info.Columns))
	for i, c := range info.Columns {
		cols[i] = c.Name
	}
	logEvent("ensure_table", map[string]interface{}{"path": path, "columns": cols})
	return nil
}

// EnsureDataset creates the dataset directory layout and its empty main
// table. Idempotent.
func (a *Adapter) EnsureDataset(ctx context.Context, projectID, datasetID string, schema map[string]interface{}) (string, error) {
	if _, err := a.resolver.EnsureDatasetLayout(projectID, datasetID); err != nil {
		return "", err
	}
	main, err := a.resolver.Main(projectID, datasetID)
	if err != nil {
		return "", err
	}
	if err := a.EnsureTable(ctx, main, schema); err != nil {
		return "", err
	}
	return main, nil
}

// AppendDedup appends rows as a new version after removing rows that
// already exist in the target, compared by all columns with null-equal
// semantics. On an absent target the batch creates the table with an
// inferred schema. On an empty target that shares no column with the batch,
// the batch replaces the table and its schema (schema evolution); an empty
// target that shares a column keeps its schema and the batch is aligned to
// it like any other append.
func (a *Adapter) AppendDedup(ctx context.Context, path string, rows []domain.Row) (*domain.AppendResult, error) {
	t := deltalog.Open(path)

	if !t.Exists() {
		info := inferSchema(tableName(path), rows)
		if _, err := t.Commit(domain.OpWrite, info, rows, writeMetrics(len(rows))); err != nil {
			return nil, err
		}
		logEvent("append_dedup", map[string]interface{}{"path": path, "inserted": len(rows), "duplicates": 0, "method": "new_table"})
		return &domain.AppendResult{Inserted: len(rows)}, nil
	}

	target, existing, _, err := t.ReadLatest()
	if err != nil {
		return nil, err
	}

	// Empty target with a different shape: recover by overwriting with the
	// incoming schema.
	if len(existing) == 0 && !alignable(target, rows) {
		info := inferSchema(tableName(path), rows)
		if _, err := t.Commit(domain.OpOverwrite, info, rows, writeMetrics(len(rows))); err != nil {
			return nil, err
		}
		logEvent("append_dedup", map[string]interface{}{"path": path, "inserted": len(rows), "duplicates": 0, "method": "schema_evolution"})
		return &domain.AppendResult{Inserted: len(rows)}, nil
	}

	if !alignable(target, rows) {
		return nil, &domain.ErrSchemaMismatch{Path: path, Detail: "no incoming column matches the target schema"}
	}

	aligned := alignRows(target, rows)

	cols := make([]string, len(target.Columns))
	for i, c := range target.Columns {
		cols[i] = c.Name
	}
	seen := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		seen[rowKey(row, cols)] = struct{}{}
	}

	inserted := 0
	duplicates := 0
	merged := append([]domain.Row{}, existing...)
	for _, row := range aligned {
		key := rowKey(row, cols)
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, row)
		inserted++
	}

	if _, err := t.Commit(domain.OpWrite, target, merged, writeMetrics(inserted)); err != nil {
		return nil, err
	}
	logEvent("append_dedup", map[string]interface{}{"path": path, "inserted": inserted, "duplicates": duplicates, "method": "merge"})
	return &domain.AppendResult{Inserted: inserted, Duplicates: duplicates}, nil
}

// Overwrite replaces the table contents as a new version.
func (a *Adapter) Overwrite(ctx context.Context, path string, rows []domain.Row) (int64, error) {
	t := deltalog.Open(path)
	info := inferSchema(tableName(path), rows)
	if t.Exists() {
		if current, _, _, err := t.ReadLatest(); err == nil && len(rows) == 0 {
			// Keep the current schema for an empty overwrite.
			info = current
		}
	}
	version, err := t.Commit(domain.OpOverwrite, info, rows, writeMetrics(len(rows)))
	if err != nil {
		return -1, err
	}
	logEvent("overwrite", map[string]interface{}{"path": path, "rows": len(rows), "version": version})
	return version, nil
}

// OverwriteWithSchema replaces the table contents using an explicit schema.
func (a *Adapter) OverwriteWithSchema(ctx context.Context, path string, info *domain.TableInfo, rows []domain.Row) (int64, error) {
	t := deltalog.Open(path)
	version, err := t.Commit(domain.OpOverwrite, info, rows, writeMetrics(len(rows)))
	if err != nil {
		return -1, err
	}
	logEvent("overwrite", map[string]interface{}{"path": path, "rows": len(rows), "version": version})
	return version, nil
}

// Query runs a snapshot read against the head version. Where and OrderBy
// fragments are trusted; Filters are safe literal equality.
func (a *Adapter) Query(ctx context.Context, path string, opts *domain.QueryOptions) (*domain.QueryResult, error) {
	t := deltalog.Open(path)
	info, rows, _, err := t.ReadLatest()
	if err != nil {
		return nil, err
	}

	conn, err := a.engine.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.Register(ctx, "v", info, rows); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM v")
	var clauses []string
	var args []interface{}
	if opts != nil {
		if strings.TrimSpace(opts.Where) != "" {
			clauses = append(clauses, opts.Where)
		}
		for _, f := range opts.Filters {
			if f.Value == nil {
				continue
			}
			clauses = append(clauses, sqlengine.QuoteIdent(f.Field)+" = ?")
			args = append(args, f.Value)
		}
	}
	if len(clauses) > 0 {
		sb.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	limit, offset := 100, 0
	if opts != nil {
		if strings.TrimSpace(opts.OrderBy) != "" {
			sb.WriteString(" ORDER BY " + opts.OrderBy)
		}
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		offset = opts.Offset
	}
	sb.WriteString(" LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(offset))

	result, err := conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	restoreTypes(info, result.Rows)
	orderColumns(info, result)
	return result, nil
}

// ReadAtVersion is the time-travel read.
func (a *Adapter) ReadAtVersion(ctx context.Context, path string, version int64, limit, offset int) (*domain.VersionedResult, error) {
	t := deltalog.Open(path)
	info, rows, err := t.ReadVersion(version)
	if err != nil {
		return nil, err
	}
	total := len(rows)
	var page []domain.Row
	if offset < total {
		end := offset + limit
		if limit <= 0 || end > total {
			end = total
		}
		page = rows[offset:end]
	} else {
		page = []domain.Row{}
	}
	cols := make([]string, len(info.Columns))
	for i, c := range info.Columns {
		cols[i] = c.Name
	}
	logEvent("read_at_version", map[string]interface{}{"path": path, "version": version, "returned": len(page), "total": total})
	return &domain.VersionedResult{
		Columns: cols,
		Data:    page,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		Version: version,
	}, nil
}

// History returns the commit log, oldest first.
func (a *Adapter) History(ctx context.Context, path string) ([]domain.CommitRecord, error) {
	return deltalog.Open(path).History()
}

// HeadVersion returns the current head version of a table, -1 when absent.
func (a *Adapter) HeadVersion(path string) (int64, error) {
	return deltalog.Open(path).Head()
}

// LatestOperationMetrics maps the head commit's native metric keys into
// the stable counter shape.
func (a *Adapter) LatestOperationMetrics(ctx context.Context, path string) (*domain.OperationMetrics, error) {
	t := deltalog.Open(path)
	head, err := t.Head()
	if err != nil {
		return nil, err
	}
	if head < 0 {
		return &domain.OperationMetrics{Version: -1}, nil
	}
	rec, err := t.Record(head)
	if err != nil {
		return nil, err
	}
	_, rows, err := t.ReadVersion(head)
	if err != nil {
		return nil, err
	}

	m := &domain.OperationMetrics{
		Operation: rec.Operation,
		Version:   rec.Version,
		TotalRows: int64(len(rows)),
	}
	metric := func(key string) int64 {
		n, _ := strconv.ParseInt(rec.OperationMetrics[key], 10, 64)
		return n
	}
	switch rec.Operation {
	case domain.OpMerge:
		m.RowsAdded = metric("numTargetRowsInserted")
		m.RowsUpdated = metric("numTargetRowsUpdated")
		m.RowsDeleted = metric("numTargetRowsDeleted")
	case domain.OpRestore:
		before := metric("numRowsBefore")
		after := int64(len(rows))
		if after > before {
			m.RowsAdded = after - before
		} else {
			m.RowsDeleted = before - after
		}
	default:
		m.RowsAdded = metric("numOutputRows")
	}
	return m, nil
}

// Restore commits a new version whose state equals the table at version.
func (a *Adapter) Restore(ctx context.Context, path string, version int64) (*domain.RestoreResult, error) {
	t := deltalog.Open(path)

	_, current, _, err := t.ReadLatest()
	if err != nil {
		return nil, err
	}
	info, rows, err := t.ReadVersion(version)
	if err != nil {
		return nil, err
	}

	metrics := map[string]string{
		"numOutputRows":   strconv.Itoa(len(rows)),
		"numRowsBefore":   strconv.Itoa(len(current)),
		"restoredVersion": strconv.FormatInt(version, 10),
	}
	if _, err := t.Commit(domain.OpRestore, info, rows, metrics); err != nil {
		return nil, err
	}

	res := &domain.RestoreResult{
		RestoredTo: version,
		RowsBefore: len(current),
		RowsAfter:  len(rows),
	}
	if res.RowsAfter > res.RowsBefore {
		res.RowsAdded = res.RowsAfter - res.RowsBefore
	} else {
		res.RowsDeleted = res.RowsBefore - res.RowsAfter
	}
	logEvent("restore", map[string]interface{}{"path": path, "version": version, "rows_before": res.RowsBefore, "rows_after": res.RowsAfter})
	return res, nil
}

// Stats returns row/column counts, zero when the table does not exist.
func (a *Adapter) Stats(ctx context.Context, path string) (*domain.TableStats, error) {
	t := deltalog.Open(path)
	if !t.Exists() {
		return &domain.TableStats{}, nil
	}
	info, rows, _, err := t.ReadLatest()
	if err != nil {
		return nil, err
	}
	return &domain.TableStats{NumRows: int64(len(rows)), NumCols: len(info.Columns)}, nil
}

// Schema returns the head schema of a table.
func (a *Adapter) Schema(ctx context.Context, path string) (*domain.TableInfo, error) {
	info, _, _, err := deltalog.Open(path).ReadLatest()
	return info, err
}

// DeleteTable removes a whole table directory (staging cleanup, session
// discard).
func (a *Adapter) DeleteTable(path string) error {
	return deltalog.Delete(path)
}

// Exists reports whether a table has a commit log.
func (a *Adapter) Exists(path string) bool {
	return deltalog.Exists(path)
}

func writeMetrics(outputRows int) map[string]string {
	return map[string]string{"numOutputRows": strconv.Itoa(outputRows)}
}

func tableName(path string) string {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	name := parts[len(parts)-1]
	if name == "" {
		name = "table"
	}
	return name
}

// restoreTypes converts engine-native values back to column types
// (booleans round-trip through INTEGER).
func restoreTypes(info *domain.TableInfo, rows []domain.Row) {
	for _, col := range info.Columns {
		if strings.ToLower(col.Type) != "boolean" && strings.ToLower(col.Type) != "bool" {
			continue
		}
		for _, row := range rows {
			if n, ok := row[col.Name].(int64); ok {
				row[col.Name] = n != 0
			}
		}
	}
}

// orderColumns makes the result column order match the schema order.
func orderColumns(info *domain.TableInfo, result *domain.QueryResult) {
	known := map[string]bool{}
	ordered := make([]string, 0, len(result.Columns))
	for _, col := range info.Columns {
		known[col.Name] = true
		ordered = append(ordered, col.Name)
	}
	for _, col := range result.Columns {
		if !known[col] {
			ordered = append(ordered, col)
		}
	}
	result.Columns = ordered
}
