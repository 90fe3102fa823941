package domain

// Row is a single table row keyed by column name.
type Row map[string]interface{}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Primary  bool   `json:"primary,omitempty"`
}

// TableInfo describes a table stored in the columnar log.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// QueryResult is the shape every snapshot read returns.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
	Count   int      `json:"count"`
}

// VersionedResult is a time-travel read: the table state at one commit.
type VersionedResult struct {
	Columns []string `json:"columns"`
	Data    []Row    `json:"data"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	Version int64    `json:"version"`
}

// Filter is a literal-equality predicate applied server-side.
// Only equality is supported on the external surface; richer predicates
// go through the trusted Where fragment of QueryOptions.
type Filter struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// QueryOptions controls a snapshot read. Where and OrderBy are trusted SQL
// fragments for server-internal callers only; Filters are safe for
// externally supplied values.
type QueryOptions struct {
	Where   string   `json:"where,omitempty"`
	Filters []Filter `json:"filters,omitempty"`
	OrderBy string   `json:"order_by,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
}

// CommitRecord is one entry of a table's commit log.
type CommitRecord struct {
	Version          int64             `json:"version"`
	Operation        string            `json:"operation"`
	OperationMetrics map[string]string `json:"operationMetrics,omitempty"`
	Timestamp        int64             `json:"timestamp"`
	DataFile         string            `json:"data_file"`
	Schema           *TableInfo        `json:"schema,omitempty"`
}

// OperationMetrics are the head-commit metrics exposed by the adapter,
// with the log's native keys already mapped to row counters.
type OperationMetrics struct {
	RowsAdded   int64  `json:"rows_added"`
	RowsUpdated int64  `json:"rows_updated"`
	RowsDeleted int64  `json:"rows_deleted"`
	TotalRows   int64  `json:"total_rows"`
	Operation   string `json:"operation"`
	Version     int64  `json:"version"`
}

// AppendResult reports a deduplicating append.
type AppendResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// MergeResult reports a keyed upsert of a source table into a target.
type MergeResult struct {
	Version      int64  `json:"merged_version"`
	CommitID     string `json:"commit_id"`
	RowsAffected int    `json:"rows_affected"`
	RowsInserted int    `json:"rows_inserted"`
	RowsUpdated  int    `json:"rows_updated"`
	Method       string `json:"method"`
}

// RestoreResult reports a restore commit.
type RestoreResult struct {
	RestoredTo  int64 `json:"restored_to"`
	RowsBefore  int   `json:"rows_before"`
	RowsAfter   int   `json:"rows_after"`
	RowsAdded   int   `json:"rows_added"`
	RowsDeleted int   `json:"rows_deleted"`
}

// TableStats is the row/column count pair; both zero when the table
// does not exist.
type TableStats struct {
	NumRows int64 `json:"num_rows"`
	NumCols int   `json:"num_cols"`
}

// Commit operation names recorded in the log.
const (
	OpWrite     = "WRITE"
	OpOverwrite = "OVERWRITE"
	OpMerge     = "MERGE"
	OpRestore   = "RESTORE"
)
