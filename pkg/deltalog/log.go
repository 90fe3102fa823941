// Package deltalog implements a versioned columnar table log on the local
// filesystem. A table is a directory holding one parquet data file per
// committed version plus a _delta_log/ directory with one JSON commit
// record per version:
//
//	<table>/part-00000000000000000000.parquet
//	<table>/_delta_log/00000000000000000000.json
//
// Commits are atomic: the data file and then the commit record are written
// via temp-file-then-rename, and a version exists only once its record is
// in place. The head is the highest recorded version.
package deltalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
)

const logDirName = "_delta_log"

// tableLocks serialises in-process writers per table path.
var tableLocks sync.Map // map[string]*sync.Mutex

func lockFor(path string) *sync.Mutex {
	clean := filepath.Clean(path)
	mu, _ := tableLocks.LoadOrStore(clean, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Table is a handle on one versioned table directory.
type Table struct {
	path string
}

// Open returns a handle on the table at path. The table need not exist yet.
func Open(path string) *Table {
	return &Table{path: path}
}

// Path returns the table directory.
func (t *Table) Path() string { return t.path }

// Exists reports whether the table has a commit log.
func Exists(path string) bool {
	info, err := os.Stat(filepath.Join(path, logDirName))
	return err == nil && info.IsDir()
}

// Exists reports whether this table has a commit log.
func (t *Table) Exists() bool { return Exists(t.path) }

func (t *Table) recordPath(version int64) string {
	return filepath.Join(t.path, logDirName, fmt.Sprintf("%020d.json", version))
}

func (t *Table) dataPath(version int64) string {
	return filepath.Join(t.path, fmt.Sprintf("part-%020d.parquet", version))
}

// Head returns the current head version, or -1 when the table is empty or
// absent.
func (t *Table) Head() (int64, error) {
	entries, err := os.ReadDir(filepath.Join(t.path, logDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return -1, err
	}
	head := int64(-1)
	for _, entry := range entries {
		var v int64
		if _, err := fmt.Sscanf(entry.Name(), "%d.json", &v); err == nil && v > head {
			head = v
		}
	}
	return head, nil
}

// History returns all commit records ordered by ascending version.
func (t *Table) History() ([]domain.CommitRecord, error) {
	dir := filepath.Join(t.path, logDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domain.ErrNotFound{Kind: "table", ID: t.path}
		}
		return nil, err
	}
	records := make([]domain.CommitRecord, 0, len(entries))
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var rec domain.CommitRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("corrupt commit record %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Version < records[j].Version })
	return records, nil
}

// Record returns the commit record of one version.
func (t *Table) Record(version int64) (*domain.CommitRecord, error) {
	data, err := os.ReadFile(t.recordPath(version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domain.ErrVersionNotFound{Path: t.path, Version: version}
		}
		return nil, err
	}
	var rec domain.CommitRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt commit record v%d: %w", version, err)
	}
	return &rec, nil
}

// ReadVersion loads the full table state at a version. Fails with
// ErrVersionNotFound when the version was never committed or its data
// file has been vacuumed.
func (t *Table) ReadVersion(version int64) (*domain.TableInfo, []domain.Row, error) {
	rec, err := t.Record(version)
	if err != nil {
		return nil, nil, err
	}
	dataFile := filepath.Join(t.path, rec.DataFile)
	if _, err := os.Stat(dataFile); err != nil {
		return nil, nil, &domain.ErrVersionNotFound{Path: t.path, Version: version}
	}
	info, rows, err := readDataFile(dataFile)
	if err != nil {
		return nil, nil, err
	}
	if rec.Schema != nil {
		info = rec.Schema
	}
	return info, rows, nil
}

// ReadLatest loads the head state. Fails with ErrNotFound when the table
// does not exist.
func (t *Table) ReadLatest() (*domain.TableInfo, []domain.Row, int64, error) {
	head, err := t.Head()
	if err != nil {
		return nil, nil, -1, err
	}
	if head < 0 {
		return nil, nil, -1, &domain.ErrNotFound{Kind: "table", ID: t.path}
	}
	info, rows, err := t.ReadVersion(head)
	if err != nil {
		return nil, nil, -1, err
	}
	return info, rows, head, nil
}

// Commit writes rows as the next version with the given operation name and
// metrics, and returns the new version. The full table state is persisted
// per commit; earlier versions stay readable until vacuumed.
func (t *Table) Commit(operation string, info *domain.TableInfo, rows []domain.Row, metrics map[string]string) (int64, error) {
	mu := lockFor(t.path)
	mu.Lock()
	defer mu.Unlock()

	head, err := t.Head()
	if err != nil {
		return -1, err
	}
	version := head + 1

	if err := os.MkdirAll(filepath.Join(t.path, logDirName), 0o755); err != nil {
		return -1, err
	}

	dataFile := t.dataPath(version)
	if err := writeDataFile(dataFile, info, rows); err != nil {
		return -1, err
	}

	rec := domain.CommitRecord{
		Version:          version,
		Operation:        operation,
		OperationMetrics: metrics,
		Timestamp:        time.Now().UnixMilli(),
		DataFile:         filepath.Base(dataFile),
		Schema:           info,
	}
	if err := writeRecord(t.recordPath(version), &rec); err != nil {
		// The orphan data file is harmless; the version never existed.
		os.Remove(dataFile)
		return -1, err
	}
	return version, nil
}

// writeRecord persists a commit record atomically.
func writeRecord(path string, rec *domain.CommitRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".commit_tmp_*")
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
	return os.Rename(tmpPath, path)
}

// Delete removes the whole table directory.
func Delete(path string) error {
	return os.RemoveAll(path)
}
