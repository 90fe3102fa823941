// Package sqlengine wraps an embedded SQL engine (pure-Go SQLite) used for
// snapshot queries and merge rebuilds. The engine is a process-wide
// singleton with lazy initialisation; each request opens a short-lived
// in-memory connection, registers the table snapshots it needs, and closes.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
)

// Engine hands out short-lived in-memory connections.
type Engine struct{}

var (
	sharedOnce sync.Once
	shared     *Engine
)

// Shared returns the process-wide engine.
func Shared() *Engine {
	sharedOnce.Do(func() {
		shared = &Engine{}
	})
	return shared
}

// Conn is a single-request connection. Not safe for concurrent use; a
// request owns its connection for its full lifetime.
type Conn struct {
	db *sql.DB
}

// Open opens a fresh in-memory connection.
func (e *Engine) Open(ctx context.Context) (*Conn, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// In-memory databases must stay on one connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Conn{db: db}, nil
}

// Close releases the connection and its in-memory database.
func (c *Conn) Close() error { return c.db.Close() }

// QuoteIdent quotes an identifier for the engine.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteType(colType string) string {
	switch strings.ToLower(colType) {
	case "int64", "bigint", "integer", "int", "bool", "boolean":
		return "INTEGER"
	case "float64", "double", "number", "float":
		return "REAL"
	default:
		return "TEXT"
	}
}

// Register loads a table snapshot under the given name.
func (c *Conn) Register(ctx context.Context, name string, info *domain.TableInfo, rows []domain.Row) error {
	if len(info.Columns) == 0 {
		return fmt.Errorf("cannot register table %q without columns", name)
	}

	defs := make([]string, len(info.Columns))
	names := make([]string, len(info.Columns))
	marks := make([]string, len(info.Columns))
	for i, col := range info.Columns {
		defs[i] = QuoteIdent(col.Name) + " " + sqliteType(col.Type)
		names[i] = QuoteIdent(col.Name)
		marks[i] = "?"
	}

	create := fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(name), strings.Join(defs, ", "))
	if _, err := c.db.ExecContext(ctx, create); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(name), strings.Join(names, ", "), strings.Join(marks, ", "))
	stmt, err := c.db.PrepareContext(ctx, insert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]interface{}, len(info.Columns))
		for i, col := range info.Columns {
			args[i] = bindValue(row[col.Name])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// bindValue maps domain values onto driver-supported types.
func bindValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

// Query runs SQL and materialises the result.
func (c *Conn) Query(ctx context.Context, query string, args ...interface{}) (*domain.QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &domain.QueryResult{Columns: cols, Rows: []domain.Row{}}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(domain.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.Count = len(result.Rows)
	return result, nil
}

// QueryInt runs SQL expected to return a single integer.
func (c *Conn) QueryInt(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
