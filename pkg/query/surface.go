// Package query is the ad-hoc SQL surface: caller SQL runs against main
// table snapshots registered as read-only tables in the embedded engine.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/deltalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
	"github.com/saurabh22suman/oreo.io-v3/pkg/sqlengine"
)

// Surface executes ad-hoc SQL over dataset snapshots.
type Surface struct {
	adapter *delta.Adapter
	engine  *sqlengine.Engine
}

// NewSurface creates a query surface.
func NewSurface(adapter *delta.Adapter) *Surface {
	return &Surface{adapter: adapter, engine: sqlengine.Shared()}
}

// Request maps qualified table names onto "project/dataset" coordinates
// and carries the caller's SQL plus pagination.
type Request struct {
	SQL           string            `json:"sql"`
	TableMappings map[string]string `json:"table_mappings"`
	Limit         int               `json:"limit,omitempty"`
	Offset        int               `json:"offset,omitempty"`
}

// Response is the paginated result. Total counts the unpaginated result
// set.
type Response struct {
	Columns []string     `json:"columns"`
	Rows    []domain.Row `json:"rows"`
	Total   int64        `json:"total"`
}

// Execute validates the SQL, registers every mapped table's latest main
// snapshot, and runs the query wrapped with LIMIT/OFFSET.
func (s *Surface) Execute(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, &domain.ErrPreconditionFailed{Reason: "sql is required"}
	}
	if err := sqlengine.ValidateSelect(req.SQL); err != nil {
		return nil, &domain.ErrPreconditionFailed{Reason: err.Error()}
	}

	conn, err := s.engine.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Deterministic registration order keeps failures stable.
	names := make([]string, 0, len(req.TableMappings))
	for name := range req.TableMappings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		coords := strings.SplitN(req.TableMappings[name], "/", 2)
		if len(coords) != 2 {
			return nil, &domain.ErrPreconditionFailed{
				Reason: fmt.Sprintf("mapping for %q must be \"project/dataset\"", name),
			}
		}
		mainPath, err := s.adapter.Resolver().Main(coords[0], coords[1])
		if err != nil {
			return nil, err
		}
		if !deltalog.Exists(mainPath) {
			return nil, &domain.ErrNotFound{Kind: "table", ID: req.TableMappings[name]}
		}
		info, rows, _, err := deltalog.Open(mainPath).ReadLatest()
		if err != nil {
			return nil, err
		}
		if err := conn.Register(ctx, name, info, rows); err != nil {
			return nil, err
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	total, err := conn.QueryInt(ctx, "SELECT COUNT(*) FROM ("+req.SQL+")")
	if err != nil {
		return nil, err
	}
	result, err := conn.Query(ctx,
		fmt.Sprintf("SELECT * FROM (%s) LIMIT %d OFFSET %d", req.SQL, limit, req.Offset))
	if err != nil {
		return nil, err
	}

	return &Response{Columns: result.Columns, Rows: result.Rows, Total: total}, nil
}
