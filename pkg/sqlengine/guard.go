package sqlengine

import (
	"fmt"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// ValidateSelect parses caller-supplied SQL and rejects everything that is
// not a single read-only statement. The query surface runs untrusted SQL
// against registered snapshots; DDL and DML never reach the engine.
func ValidateSelect(sql string) error {
	p := parser.New()
	stmts, _, err := p.ParseSQL(sql)
	if err != nil {
		return fmt.Errorf("invalid SQL: %w", err)
	}
	if len(stmts) != 1 {
		return fmt.Errorf("expected a single statement, got %d", len(stmts))
	}
	switch stmts[0].(type) {
	case *ast.SelectStmt, *ast.SetOprStmt:
		return nil
	default:
		return fmt.Errorf("only SELECT statements are allowed")
	}
}
