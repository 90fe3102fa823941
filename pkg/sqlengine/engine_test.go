package sqlengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
)

var usersInfo = &domain.TableInfo{
	Name: "users",
	Columns: []domain.ColumnInfo{
		{Name: "id", Type: "int64"},
		{Name: "name", Type: "string"},
		{Name: "active", Type: "boolean"},
	},
}

func TestRegisterAndQuery(t *testing.T) {
	ctx := context.Background()
	conn, err := Shared().Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	rows := []domain.Row{
		{"id": int64(1), "name": "alice", "active": true},
		{"id": int64(2), "name": "bob", "active": false},
		{"id": int64(3), "name": nil, "active": true},
	}
	require.NoError(t, conn.Register(ctx, "users", usersInfo, rows))

	result, err := conn.Query(ctx, `SELECT "id", "name" FROM "users" WHERE "active" = 1 ORDER BY "id"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, int64(1), result.Rows[0]["id"])
	assert.Equal(t, "alice", result.Rows[0]["name"])
	assert.Nil(t, result.Rows[1]["name"])

	count, err := conn.QueryInt(ctx, `SELECT COUNT(*) FROM "users"`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRegister_EmptyTable(t *testing.T) {
	ctx := context.Background()
	conn, err := Shared().Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Register(ctx, "empty", usersInfo, nil))
	count, err := conn.QueryInt(ctx, `SELECT COUNT(*) FROM "empty"`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"plain"`, QuoteIdent("plain"))
	assert.Equal(t, `"wei""rd"`, QuoteIdent(`wei"rd`))
}

func TestValidateSelect(t *testing.T) {
	require.NoError(t, ValidateSelect("SELECT 1"))
	require.NoError(t, ValidateSelect(`SELECT a FROM t WHERE b > 2 ORDER BY a`))
	require.NoError(t, ValidateSelect("SELECT a FROM t UNION SELECT a FROM u"))

	assert.Error(t, ValidateSelect("DROP TABLE t"))
	assert.Error(t, ValidateSelect("DELETE FROM t"))
	assert.Error(t, ValidateSelect("UPDATE t SET a = 1"))
	assert.Error(t, ValidateSelect("SELECT 1; SELECT 2"))
	assert.Error(t, ValidateSelect("not sql at all"))
}
