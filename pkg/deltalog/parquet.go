package deltalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pq "github.com/parquet-go/parquet-go"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
)

// columnToParquetNode converts a domain column to a parquet node.
func columnToParquetNode(col domain.ColumnInfo) pq.Node {
	var node pq.Node

	switch strings.ToLower(col.Type) {
	case "int64", "bigint", "integer", "int":
		node = pq.Leaf(pq.Int64Type)
	case "float64", "double", "number", "float":
		node = pq.Leaf(pq.DoubleType)
	case "bool", "boolean":
		node = pq.Leaf(pq.BooleanType)
	case "string", "varchar", "text":
		node = pq.String()
	default:
		node = pq.String()
	}

	if col.Nullable {
		node = pq.Optional(node)
	}
	return node
}

// tableSchema builds the parquet schema of a table.
func tableSchema(info *domain.TableInfo) *pq.Schema {
	group := make(pq.Group)
	for _, col := range info.Columns {
		group[col.Name] = columnToParquetNode(col)
	}
	return pq.NewSchema(info.Name, group)
}

// parquetFieldToColumn converts a parquet schema field back to a column.
func parquetFieldToColumn(field pq.Field) domain.ColumnInfo {
	col := domain.ColumnInfo{
		Name:     field.Name(),
		Nullable: field.Optional(),
		Type:     "string",
	}
	if field.Leaf() {
		switch field.Type().Kind() {
		case pq.Boolean:
			col.Type = "boolean"
		case pq.Int32, pq.Int64:
			col.Type = "int64"
		case pq.Float, pq.Double:
			col.Type = "float64"
		case pq.ByteArray:
			col.Type = "string"
		}
	}
	return col
}

// readDataFile reads a parquet data file and returns its schema and rows.
func readDataFile(filePath string) (*domain.TableInfo, []domain.Row, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open data file %q: %w", filePath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat data file %q: %w", filePath, err)
	}

	pf, err := pq.OpenFile(f, stat.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open parquet file %q: %w", filePath, err)
	}

	fields := pf.Schema().Fields()
	columns := make([]domain.ColumnInfo, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, parquetFieldToColumn(field))
	}

	info := &domain.TableInfo{
		Name:    strings.TrimSuffix(filepath.Base(filePath), ".parquet"),
		Columns: columns,
	}

	reader := pq.NewReader(f)
	defer reader.Close()

	var rows []domain.Row
	buf := make([]pq.Row, 128)
	for {
		n, err := reader.ReadRows(buf)
		for i := 0; i < n; i++ {
			row := make(domain.Row, len(columns))
			for j, col := range columns {
				if j < len(buf[i]) {
					row[col.Name] = parquetValueToGo(col, buf[i][j])
				}
			}
			rows = append(rows, row)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("failed to read rows from %q: %w", filePath, err)
		}
	}

	return info, rows, nil
}

// writeDataFile writes schema + rows to a parquet file atomically
// (temp file in the same directory, then rename).
func writeDataFile(filePath string, info *domain.TableInfo, rows []domain.Row) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, ".part_tmp_*.parquet")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	writer := pq.NewGenericWriter[map[string]interface{}](
		tmpFile, tableSchema(info), pq.Compression(&pq.Snappy))

	if len(rows) > 0 {
		batch := make([]map[string]interface{}, 0, min(1024, len(rows)))
		for _, row := range rows {
			batch = append(batch, coerceRow(info, row))
			if len(batch) >= 1024 {
				if _, err := writer.Write(batch); err != nil {
					return fmt.Errorf("failed to write rows: %w", err)
				}
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			if _, err := writer.Write(batch); err != nil {
				return fmt.Errorf("failed to write rows: %w", err)
			}
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// coerceRow narrows a row's values to the Go types the generic writer
// expects for each column, dropping values for columns not in the schema.
func coerceRow(info *domain.TableInfo, row domain.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(info.Columns))
	for _, col := range info.Columns {
		v, ok := row[col.Name]
		if !ok || v == nil {
			out[col.Name] = nil
			continue
		}
		out[col.Name] = coerceValue(col, v)
	}
	return out
}

func coerceValue(col domain.ColumnInfo, v interface{}) interface{} {
	switch strings.ToLower(col.Type) {
	case "int64", "bigint", "integer", "int":
		switch val := v.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		case int32:
			return int64(val)
		case float64:
			return int64(val)
		default:
			return int64(0)
		}
	case "float64", "double", "number", "float":
		switch val := v.(type) {
		case float64:
			return val
		case float32:
			return float64(val)
		case int64:
			return float64(val)
		case int:
			return float64(val)
		default:
			return float64(0)
		}
	case "bool", "boolean":
		if b, ok := v.(bool); ok {
			return b
		}
		return false
	default:
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
}

// parquetValueToGo converts a parquet value to a Go value based on the
// column type.
func parquetValueToGo(col domain.ColumnInfo, v pq.Value) interface{} {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case pq.Boolean:
		return v.Boolean()
	case pq.Int32:
		return int64(v.Int32())
	case pq.Int64:
		return v.Int64()
	case pq.Float:
		return float64(v.Float())
	case pq.Double:
		return v.Double()
	case pq.ByteArray:
		return string(v.ByteArray())
	default:
		return string(v.ByteArray())
	}
}
