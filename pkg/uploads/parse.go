package uploads

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
)

// ParseFile decodes an uploaded file into rows. The format is picked by
// extension: .csv, .xlsx/.xlsm/.xls, .json.
func ParseFile(path string) ([]domain.Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseCSV(path)
	case ".xlsx", ".xlsm", ".xls":
		return parseExcel(path)
	case ".json":
		return parseJSON(path)
	default:
		return nil, fmt.Errorf("unsupported file format %q", filepath.Ext(path))
	}
}

func parseCSV(path string) ([]domain.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv file is empty")
	}
	return tableFromCells(records[0], records[1:]), nil
}

func parseExcel(path string) ([]domain.Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in excel file")
	}
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read excel rows: %w", err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("sheet is empty: %s", sheets[0])
	}
	return tableFromCells(cells[0], cells[1:]), nil
}

func parseJSON(path string) ([]domain.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		// Also accept {rows: [...]}.
		var wrapper struct {
			Rows []map[string]interface{} `json:"rows"`
		}
		if err2 := json.Unmarshal(data, &wrapper); err2 != nil || wrapper.Rows == nil {
			return nil, fmt.Errorf("json file must be an array of objects: %w", err)
		}
		raw = wrapper.Rows
	}
	rows := make([]domain.Row, 0, len(raw))
	for _, m := range raw {
		rows = append(rows, normalizeJSONRow(m))
	}
	return rows, nil
}

// normalizeJSONRow collapses integral float64 values (every JSON number
// decodes as float64) back to int64.
func normalizeJSONRow(m map[string]interface{}) domain.Row {
	row := make(domain.Row, len(m))
	for k, v := range m {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			row[k] = int64(f)
		} else {
			row[k] = v
		}
	}
	return row
}

// tableFromCells turns a header row plus string cells into typed rows.
// Column types are inferred over the whole column: int64 when every
// non-empty cell parses as an integer, then float64, then boolean;
// anything mixed stays string. Empty cells become nulls.
func tableFromCells(headers []string, cells [][]string) []domain.Row {
	type colKind int
	const (
		kindInt colKind = iota
		kindFloat
		kindBool
		kindString
	)

	kinds := make([]colKind, len(headers))
	for col := range headers {
		kind := kindInt
		seen := false
		for _, record := range cells {
			if col >= len(record) || record[col] == "" {
				continue
			}
			seen = true
			value := strings.TrimSpace(record[col])
			switch kind {
			case kindInt:
				if _, err := strconv.ParseInt(value, 10, 64); err == nil {
					continue
				}
				kind = kindFloat
				fallthrough
			case kindFloat:
				if _, err := strconv.ParseFloat(value, 64); err == nil {
					continue
				}
				kind = kindBool
				fallthrough
			case kindBool:
				if _, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
					continue
				}
				kind = kindString
			}
			if kind == kindString {
				break
			}
		}
		if !seen {
			kind = kindString
		}
		kinds[col] = kind
	}

	rows := make([]domain.Row, 0, len(cells))
	for _, record := range cells {
		row := make(domain.Row, len(headers))
		for col, header := range headers {
			if col >= len(record) || record[col] == "" {
				row[header] = nil
				continue
			}
			value := strings.TrimSpace(record[col])
			switch kinds[col] {
			case kindInt:
				n, _ := strconv.ParseInt(value, 10, 64)
				row[header] = n
			case kindFloat:
				f, _ := strconv.ParseFloat(value, 64)
				row[header] = f
			case kindBool:
				b, _ := strconv.ParseBool(strings.ToLower(value))
				row[header] = b
			default:
				row[header] = record[col]
			}
		}
		rows = append(rows, row)
	}
	return rows
}
