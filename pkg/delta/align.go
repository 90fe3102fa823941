package delta

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/saurabh22suman/oreo.io-v3/pkg/domain"
)

// canonicalizer normalises strings to NFC and strips U+FFFD replacement
// runes so every string cell persisted to the log is canonical UTF-8.
var canonicalizer = transform.Chain(norm.NFC, runes.Remove(runes.Predicate(func(r rune) bool {
	return r == utf8.RuneError
})))

// canonicalString renders any value as a canonical UTF-8 string.
func canonicalString(v interface{}) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case nil:
		return ""
	default:
		s = fmt.Sprintf("%v", val)
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	out, _, err := transform.String(canonicalizer, s)
	if err != nil {
		return s
	}
	return out
}

// castValue casts v to the target column type. The second return is false
// when the value cannot be represented in the target type.
func castValue(v interface{}, colType string) (interface{}, bool) {
	if v == nil {
		return nil, true
	}
	switch strings.ToLower(colType) {
	case "int64", "bigint", "integer", "int":
		switch val := v.(type) {
		case int64:
			return val, true
		case int:
			return int64(val), true
		case int32:
			return int64(val), true
		case float64:
			if val == float64(int64(val)) {
				return int64(val), true
			}
			return nil, false
		case bool:
			if val {
				return int64(1), true
			}
			return int64(0), true
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if err != nil {
				return nil, false
			}
			return n, true
		default:
			return nil, false
		}
	case "float64", "double", "number", "float":
		switch val := v.(type) {
		case float64:
			return val, true
		case float32:
			return float64(val), true
		case int64:
			return float64(val), true
		case int:
			return float64(val), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, false
			}
			return f, true
		default:
			return nil, false
		}
	case "bool", "boolean":
		switch val := v.(type) {
		case bool:
			return val, true
		case int64:
			return val != 0, true
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(val)))
			if err != nil {
				return nil, false
			}
			return b, true
		default:
			return nil, false
		}
	default:
		return canonicalString(v), true
	}
}

// alignRows projects incoming rows onto the target schema: target columns
// present in the batch are cast to the target type (null on a failed cast),
// target columns absent from the batch are materialised as nulls, and
// batch-only columns are dropped.
func alignRows(target *domain.TableInfo, rows []domain.Row) []domain.Row {
	aligned := make([]domain.Row, len(rows))
	for i, row := range rows {
		out := make(domain.Row, len(target.Columns))
		for _, col := range target.Columns {
			v, ok := row[col.Name]
			if !ok || v == nil {
				out[col.Name] = nil
				continue
			}
			cast, ok := castValue(v, col.Type)
			if !ok {
				out[col.Name] = nil
				continue
			}
			out[col.Name] = cast
		}
		aligned[i] = out
	}
	return aligned
}

// alignable reports whether a batch shares at least one column with the
// target schema. A non-empty batch with zero overlapping columns cannot be
// aligned meaningfully.
func alignable(target *domain.TableInfo, rows []domain.Row) bool {
	if len(rows) == 0 {
		return true
	}
	for _, col := range target.Columns {
		for _, row := range rows {
			if _, ok := row[col.Name]; ok {
				return true
			}
		}
	}
	return false
}

// inferSchema derives a table schema from a row batch. Integer-valued
// floats collapse to int64 when every value in the column is integral; a
// column mixing integers and fractional floats becomes float64, booleans
// mixed with numbers take the numeric type, and a column with any string
// or unknown value, or with no non-null value, becomes string.
func inferSchema(name string, rows []domain.Row) *domain.TableInfo {
	type colState struct {
		seen    bool
		isInt   bool
		isFloat bool
		isBool  bool
		isStr   bool
	}
	states := map[string]*colState{}
	var order []string

	for _, row := range rows {
		for col, v := range row {
			st, ok := states[col]
			if !ok {
				st = &colState{}
				states[col] = st
				order = append(order, col)
			}
			if v == nil {
				continue
			}
			st.seen = true
			switch val := v.(type) {
			case int, int32, int64:
				st.isInt = true
			case float32:
				st.isFloat = true
			case float64:
				if val == float64(int64(val)) {
					st.isInt = true
				} else {
					st.isFloat = true
				}
			case bool:
				st.isBool = true
			default:
				st.isStr = true
			}
		}
	}

	columns := make([]domain.ColumnInfo, 0, len(order))
	for _, col := range order {
		st := states[col]
		colType := "string"
		switch {
		case !st.seen || st.isStr:
			colType = "string"
		case st.isBool && !st.isInt && !st.isFloat:
			colType = "boolean"
		case st.isFloat:
			colType = "float64"
		case st.isInt:
			colType = "int64"
		}
		columns = append(columns, domain.ColumnInfo{Name: col, Type: colType, Nullable: true})
	}
	return &domain.TableInfo{Name: name, Columns: columns}
}

// schemaFromSpec converts a JSON-Schema-style column specification to a
// table schema. Accepts either {properties: {...}} or a direct column map;
// type arrays such as ["null","string"] pick the first non-null entry;
// unknown types become string. No columns yields a single placeholder
// string column.
func schemaFromSpec(name string, spec map[string]interface{}) *domain.TableInfo {
	props := spec
	if p, ok := spec["properties"].(map[string]interface{}); ok {
		props = p
	}

	var columns []domain.ColumnInfo
	for col, meta := range props {
		colType := "string"
		if m, ok := meta.(map[string]interface{}); ok {
			tval := m["type"]
			if list, ok := tval.([]interface{}); ok {
				for _, entry := range list {
					if s, ok := entry.(string); ok && s != "null" {
						tval = s
						break
					}
				}
			}
			if s, ok := tval.(string); ok {
				switch strings.ToLower(s) {
				case "integer":
					colType = "int64"
				case "number":
					colType = "float64"
				case "boolean":
					colType = "boolean"
				case "string":
					colType = "string"
				}
			}
		}
		columns = append(columns, domain.ColumnInfo{Name: col, Type: colType, Nullable: true})
	}

	if len(columns) == 0 {
		columns = []domain.ColumnInfo{{Name: "_auto", Type: "string", Nullable: true}}
	}
	return &domain.TableInfo{Name: name, Columns: columns}
}

// nullEqual compares two cell values with null-equal semantics: two nulls
// match, numeric values compare across int/float representations.
func nullEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

// rowKey renders the values of the named columns as a comparable key.
func rowKey(row domain.Row, cols []string) string {
	var sb strings.Builder
	for _, col := range cols {
		v := row[col]
		if v == nil {
			sb.WriteString("\x00~null~")
		} else if f, ok := toFloat(v); ok && f == float64(int64(f)) {
			// Canonical integral form so 2 and 2.0 collide.
			sb.WriteString(strconv.FormatInt(int64(f), 10))
		} else {
			sb.WriteString(fmt.Sprintf("%v", v))
		}
		sb.WriteByte('\x1f')
	}
	return sb.String()
}
