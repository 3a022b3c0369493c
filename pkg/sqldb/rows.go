package sqldb

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ResultColumn names the single column reported for statements that return
// rows without column metadata
const ResultColumn = "result"

// Rows is a fully read result set
type Rows struct {
	Columns []string         `json:"columns"`
	Data    []map[string]any `json:"data"`
}

// Run executes sql and reads every row. Timestamps become RFC 3339 strings,
// byte slices become strings and JSON column values are decoded.
func (d *DB) Run(ctx context.Context, sql string) (*Rows, error) {
	rows, err := d.db.QueryxContext(ctx, sql)
	if err != nil {
		return nil, errors.New(FormatError(err))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read columns")
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read column types")
	}

	result := &Rows{Columns: columns, Data: []map[string]any{}}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, errors.New(FormatError(err))
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i], types[i].DatabaseTypeName())
		}
		result.Data = append(result.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(FormatError(err))
	}

	if len(result.Columns) == 0 {
		result.Columns = []string{ResultColumn}
	}
	return result, nil
}

func normalizeValue(v any, dbType string) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		return decodeJSON(string(val), dbType)
	case string:
		return decodeJSON(val, dbType)
	default:
		return v
	}
}

// decodeJSON decodes JSON documents from json/jsonb columns and from untyped
// expression columns; everything else is returned as is
func decodeJSON(s, dbType string) any {
	switch strings.ToUpper(dbType) {
	case "JSON", "JSONB", "":
	default:
		return s
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '[' && trimmed[0] != '{') {
		return s
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return s
	}
	return decoded
}
