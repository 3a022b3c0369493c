package executor

import "github.com/sqlpilot/sqlpilot/pkg/sqldb"

// ColumnKind tells the UI whether a column renders as a value or a nested table
type ColumnKind string

const (
	Scalar ColumnKind = "scalar"
	Array  ColumnKind = "array"
)

// Card is a single value shown on its own
type Card struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Table is a nested list value shown as a table
type Table struct {
	Name string `json:"name"`
	Data []any  `json:"data"`
}

// Result is a successful execution
type Result struct {
	Status        string                `json:"status"`
	OriginalQuery string                `json:"original_query"`
	Data          []map[string]any      `json:"data"`
	Columns       []string              `json:"columns"`
	DataTypes     map[string]ColumnKind `json:"data_types"`
	RowCount      int                   `json:"row_count"`
	Cards         []Card                `json:"cards"`
	Tables        []Table               `json:"tables"`

	RetryCount int            `json:"retry_count,omitempty"`
	FinalQuery string         `json:"final_query,omitempty"`
	RetryUsage []AttemptUsage `json:"retry_token_usage,omitempty"`
}

// RetryTokens sums the tokens spent on repairs
func (r *Result) RetryTokens() int {
	total := 0
	for _, u := range r.RetryUsage {
		total += u.Tokens.TotalTokens
	}
	return total
}

func newResult(originalSQL string, rows *sqldb.Rows) *Result {
	if rows == nil {
		rows = &sqldb.Rows{}
	}
	data := rows.Data
	if data == nil {
		data = []map[string]any{}
	}

	kinds := ClassifyColumns(data, rows.Columns)
	cards, tables := Split(data, rows.Columns, kinds)
	return &Result{
		Status:        "success",
		OriginalQuery: originalSQL,
		Data:          data,
		Columns:       rows.Columns,
		DataTypes:     kinds,
		RowCount:      len(data),
		Cards:         cards,
		Tables:        tables,
	}
}

// ClassifyColumns marks a column Array when any row holds a list or object in it
func ClassifyColumns(data []map[string]any, columns []string) map[string]ColumnKind {
	kinds := make(map[string]ColumnKind, len(columns))
	for _, col := range columns {
		kinds[col] = Scalar
		for _, row := range data {
			if isNested(row[col]) {
				kinds[col] = Array
				break
			}
		}
	}
	return kinds
}

func isNested(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	default:
		return false
	}
}

// Split breaks a single-row result into cards for scalar columns and tables
// for list columns. Any other row count yields neither.
func Split(data []map[string]any, columns []string, kinds map[string]ColumnKind) ([]Card, []Table) {
	cards := []Card{}
	tables := []Table{}
	if len(data) != 1 {
		return cards, tables
	}

	row := data[0]
	for _, col := range columns {
		value := row[col]
		switch kinds[col] {
		case Array:
			if list, ok := value.([]any); ok {
				tables = append(tables, Table{Name: col, Data: list})
			}
		default:
			cards = append(cards, Card{Label: col, Value: value})
		}
	}
	return cards, tables
}
