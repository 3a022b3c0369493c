package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapseQualifiers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "table.alias.column",
			input:    "SELECT COUNT(crm_customer.c.id) FROM crm_customer c WHERE crm_customer.c.city = 'Mumbai'",
			expected: "SELECT COUNT(c.id) FROM crm_customer c WHERE c.city = 'Mumbai'",
		},
		{
			name:     "alias.table.column",
			input:    "SELECT c.crm_customer.id FROM crm_customer c",
			expected: "SELECT c.id FROM crm_customer c",
		},
		{
			name:     "table.table.column",
			input:    "SELECT orders.Orders.total FROM orders",
			expected: "SELECT orders.total FROM orders",
		},
		{
			name:     "multi letter alias is left alone",
			input:    "SELECT cu.crm_customer.id FROM crm_customer cu",
			expected: "SELECT cu.crm_customer.id FROM crm_customer cu",
		},
		{
			name:     "uppercase single letter alias",
			input:    "SELECT crm_customer.C.id FROM crm_customer C",
			expected: "SELECT C.id FROM crm_customer C",
		},
		{
			name:     "repeated qualifier after an unrelated prefix",
			input:    "SELECT xy.tasks.tasks.title",
			expected: "SELECT xy.tasks.title",
		},
		{
			name:     "two part references untouched",
			input:    "SELECT c.id, t.title FROM tasks t JOIN crm_customer c ON t.customer_id = c.id",
			expected: "SELECT c.id, t.title FROM tasks t JOIN crm_customer c ON t.customer_id = c.id",
		},
		{
			name:     "decimals untouched",
			input:    "SELECT 1.5 + 2.25",
			expected: "SELECT 1.5 + 2.25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CollapseQualifiers(tt.input))
		})
	}
}

func TestRepairCasing(t *testing.T) {
	schema := "\nCREATE TABLE Customer (\n\tCustomerName TEXT,\n\tcity TEXT\n)\n"

	got := RepairCasing("SELECT c.customername FROM customer c WHERE c.CITY = 'Pune';", schema)
	assert.Equal(t, "SELECT c.CustomerName FROM Customer c WHERE c.city = 'Pune';", got)

	// literals are rewritten too
	got = RepairCasing("SELECT 'customername' AS label;", schema)
	assert.Equal(t, "SELECT 'CustomerName' AS label;", got)

	assert.Equal(t, "SELECT 1;", RepairCasing("SELECT 1;", ""))
}

func TestSanitizeIsIdempotent(t *testing.T) {
	schema := "\nTable: crm_customer\n  - id: integer\n  - name: text\n  - city: text"
	inputs := []string{
		"SELECT crm_customer.c.city FROM crm_customer c;",
		"SELECT c.crm_customer.name, xy.tasks.tasks.title FROM crm_customer c;",
		"SELECT COUNT(*) FROM CRM_CUSTOMER WHERE city = 'Mumbai';",
		"SELECT * FROM farms WHERE ST_DWithin(geom, ST_GeomFromGeoJSON($${\"type\":\"Point\",\"coordinates\":[72.8,19.0]}$$), 10000);",
	}

	for _, input := range inputs {
		once := Sanitize(input, schema)
		assert.Equal(t, once, Sanitize(once, schema), "input: %s", input)
	}
}

func TestExtractStatement(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "fenced with prose",
			input:    "Here is your query:\n```sql\nSELECT c.id\nFROM crm_customer c;\n```\nThis query returns ids.",
			expected: "SELECT c.id FROM crm_customer c;",
		},
		{
			name:     "note trailer",
			input:    "WITH x AS (SELECT 1)\nSELECT * FROM x\nNote: uses a CTE",
			expected: "WITH x AS (SELECT 1) SELECT * FROM x;",
		},
		{
			name:     "explanation trailer without semicolon",
			input:    "SELECT 1\n  Explanation: constant",
			expected: "SELECT 1;",
		},
		{
			name:     "only the first statement is kept",
			input:    "SELECT 1; SELECT 2;",
			expected: "SELECT 1;",
		},
		{
			name:     "trailer order wins over position",
			input:    "SELECT a\nOutput: rows\nNote: late",
			expected: "SELECT a Output: rows;",
		},
		{
			name:     "keyword match is case-insensitive",
			input:    "Sure! select * from t",
			expected: "select * from t;",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractStatement(tt.input))
		})
	}
}

func TestSingleLine(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t;", SingleLine("  SELECT *\n\tFROM t  "))
	assert.Equal(t, "SELECT 1;", SingleLine("SELECT 1;"))
}
