package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlpilot/sqlpilot/pkg/llm/llmtest"
	"github.com/sqlpilot/sqlpilot/pkg/schema"
	"github.com/sqlpilot/sqlpilot/pkg/sqldb"
	"github.com/sqlpilot/sqlpilot/pkg/sqlgen"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

type countingRunner struct {
	runner Runner
	sqls   []string
}

func (c *countingRunner) Run(ctx context.Context, sql string) (*sqldb.Rows, error) {
	c.sqls = append(c.sqls, sql)
	return c.runner.Run(ctx, sql)
}

type repairCall struct {
	failedSQL, errMessage, schema string
}

type fakeRepairer struct {
	replies []string
	err     error
	calls   []repairCall
}

func (f *fakeRepairer) Repair(_ context.Context, failedSQL, errMessage, schemaText string) (string, llmtypes.TokenUsage, error) {
	f.calls = append(f.calls, repairCall{failedSQL, errMessage, schemaText})
	if f.err != nil {
		return failedSQL, llmtypes.TokenUsage{}, f.err
	}
	reply := failedSQL
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	return reply, llmtypes.NewTokenUsage(40, 10, 0), nil
}

type staticSchema string

func (s staticSchema) FilteredSchema(context.Context, []string) string {
	return string(s)
}

func newTestRunner(t *testing.T) *countingRunner {
	t.Helper()
	ctx := context.Background()

	db, err := sqldb.Open(ctx, sqldb.Config{Provider: sqldb.SQLite, DBName: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Sqlx().ExecContext(ctx, `
CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, city TEXT);
INSERT INTO customers VALUES (1, 'Asha', 'Mumbai'), (2, 'Ravi', 'Mumbai'), (3, 'Meera', 'Pune');
`)
	require.NoError(t, err)
	return &countingRunner{runner: db}
}

func TestExecuteFirstAttempt(t *testing.T) {
	runner := newTestRunner(t)
	repairer := &fakeRepairer{}
	exec := New(runner, repairer, WithSchema(staticSchema("customers(id, name, city)")))

	result, err := exec.Execute(context.Background(), Request{SQL: "SELECT COUNT(*) AS total, city FROM customers WHERE city = 'Mumbai';"})
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "SELECT COUNT(*) AS total, city FROM customers WHERE city = 'Mumbai';", result.OriginalQuery)
	assert.Equal(t, []string{"total", "city"}, result.Columns)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, map[string]ColumnKind{"total": Scalar, "city": Scalar}, result.DataTypes)
	require.Len(t, result.Cards, 2)
	assert.Equal(t, "total", result.Cards[0].Label)
	assert.EqualValues(t, 2, result.Cards[0].Value)
	assert.Equal(t, Card{Label: "city", Value: "Mumbai"}, result.Cards[1])
	assert.Empty(t, result.Tables)

	assert.Zero(t, result.RetryCount)
	assert.Empty(t, result.FinalQuery)
	assert.Empty(t, result.RetryUsage)
	assert.Empty(t, repairer.calls)
	assert.Equal(t, []string{"SELECT COUNT(*) AS total, city FROM customers WHERE city = 'Mumbai'"}, runner.sqls)
}

func TestExecuteRepairsFailingStatement(t *testing.T) {
	runner := newTestRunner(t)
	repairer := &fakeRepairer{replies: []string{"SELECT name FROM customers WHERE city = 'Pune';"}}
	exec := New(runner, repairer, WithSchema(staticSchema("customers(id, name, city)")))

	result, err := exec.Execute(context.Background(), Request{
		SQL:    "SELECT full_name FROM customers WHERE city = 'Pune';",
		Tables: []string{"customers"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, "SELECT name FROM customers WHERE city = 'Pune';", result.FinalQuery)
	assert.Equal(t, "SELECT full_name FROM customers WHERE city = 'Pune';", result.OriginalQuery)
	assert.Equal(t, []Card{{Label: "name", Value: "Meera"}}, result.Cards)

	require.Len(t, repairer.calls, 1)
	assert.Equal(t, "SELECT full_name FROM customers WHERE city = 'Pune';", repairer.calls[0].failedSQL)
	assert.Contains(t, repairer.calls[0].errMessage, "full_name")
	assert.Equal(t, "customers(id, name, city)", repairer.calls[0].schema)

	require.Len(t, result.RetryUsage, 1)
	assert.Equal(t, 1, result.RetryUsage[0].Attempt)
	assert.Contains(t, result.RetryUsage[0].Error, "full_name")
	assert.Equal(t, 50, result.RetryUsage[0].Tokens.TotalTokens)
	assert.Equal(t, 50, result.RetryTokens())
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	runner := newTestRunner(t)
	repairer := &fakeRepairer{}
	exec := New(runner, repairer, WithSchema(staticSchema("customers(id, name, city)")))

	_, err := exec.Execute(context.Background(), Request{SQL: "SELECT bogus FROM customers"})
	require.Error(t, err)

	assert.True(t, strings.HasPrefix(err.Error(), "SQL execution failed after 5 attempts: "), err.Error())
	assert.Contains(t, err.Error(), "bogus")
	assert.Len(t, runner.sqls, DefaultMaxAttempts)
	assert.Len(t, repairer.calls, DefaultMaxAttempts-1)
}

func TestExecuteWithoutSchemaRetriesUnchanged(t *testing.T) {
	runner := newTestRunner(t)
	repairer := &fakeRepairer{replies: []string{"SELECT name FROM customers"}}
	exec := New(runner, repairer, WithMaxAttempts(3))

	_, err := exec.Execute(context.Background(), Request{SQL: "SELECT bogus FROM customers"})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "SQL execution failed after 3 attempts")
	assert.Empty(t, repairer.calls)
	assert.Equal(t, []string{"SELECT bogus FROM customers", "SELECT bogus FROM customers", "SELECT bogus FROM customers"}, runner.sqls)
}

func TestExecuteEmptySchemaSkipsRepair(t *testing.T) {
	runner := newTestRunner(t)
	repairer := &fakeRepairer{}
	exec := New(runner, repairer, WithSchema(staticSchema("")), WithMaxAttempts(2))

	_, err := exec.Execute(context.Background(), Request{SQL: "SELECT bogus FROM customers"})
	require.Error(t, err)
	assert.Empty(t, repairer.calls)
	assert.Len(t, runner.sqls, 2)
}

func TestExecuteRepairFailureRetriesUnchanged(t *testing.T) {
	runner := newTestRunner(t)
	repairer := &fakeRepairer{err: errors.New("model unavailable")}
	exec := New(runner, repairer, WithSchema(staticSchema("customers(id, name, city)")), WithMaxAttempts(2))

	_, err := exec.Execute(context.Background(), Request{SQL: "SELECT bogus FROM customers"})
	require.Error(t, err)
	assert.Len(t, repairer.calls, 1)
	assert.Equal(t, []string{"SELECT bogus FROM customers", "SELECT bogus FROM customers"}, runner.sqls)
}

func TestExecuteRejectsRefusalText(t *testing.T) {
	runner := newTestRunner(t)
	exec := New(runner, nil)

	_, err := exec.Execute(context.Background(), Request{SQL: "I can only generate SELECT queries to read data. I cannot modify the database."})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadOnlyViolation))
	assert.Equal(t, "Query rejected: Data modification not allowed. Only SELECT queries are permitted.", err.Error())
	assert.Empty(t, runner.sqls)
}

func TestExecuteRejectsWrites(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{name: "delete", sql: "DELETE FROM customers"},
		{name: "update", sql: "UPDATE customers SET name = 'x'"},
		{name: "write inside cte", sql: "WITH gone AS (DELETE FROM customers RETURNING id) SELECT * FROM gone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newTestRunner(t)
			repairer := &fakeRepairer{}
			exec := New(runner, repairer, WithSchema(staticSchema("customers(id, name, city)")))

			_, err := exec.Execute(context.Background(), Request{SQL: tt.sql})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrReadOnlyViolation))
			assert.Empty(t, runner.sqls)
			assert.Empty(t, repairer.calls)
		})
	}
}

func TestExecuteRepairedWriteIsAFailedAttempt(t *testing.T) {
	runner := newTestRunner(t)
	repairer := &fakeRepairer{replies: []string{"DELETE FROM customers", "SELECT name FROM customers WHERE city = 'Pune'"}}
	exec := New(runner, repairer, WithSchema(staticSchema("customers(id, name, city)")))

	result, err := exec.Execute(context.Background(), Request{SQL: "SELECT bogus FROM customers"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, "SELECT name FROM customers WHERE city = 'Pune'", result.FinalQuery)
	assert.Equal(t, []string{"SELECT bogus FROM customers", "SELECT name FROM customers WHERE city = 'Pune'"}, runner.sqls)

	require.Len(t, repairer.calls, 2)
	assert.Equal(t, "DELETE FROM customers", repairer.calls[1].failedSQL)
	assert.Equal(t, "Non-SELECT operations are blocked.", repairer.calls[1].errMessage)
}

func TestExecuteRepairedWritesExhaustAttempts(t *testing.T) {
	runner := newTestRunner(t)
	repairer := &fakeRepairer{replies: []string{"DELETE FROM customers"}}
	exec := New(runner, repairer, WithSchema(staticSchema("customers(id, name, city)")), WithMaxAttempts(3))

	_, err := exec.Execute(context.Background(), Request{SQL: "SELECT bogus FROM customers"})
	require.Error(t, err)
	assert.Equal(t, "SQL execution failed after 3 attempts: Non-SELECT operations are blocked.", err.Error())
	assert.Len(t, runner.sqls, 1)
}

func TestExecuteRunsReadOnlyLookalikes(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected any
	}{
		{name: "replace function", sql: "SELECT REPLACE(name, 'a', 'b') AS n FROM customers WHERE id = 1;", expected: "Ashb"},
		{name: "keyword in a literal", sql: "SELECT c.name AS n FROM customers c WHERE c.city = 'Pune' OR c.city = 'Open';", expected: "Meera"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newTestRunner(t)
			repairer := &fakeRepairer{}
			exec := New(runner, repairer, WithSchema(staticSchema("customers(id, name, city)")))

			result, err := exec.Execute(context.Background(), Request{SQL: tt.sql})
			require.NoError(t, err)
			require.Len(t, result.Cards, 1)
			assert.Equal(t, tt.expected, result.Cards[0].Value)
			assert.Len(t, runner.sqls, 1)
			assert.Empty(t, repairer.calls)
		})
	}
}

func TestExecuteSplitsNestedColumns(t *testing.T) {
	runner := newTestRunner(t)
	exec := New(runner, nil)

	result, err := exec.Execute(context.Background(), Request{
		SQL: "SELECT COUNT(*) AS total, (SELECT json_group_array(json_object('name', name)) FROM customers WHERE city = 'Mumbai') AS mumbai FROM customers",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]ColumnKind{"total": Scalar, "mumbai": Array}, result.DataTypes)
	require.Len(t, result.Cards, 1)
	assert.Equal(t, "total", result.Cards[0].Label)
	require.Len(t, result.Tables, 1)
	assert.Equal(t, "mumbai", result.Tables[0].Name)
	assert.Equal(t, []any{
		map[string]any{"name": "Asha"},
		map[string]any{"name": "Ravi"},
	}, result.Tables[0].Data)
}

func TestExecuteMultipleRowsHaveNoCards(t *testing.T) {
	runner := newTestRunner(t)
	exec := New(runner, nil)

	result, err := exec.Execute(context.Background(), Request{SQL: "SELECT name FROM customers ORDER BY id"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowCount)
	assert.Empty(t, result.Cards)
	assert.Empty(t, result.Tables)
}

func TestExecuteWithSynthesizerRepair(t *testing.T) {
	runner := newTestRunner(t)
	completer := llmtest.New(llmtest.Text("```sql\nSELECT name FROM customers WHERE id = 1;\n```", 30))
	catalog := &schema.Catalog{Cached: schema.Descriptor{"customers": {
		{Name: "id", Type: "INTEGER"},
		{Name: "name", Type: "TEXT"},
		{Name: "city", Type: "TEXT"},
	}}}
	synth := sqlgen.New(completer, catalog, nil)
	exec := New(runner, synth, WithSchema(catalog))

	result, err := exec.Execute(context.Background(), Request{SQL: "SELECT nme FROM customers WHERE id = 1;", Tables: []string{"customers"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, "SELECT name FROM customers WHERE id = 1;", result.FinalQuery)
	assert.Equal(t, 30, result.RetryTokens())

	require.Len(t, completer.Prompts(), 1)
	assert.Contains(t, completer.Prompts()[0].System, "SELECT nme FROM customers WHERE id = 1;")
	assert.Contains(t, completer.Prompts()[0].System, "  - name: TEXT")
}

func TestClassifyColumns(t *testing.T) {
	data := []map[string]any{
		{"id": 1, "tags": nil, "meta": "x"},
		{"id": 2, "tags": []any{"a"}, "meta": map[string]any{"k": "v"}},
	}
	assert.Equal(t, map[string]ColumnKind{"id": Scalar, "tags": Array, "meta": Array},
		ClassifyColumns(data, []string{"id", "tags", "meta"}))
	assert.Equal(t, map[string]ColumnKind{"id": Scalar}, ClassifyColumns(nil, []string{"id"}))
}

func TestSplitSkipsObjectValues(t *testing.T) {
	data := []map[string]any{{"id": 1, "meta": map[string]any{"k": "v"}}}
	kinds := ClassifyColumns(data, []string{"id", "meta"})

	cards, tables := Split(data, []string{"id", "meta"}, kinds)
	assert.Equal(t, []Card{{Label: "id", Value: 1}}, cards)
	assert.Empty(t, tables)
}
