package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlpilot/sqlpilot/pkg/connections"
	"github.com/sqlpilot/sqlpilot/pkg/schema"
	"github.com/sqlpilot/sqlpilot/pkg/sqldb"
)

func sampleRecords() []connections.Record {
	return []connections.Record{
		{
			ID:             "crm",
			Title:          "CRM",
			Provider:       sqldb.Postgres,
			Host:           "db.internal",
			Port:           5432,
			User:           "reader",
			Password:       "s3cret",
			DBName:         "crm",
			DBDescription:  "Customer records for a retail bank",
			SelectedTables: []string{"customers", "crm_*"},
		},
		{
			ID:       "local",
			Title:    "Local",
			Provider: sqldb.SQLite,
			DBName:   "/tmp/local.db",
		},
	}
}

func TestConnectionAddConfigRecord(t *testing.T) {
	config := NewConnectionAddConfig()
	config.Title = "Sales"
	config.Host = "localhost"
	config.DBName = "sales"
	config.SelectedTables = []string{"orders"}

	record, err := config.Record()
	require.NoError(t, err)
	assert.Equal(t, sqldb.Postgres, record.Provider)
	assert.Equal(t, []string{"orders"}, record.SelectedTables)

	config.Provider = "oracle"
	_, err = config.Record()
	assert.Error(t, err)
}

func TestWriteConnectionFile(t *testing.T) {
	t.Run("passwords left out by default", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeConnectionFile(&buf, sampleRecords(), false))

		assert.True(t, strings.HasPrefix(buf.String(), "connections:\n"))
		assert.Contains(t, buf.String(), "title: CRM")
		assert.Contains(t, buf.String(), "- crm_*")
		assert.NotContains(t, buf.String(), "s3cret")
	})

	t.Run("passwords included on request", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeConnectionFile(&buf, sampleRecords(), true))
		assert.Contains(t, buf.String(), "password: s3cret")
	})

	t.Run("records are not modified", func(t *testing.T) {
		records := sampleRecords()
		require.NoError(t, writeConnectionFile(&bytes.Buffer{}, records, false))
		assert.Equal(t, "s3cret", records[0].Password)
	})
}

func TestReadConnectionFile(t *testing.T) {
	t.Run("exported file", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeConnectionFile(&buf, sampleRecords(), false))

		records, err := readConnectionFile(&buf)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "crm", records[0].ID)
		assert.Equal(t, sqldb.Postgres, records[0].Provider)
		assert.Empty(t, records[0].Password)
		assert.Equal(t, sqldb.SQLite, records[1].Provider)
	})

	t.Run("invalid record", func(t *testing.T) {
		input := "connections:\n  - title: Broken\n    provider: mysql\n    db_name: shop\n"
		_, err := readConnectionFile(strings.NewReader(input))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection 1 (Broken)")
		assert.Contains(t, err.Error(), "host is required")
	})

	t.Run("not yaml", func(t *testing.T) {
		_, err := readConnectionFile(strings.NewReader("connections: ["))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode connection file")
	})
}

func TestMergeImported(t *testing.T) {
	refreshed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := &connections.Record{
		ID:                "crm",
		Password:          "stored",
		Schema:            schema.Descriptor{"customers": {{Name: "id", Type: "integer"}}},
		SchemaRefreshedAt: &refreshed,
		CreatedAt:         created,
	}

	t.Run("new connection", func(t *testing.T) {
		imported := sampleRecords()[0]
		assert.Equal(t, imported, mergeImported(imported, nil))
	})

	t.Run("keeps stored password and schema", func(t *testing.T) {
		imported := sampleRecords()[0]
		imported.Password = ""

		merged := mergeImported(imported, existing)
		assert.Equal(t, "stored", merged.Password)
		assert.Equal(t, existing.Schema, merged.Schema)
		assert.Equal(t, &refreshed, merged.SchemaRefreshedAt)
		assert.Equal(t, created, merged.CreatedAt)
		assert.Equal(t, "CRM", merged.Title)
	})

	t.Run("imported password wins", func(t *testing.T) {
		merged := mergeImported(sampleRecords()[0], existing)
		assert.Equal(t, "s3cret", merged.Password)
	})
}

func TestConnectionListOutputRender(t *testing.T) {
	refreshed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	records := sampleRecords()
	records[1].SchemaRefreshedAt = &refreshed
	records[1].Schema = schema.Descriptor{"notes": {{Name: "body", Type: "TEXT"}}}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, (&ConnectionListOutput{Connections: records}).Render(&buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 4)
		assert.Contains(t, lines[0], "Schema Refreshed")
		assert.Regexp(t, `^crm\s+CRM\s+postgres\s+crm\s+2\s+never$`, lines[2])
		assert.Regexp(t, `^local\s+Local\s+sqlite\s+/tmp/local.db\s+1\s+2026-03-01T09:00:00Z$`, lines[3])
	})

	t.Run("json never carries passwords", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, (&ConnectionListOutput{Connections: records, JSON: true}).Render(&buf))

		assert.Contains(t, buf.String(), `"id": "crm"`)
		assert.NotContains(t, buf.String(), "s3cret")
	})
}
