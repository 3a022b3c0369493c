// Package schema renders allow-list filtered table schemas for prompts.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Sentinels returned in place of schema text. The resolver never fails.
const (
	NoMatchingTables = "No matching tables found in database"
	errorPrefix      = "Error getting schema: "
)

// Column is one column of a table in declaration order
type Column struct {
	Name string `json:"column" yaml:"column"`
	Type string `json:"type" yaml:"type"`
}

// Descriptor maps table names to their ordered columns
type Descriptor map[string][]Column

// GeometryColumn is a spatial column discovered in the target database
type GeometryColumn struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Type   string `json:"type"`
}

// Introspector reads the catalog of a live database
type Introspector interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]Column, error)
	GeometryColumns(ctx context.Context) ([]GeometryColumn, error)
}

// Render formats the listed tables present in d as
// "\nTable: name" followed by "  - column: type" lines.
func (d Descriptor) Render(tables []string) string {
	var parts []string
	for _, table := range tables {
		columns, ok := d[table]
		if !ok {
			continue
		}
		parts = append(parts, "\nTable: "+table)
		for _, col := range columns {
			parts = append(parts, fmt.Sprintf("  - %s: %s", col.Name, col.Type))
		}
	}
	return strings.Join(parts, "\n")
}

// Tables returns the table names in d, sorted
func (d Descriptor) Tables() []string {
	tables := make([]string, 0, len(d))
	for table := range d {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// renderDDL formats live columns in CREATE TABLE form, one column per line
func renderDDL(table string, columns []Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nCREATE TABLE %s (\n", table)
	for i, col := range columns {
		b.WriteString("\t" + col.Name + " " + col.Type)
		if i < len(columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")\n")
	return b.String()
}
