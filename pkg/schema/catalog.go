package schema

import (
	"context"
	"sort"
	"strings"
)

const maxTopics = 5

// Catalog is everything the pipeline knows about one connection: its
// descriptions, allow-list, cached schema snapshot and live introspector.
type Catalog struct {
	DBDescription string
	Descriptions  map[string]string
	AllowList     *AllowList
	Cached        Descriptor
	Introspector  Introspector
	// KnownTables is scanned for when the table-selection reply is not JSON.
	// Defaults to the allow-list names.
	KnownTables []string
}

// Description returns the database description, or "database"
func (c *Catalog) Description() string {
	if c.DBDescription == "" {
		return "database"
	}
	return c.DBDescription
}

// FilteredSchema renders the schema for the requested tables
func (c *Catalog) FilteredSchema(ctx context.Context, requested []string) string {
	return FilteredSchema(ctx, requested, c.AllowList, c.Cached, c.Introspector)
}

// GeometryColumns lists the spatial columns of the live database
func (c *Catalog) GeometryColumns(ctx context.Context) ([]GeometryColumn, error) {
	if c.Introspector == nil {
		return nil, ErrNoIntrospector
	}
	return c.Introspector.GeometryColumns(ctx)
}

// SelectedTables is the comma-joined allow-list shown to the generator
func (c *Catalog) SelectedTables() string {
	return strings.Join(c.AllowList.Entries(), ", ")
}

// KnownTableNames returns the names scanned for in free-form table replies
func (c *Catalog) KnownTableNames() []string {
	if len(c.KnownTables) > 0 {
		return c.KnownTables
	}
	if names := c.AllowList.Names(); len(names) > 0 {
		return names
	}
	return c.Cached.Tables()
}

// TableDetails renders the allow-listed descriptions for table selection
func (c *Catalog) TableDetails() string {
	if len(c.Descriptions) == 0 {
		return "No table descriptions available"
	}

	var b strings.Builder
	for _, table := range c.describedTables() {
		if !c.AllowList.Permits(table) {
			continue
		}
		b.WriteString("Table: " + table + "\nDescription: " + c.Descriptions[table] + "\n\n")
	}
	return b.String()
}

// DomainDescription summarises the database and its selected tables for
// intent classification
func (c *Catalog) DomainDescription() string {
	if len(c.Descriptions) == 0 {
		return "A financial services database"
	}

	parts := []string{"Database: " + c.Description(), "\nSelected Tables:"}
	tables := c.AllowList.Names()
	if c.AllowList.IsEmpty() {
		tables = c.describedTables()
	}
	for _, table := range tables {
		if desc, ok := c.Descriptions[table]; ok {
			parts = append(parts, "- "+table+": "+desc)
		}
	}
	return strings.Join(parts, "\n")
}

// Topics names up to five described tables for the off-topic reply
func (c *Catalog) Topics() string {
	tables := c.describedTables()
	if len(tables) == 0 {
		return "data"
	}
	if len(tables) > maxTopics {
		tables = tables[:maxTopics]
	}
	return strings.Join(tables, ", ")
}

func (c *Catalog) describedTables() []string {
	tables := make([]string, 0, len(c.Descriptions))
	for table := range c.Descriptions {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}
