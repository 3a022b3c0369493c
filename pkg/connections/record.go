// Package connections stores the database connections questions can be asked
// about, together with their descriptions, allow-lists and cached schema.
package connections

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/schema"
	"github.com/sqlpilot/sqlpilot/pkg/sqldb"
)

// ErrNotFound is returned when no connection has the requested id
var ErrNotFound = errors.New("connection not found")

// Record is a stored connection
type Record struct {
	ID       string         `json:"id" yaml:"id"`
	Title    string         `json:"title" yaml:"title"`
	Provider sqldb.Provider `json:"provider" yaml:"provider"`
	Host     string         `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int            `json:"port,omitempty" yaml:"port,omitempty"`
	User     string         `json:"user,omitempty" yaml:"user,omitempty"`
	Password string         `json:"-" yaml:"password,omitempty"`
	DBName   string         `json:"db_name" yaml:"db_name"`

	DBDescription  string              `json:"db_description,omitempty" yaml:"db_description,omitempty"`
	Descriptions   map[string]string   `json:"descriptions,omitempty" yaml:"descriptions,omitempty"`
	SelectedTables []string            `json:"selected_tables,omitempty" yaml:"selected_tables,omitempty"`
	PrivateColumns map[string][]string `json:"private_columns,omitempty" yaml:"private_columns,omitempty"`

	Schema            schema.Descriptor `json:"schema,omitempty" yaml:"-"`
	SchemaRefreshedAt *time.Time        `json:"schema_refreshed_at,omitempty" yaml:"-"`
	CreatedAt         time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time         `json:"updated_at" yaml:"-"`
}

// Validate checks the fields needed to open the connection
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("connection title is required")
	}
	if _, err := sqldb.ParseProvider(string(r.Provider)); err != nil {
		return err
	}
	if r.DBName == "" {
		return errors.New("connection db_name is required")
	}
	if r.Provider != sqldb.SQLite && r.Host == "" {
		return errors.Errorf("%s connection host is required", r.Provider)
	}
	if _, err := schema.NewAllowList(r.SelectedTables); err != nil {
		return err
	}
	return nil
}

// Config returns the driver configuration for the record
func (r *Record) Config() sqldb.Config {
	return sqldb.Config{
		Provider: r.Provider,
		Host:     r.Host,
		Port:     r.Port,
		User:     r.User,
		Password: r.Password,
		DBName:   r.DBName,
	}
}

// Catalog builds the schema knowledge the query engine works from.
// introspector may be nil when no live connection is open.
func (r *Record) Catalog(introspector schema.Introspector, knownTables []string) (*schema.Catalog, error) {
	allow, err := schema.NewAllowList(r.SelectedTables)
	if err != nil {
		return nil, err
	}
	return &schema.Catalog{
		DBDescription: r.DBDescription,
		Descriptions:  r.Descriptions,
		AllowList:     allow,
		Cached:        r.Schema,
		Introspector:  introspector,
		KnownTables:   knownTables,
	}, nil
}

// HasDescription reports whether a database description was provided
func (r *Record) HasDescription() bool {
	return r.DBDescription != ""
}

// TableCount is the number of tables the connection exposes: the allow-list
// size, or the cached schema size when unrestricted
func (r *Record) TableCount() int {
	if len(r.SelectedTables) > 0 {
		return len(r.SelectedTables)
	}
	return len(r.Schema)
}

// stripPrivate removes the private columns from a snapshot
func (r *Record) stripPrivate(snapshot schema.Descriptor) schema.Descriptor {
	if len(r.PrivateColumns) == 0 {
		return snapshot
	}
	out := make(schema.Descriptor, len(snapshot))
	for table, columns := range snapshot {
		hidden := make(map[string]bool, len(r.PrivateColumns[table]))
		for _, col := range r.PrivateColumns[table] {
			hidden[strings.ToLower(col)] = true
		}
		kept := make([]schema.Column, 0, len(columns))
		for _, col := range columns {
			if !hidden[strings.ToLower(col.Name)] {
				kept = append(kept, col)
			}
		}
		out[table] = kept
	}
	return out
}
