package connections

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/schema"
	"github.com/sqlpilot/sqlpilot/pkg/sqldb"
)

// jsonField stores a value as a JSON text column
type jsonField[T any] struct {
	Data T
}

// Scan implements sql.Scanner
func (j *jsonField[T]) Scan(value any) error {
	if value == nil {
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.Errorf("cannot scan %T into jsonField", value)
	}
	return json.Unmarshal(raw, &j.Data)
}

// Value implements driver.Valuer
func (j jsonField[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type dbRecord struct {
	ID                string                         `db:"id"`
	Title             string                         `db:"title"`
	Provider          string                         `db:"provider"`
	Host              string                         `db:"host"`
	Port              int                            `db:"port"`
	Username          string                         `db:"username"`
	Password          string                         `db:"password"`
	DBName            string                         `db:"db_name"`
	DBDescription     string                         `db:"db_description"`
	Descriptions      jsonField[map[string]string]   `db:"descriptions"`
	SelectedTables    jsonField[[]string]            `db:"selected_tables"`
	PrivateColumns    jsonField[map[string][]string] `db:"private_columns"`
	Schema            jsonField[schema.Descriptor]   `db:"schema_snapshot"`
	SchemaRefreshedAt sql.NullString                 `db:"schema_refreshed_at"`
	CreatedAt         string                         `db:"created_at"`
	UpdatedAt         string                         `db:"updated_at"`
}

func (d *dbRecord) toRecord() (Record, error) {
	r := Record{
		ID:             d.ID,
		Title:          d.Title,
		Provider:       sqldb.Provider(d.Provider),
		Host:           d.Host,
		Port:           d.Port,
		User:           d.Username,
		Password:       d.Password,
		DBName:         d.DBName,
		DBDescription:  d.DBDescription,
		Descriptions:   d.Descriptions.Data,
		SelectedTables: d.SelectedTables.Data,
		PrivateColumns: d.PrivateColumns.Data,
		Schema:         d.Schema.Data,
	}

	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, d.CreatedAt); err != nil {
		return r, errors.Wrap(err, "failed to parse created_at")
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, d.UpdatedAt); err != nil {
		return r, errors.Wrap(err, "failed to parse updated_at")
	}
	if d.SchemaRefreshedAt.Valid && d.SchemaRefreshedAt.String != "" {
		refreshed, err := time.Parse(time.RFC3339Nano, d.SchemaRefreshedAt.String)
		if err != nil {
			return r, errors.Wrap(err, "failed to parse schema_refreshed_at")
		}
		r.SchemaRefreshedAt = &refreshed
	}
	return r, nil
}

const selectColumns = `id, title, provider, host, port, username, password, db_name, db_description,
	descriptions, selected_tables, private_columns, schema_snapshot, schema_refreshed_at, created_at, updated_at`

// Store persists connection records in the local store
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a store on a migrated database
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Save inserts or updates record. A missing ID is generated and written
// back, as are the timestamps.
func (s *Store) Save(ctx context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return errors.Wrap(err, "invalid connection")
	}

	now := s.now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	var refreshed sql.NullString
	if record.SchemaRefreshedAt != nil {
		refreshed = sql.NullString{String: record.SchemaRefreshedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			provider = excluded.provider,
			host = excluded.host,
			port = excluded.port,
			username = excluded.username,
			password = excluded.password,
			db_name = excluded.db_name,
			db_description = excluded.db_description,
			descriptions = excluded.descriptions,
			selected_tables = excluded.selected_tables,
			private_columns = excluded.private_columns,
			schema_snapshot = excluded.schema_snapshot,
			schema_refreshed_at = excluded.schema_refreshed_at,
			updated_at = excluded.updated_at`,
		record.ID, record.Title, string(record.Provider), record.Host, record.Port, record.User,
		record.Password, record.DBName, record.DBDescription,
		jsonField[map[string]string]{Data: record.Descriptions},
		jsonField[[]string]{Data: record.SelectedTables},
		jsonField[map[string][]string]{Data: record.PrivateColumns},
		jsonField[schema.Descriptor]{Data: record.Schema},
		refreshed,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.UpdatedAt.Format(time.RFC3339Nano),
	)
	return errors.Wrap(err, "failed to save connection")
}

// Get loads a connection by id
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var row dbRecord
	err := s.db.GetContext(ctx, &row, "SELECT "+selectColumns+" FROM connections WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "failed to load connection")
	}
	return row.toRecord()
}

// List returns every connection ordered by title
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var rows []dbRecord
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+selectColumns+" FROM connections ORDER BY title, id"); err != nil {
		return nil, errors.Wrap(err, "failed to list connections")
	}

	records := make([]Record, 0, len(rows))
	for i := range rows {
		record, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete removes a connection
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete connection")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

// UpdateSchema replaces the cached schema snapshot of a connection
func (s *Store) UpdateSchema(ctx context.Context, id string, snapshot schema.Descriptor) error {
	now := s.now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		"UPDATE connections SET schema_snapshot = ?, schema_refreshed_at = ?, updated_at = ? WHERE id = ?",
		jsonField[schema.Descriptor]{Data: snapshot}, now, now, id)
	if err != nil {
		return errors.Wrap(err, "failed to update schema snapshot")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}
