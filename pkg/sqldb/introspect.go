package sqldb

import (
	"context"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/schema"
)

var tablesQueries = map[Provider]string{
	Postgres: `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type IN ('BASE TABLE', 'VIEW') ORDER BY table_name`,
	MySQL: `SELECT table_name FROM information_schema.tables
WHERE table_schema = DATABASE() ORDER BY table_name`,
	MSSQL: `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = SCHEMA_NAME() ORDER BY TABLE_NAME`,
	SQLite: `SELECT name FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`,
}

var columnsQueries = map[Provider]string{
	Postgres: `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = ? ORDER BY ordinal_position`,
	MySQL: `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position`,
	MSSQL: `SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`,
	SQLite: `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`,
}

const geometryColumnsQuery = `SELECT table_name, column_name, udt_name
FROM information_schema.columns
WHERE data_type = 'USER-DEFINED' AND table_schema = 'public'
ORDER BY table_name, column_name`

// Tables lists the tables and views of the default schema
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	var tables []string
	if err := d.db.SelectContext(ctx, &tables, tablesQueries[d.provider]); err != nil {
		return nil, errors.Wrap(err, "failed to list tables")
	}
	return tables, nil
}

// Columns lists the columns of table in declaration order
func (d *DB) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	rows, err := d.db.QueryxContext(ctx, d.db.Rebind(columnsQueries[d.provider]), table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list columns of %s", table)
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, errors.Wrapf(err, "failed to read columns of %s", table)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// GeometryColumns lists PostGIS columns in the public schema. Other
// providers have none.
func (d *DB) GeometryColumns(ctx context.Context) ([]schema.GeometryColumn, error) {
	if d.provider != Postgres {
		return nil, nil
	}

	rows, err := d.db.QueryxContext(ctx, geometryColumnsQuery)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list geometry columns")
	}
	defer rows.Close()

	var columns []schema.GeometryColumn
	for rows.Next() {
		var col schema.GeometryColumn
		if err := rows.Scan(&col.Table, &col.Column, &col.Type); err != nil {
			return nil, errors.Wrap(err, "failed to read geometry columns")
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// Snapshot introspects the given tables into a descriptor
func (d *DB) Snapshot(ctx context.Context, tables []string) (schema.Descriptor, error) {
	snapshot := make(schema.Descriptor, len(tables))
	for _, table := range tables {
		columns, err := d.Columns(ctx, table)
		if err != nil {
			return nil, err
		}
		snapshot[table] = columns
	}
	return snapshot, nil
}

var _ schema.Introspector = (*DB)(nil)
