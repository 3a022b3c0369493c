package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/db"
)

func Migration20260301090000CreateConnections() db.Migration {
	return db.Migration{
		Version:     20260301090000,
		Description: "Create connections table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS connections (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					provider TEXT NOT NULL,
					host TEXT NOT NULL DEFAULT '',
					port INTEGER NOT NULL DEFAULT 0,
					username TEXT NOT NULL DEFAULT '',
					password TEXT NOT NULL DEFAULT '',
					db_name TEXT NOT NULL,
					db_description TEXT NOT NULL DEFAULT '',
					descriptions TEXT NOT NULL DEFAULT '{}',
					selected_tables TEXT NOT NULL DEFAULT '[]',
					private_columns TEXT NOT NULL DEFAULT '{}',
					schema_snapshot TEXT NOT NULL DEFAULT '{}',
					schema_refreshed_at DATETIME,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create connections table")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS connections")
			return errors.Wrap(err, "failed to drop connections table")
		},
	}
}
