package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/db"
)

func Migration20260301090200CreateQueryLogs() db.Migration {
	return db.Migration{
		Version:     20260301090200,
		Description: "Create query_logs table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS query_logs (
					id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					session_key TEXT NOT NULL DEFAULT '',
					connection_id TEXT NOT NULL DEFAULT '',
					question TEXT NOT NULL DEFAULT '',
					sql_query TEXT NOT NULL DEFAULT '',
					intent TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					total_tokens INTEGER NOT NULL DEFAULT 0,
					retry_tokens INTEGER NOT NULL DEFAULT 0,
					retry_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create query_logs table")
			}

			if _, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_query_logs_session_key
				ON query_logs(session_key, created_at)
			`); err != nil {
				return errors.Wrap(err, "failed to create session_key index")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS query_logs")
			return errors.Wrap(err, "failed to drop query_logs table")
		},
	}
}
