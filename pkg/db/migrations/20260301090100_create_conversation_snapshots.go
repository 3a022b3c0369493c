package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/db"
)

func Migration20260301090100CreateConversationSnapshots() db.Migration {
	return db.Migration{
		Version:     20260301090100,
		Description: "Create conversation_snapshots table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS conversation_snapshots (
					session_key TEXT PRIMARY KEY,
					snapshot TEXT NOT NULL,
					message_count INTEGER NOT NULL DEFAULT 0,
					token_estimate INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create conversation_snapshots table")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS conversation_snapshots")
			return errors.Wrap(err, "failed to drop conversation_snapshots table")
		},
	}
}
