// Package migrations contains the schema migrations for the local store.
// Versions are timestamps (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/sqlpilot/sqlpilot/pkg/db"
)

// All returns every migration. New migrations are appended here.
func All() []db.Migration {
	return []db.Migration{
		Migration20260301090000CreateConnections(),
		Migration20260301090100CreateConversationSnapshots(),
		Migration20260301090200CreateQueryLogs(),
	}
}
