package sqldb

import (
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// FormatError renders a driver error for the repair prompt. PostgreSQL
// errors include their detail and hint.
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err.Error()
	}

	var b strings.Builder
	b.WriteString(pgErr.Severity + ":  " + pgErr.Message)
	if pgErr.Detail != "" {
		b.WriteString("\nDETAIL:  " + pgErr.Detail)
	}
	if pgErr.Hint != "" {
		b.WriteString("\nHINT:  " + pgErr.Hint)
	}
	return b.String()
}
