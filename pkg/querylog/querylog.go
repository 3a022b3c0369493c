// Package querylog keeps an audit trail of processed questions and executed
// statements in the local store.
package querylog

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/engine"
	"github.com/sqlpilot/sqlpilot/pkg/executor"
)

// Kind tells a question log from an execution log
type Kind string

const (
	KindQuery     Kind = "query"
	KindExecution Kind = "execution"
)

const defaultListLimit = 50

// Entry is one logged question or execution
type Entry struct {
	ID           string    `db:"id" json:"id"`
	Kind         Kind      `db:"kind" json:"kind"`
	SessionKey   string    `db:"session_key" json:"session_key"`
	ConnectionID string    `db:"connection_id" json:"connection_id"`
	Question     string    `db:"question" json:"question,omitempty"`
	SQL          string    `db:"sql_query" json:"sql_query,omitempty"`
	Intent       string    `db:"intent" json:"intent,omitempty"`
	Status       string    `db:"status" json:"status"`
	Error        string    `db:"error" json:"error,omitempty"`
	TotalTokens  int       `db:"total_tokens" json:"total_tokens"`
	RetryTokens  int       `db:"retry_tokens" json:"retry_tokens"`
	RetryCount   int       `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time `db:"-" json:"created_at"`
}

// Recorder writes log entries
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
}

// FromEnvelope builds the log entry for a processed question. err is the
// processing error, if any.
func FromEnvelope(sessionKey, connectionID string, env *engine.Envelope, err error) *Entry {
	entry := &Entry{
		Kind:         KindQuery,
		SessionKey:   sessionKey,
		ConnectionID: connectionID,
		Status:       engine.StatusSuccess,
	}
	if env != nil {
		entry.Question = env.Question
		entry.SQL = env.SQLQuery
		entry.Intent = env.Intent.String()
		entry.Status = env.Status
		entry.TotalTokens = env.LLMTokenUsage.TotalTokensUsed
	}
	if err != nil {
		entry.Status = engine.StatusError
		entry.Error = err.Error()
	}
	return entry
}

// FromExecution builds the log entry for an executed statement
func FromExecution(sessionKey, connectionID, sql string, result *executor.Result, err error) *Entry {
	entry := &Entry{
		Kind:         KindExecution,
		SessionKey:   sessionKey,
		ConnectionID: connectionID,
		SQL:          sql,
		Status:       engine.StatusSuccess,
	}
	if result != nil {
		entry.RetryCount = result.RetryCount
		entry.RetryTokens = result.RetryTokens()
		entry.TotalTokens = entry.RetryTokens
		if result.FinalQuery != "" {
			entry.SQL = result.FinalQuery
		}
	}
	if err != nil {
		entry.Status = engine.StatusError
		entry.Error = err.Error()
	}
	return entry
}

// Store persists log entries in the query_logs table
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a store on a migrated database
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record assigns the entry an id and timestamp and saves it
func (s *Store) Record(ctx context.Context, entry *Entry) error {
	entry.CreatedAt = s.now().UTC()
	entry.ID = ulid.MustNew(ulid.Timestamp(entry.CreatedAt), ulid.DefaultEntropy()).String()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_logs (
			id, kind, session_key, connection_id, question, sql_query, intent,
			status, error, total_tokens, retry_tokens, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Kind), entry.SessionKey, entry.ConnectionID, entry.Question,
		entry.SQL, entry.Intent, entry.Status, entry.Error, entry.TotalTokens,
		entry.RetryTokens, entry.RetryCount, entry.CreatedAt.Format(time.RFC3339Nano))
	return errors.Wrap(err, "failed to record query log")
}

// Filter narrows List
type Filter struct {
	SessionKey string
	Kind       Kind
	Limit      int
}

// List returns entries newest first
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := "SELECT id, kind, session_key, connection_id, question, sql_query, intent, status, error, total_tokens, retry_tokens, retry_count, created_at FROM query_logs WHERE 1 = 1"
	var args []any
	if filter.SessionKey != "" {
		query += " AND session_key = ?"
		args = append(args, filter.SessionKey)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list query logs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			kind      string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &kind, &entry.SessionKey, &entry.ConnectionID, &entry.Question,
			&entry.SQL, &entry.Intent, &entry.Status, &entry.Error, &entry.TotalTokens,
			&entry.RetryTokens, &entry.RetryCount, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to read query log")
		}
		entry.Kind = Kind(kind)
		if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to parse created_at")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
