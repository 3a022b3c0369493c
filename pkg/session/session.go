// Package session ties a connected database to its conversation. A session
// owns its memory and database handle and serializes its own requests.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/connections"
	"github.com/sqlpilot/sqlpilot/pkg/engine"
	"github.com/sqlpilot/sqlpilot/pkg/executor"
	"github.com/sqlpilot/sqlpilot/pkg/intent"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/memory"
	"github.com/sqlpilot/sqlpilot/pkg/querylog"
	"github.com/sqlpilot/sqlpilot/pkg/spatial"
	"github.com/sqlpilot/sqlpilot/pkg/sqldb"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

var (
	// ErrGeometryMissing is returned by GeoQuery when neither a geometry nor
	// a place name is available
	ErrGeometryMissing = errors.New("Geometry missing. Please provide geometry, or send city_name, or ask like '... in <city_name>'.")

	// ErrPlaceLookupUnsupported is returned when a place name is given for a
	// database without PostGIS
	ErrPlaceLookupUnsupported = errors.New("place name lookup requires a postgres connection")
)

// Key returns the registry key for a user's connection. Without a user id a
// random key is issued.
func Key(userID, connectionID string) string {
	if userID == "" {
		return "session_" + uuid.NewString()
	}
	return fmt.Sprintf("user_%s_db_%s", userID, connectionID)
}

// Info describes a session for the connect response
type Info struct {
	Key            string    `json:"session_key"`
	SessionID      string    `json:"session_id"`
	ConnectionID   string    `json:"database_id"`
	DatabaseName   string    `json:"database_name"`
	Provider       string    `json:"provider"`
	TableCount     int       `json:"table_count"`
	HasDescription bool      `json:"has_description"`
	ConnectedAt    time.Time `json:"connected_at"`
}

// Session is one open connection and its conversation
type Session struct {
	mu sync.Mutex

	key         string
	conn        connections.Record
	connectedAt time.Time

	engine    *engine.Engine
	memory    *memory.ConversationMemory
	db        *sqldb.DB
	executor  *executor.Executor
	resolver  *spatial.GeometryResolver
	snapshots SnapshotStore
	logs      querylog.Recorder
}

// Key returns the registry key
func (s *Session) Key() string {
	return s.key
}

// Info describes the session
func (s *Session) Info() Info {
	return Info{
		Key:            s.key,
		SessionID:      s.memory.SessionID(),
		ConnectionID:   s.conn.ID,
		DatabaseName:   s.conn.DBName,
		Provider:       string(s.conn.Provider),
		TableCount:     s.conn.TableCount(),
		HasDescription: s.conn.HasDescription(),
		ConnectedAt:    s.connectedAt,
	}
}

// Query answers a question, persisting the conversation and logging the
// outcome afterwards
func (s *Session) Query(ctx context.Context, question string, geometry spatial.Geometry) (*engine.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query(ctx, question, geometry)
}

// GeoQuery answers a spatial question. Without a geometry the place is taken
// from placeName or from the question and resolved from the database.
func (s *Session) GeoQuery(ctx context.Context, question, placeName string, geometry spatial.Geometry) (*engine.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if geometry == nil {
		place := placeName
		if place == "" {
			place = spatial.ExtractPlaceName(question)
		}
		if place == "" {
			return nil, ErrGeometryMissing
		}
		if s.resolver == nil {
			return nil, ErrPlaceLookupUnsupported
		}

		resolved, err := s.resolver.Resolve(ctx, place)
		if err != nil {
			return nil, err
		}
		logger.G(ctx).WithField("place", place).WithField("geometry_type", resolved.Type()).Info("resolved place geometry")
		geometry = resolved
	}

	return s.query(ctx, question, geometry)
}

func (s *Session) query(ctx context.Context, question string, geometry spatial.Geometry) (*engine.Envelope, error) {
	env, err := s.engine.ProcessQuery(ctx, s.memory, question, geometry)
	s.persist(ctx)

	logged := env
	var perr *engine.ProcessingError
	if errors.As(err, &perr) {
		logged = perr.Envelope
	}
	s.logQuery(ctx, querylog.FromEnvelope(s.key, s.conn.ID, logged, err))
	return env, err
}

// Execute runs a generated statement with the repair loop
func (s *Session) Execute(ctx context.Context, sql string, tables []string) (*executor.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.executor.Execute(ctx, executor.Request{SQL: sql, Tables: tables})
	s.logQuery(ctx, querylog.FromExecution(s.key, s.conn.ID, sql, result, err))
	return result, err
}

// Classify runs intent classification only
func (s *Session) Classify(ctx context.Context, question string) (intent.Intent, llmtypes.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Classify(ctx, question, s.memory)
}

// History exports the conversation
func (s *Session) History() memory.Snapshot {
	return s.memory.Snapshot()
}

// MemoryConfig returns the conversation window size
func (s *Session) MemoryConfig() memory.Config {
	return s.memory.Config()
}

// Stats summarises the conversation
func (s *Session) Stats() memory.Stats {
	return s.memory.Stats()
}

// Load replaces the conversation with snapshot. A snapshot without a session
// id keeps the current one.
func (s *Session) Load(ctx context.Context, snapshot memory.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.SessionID == "" {
		snapshot.SessionID = s.memory.SessionID()
	}
	s.memory.Restore(snapshot)
	s.persist(ctx)
}

// Clear empties the conversation and drops its stored snapshot
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memory.Clear()
	if s.snapshots == nil {
		return nil
	}
	return s.snapshots.Delete(ctx, s.key)
}

// Close persists the conversation and closes the database handle
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, s.key, s.memory.Snapshot()); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed to save conversation"))
		}
	}
	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "failed to close database"))
	}
	return result.ErrorOrNil()
}

func (s *Session) restore(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	snapshot, err := s.snapshots.Load(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			logger.G(ctx).WithError(err).Warn("failed to restore conversation")
		}
		return
	}
	s.memory.Restore(snapshot)
	logger.G(ctx).WithField("messages", s.memory.Len()).Debug("restored conversation")
}

func (s *Session) persist(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(ctx, s.key, s.memory.Snapshot()); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to save conversation")
	}
}

func (s *Session) logQuery(ctx context.Context, entry *querylog.Entry) {
	if s.logs == nil {
		return
	}
	if err := s.logs.Record(ctx, entry); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to record query log")
	}
}
