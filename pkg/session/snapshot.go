package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/sqlpilot/sqlpilot/pkg/memory"
)

// ErrSnapshotNotFound is returned by Load when nothing is stored for a key
var ErrSnapshotNotFound = errors.New("conversation snapshot not found")

// SnapshotStore persists conversations between restarts
type SnapshotStore interface {
	Save(ctx context.Context, key string, snapshot memory.Snapshot) error
	Load(ctx context.Context, key string) (memory.Snapshot, error)
	Delete(ctx context.Context, key string) error
}

// SQLiteSnapshotStore keeps snapshots in the local store's
// conversation_snapshots table
type SQLiteSnapshotStore struct {
	db *sqlx.DB
}

var _ SnapshotStore = (*SQLiteSnapshotStore)(nil)

// NewSQLiteSnapshotStore creates a store on a migrated database
func NewSQLiteSnapshotStore(db *sqlx.DB) *SQLiteSnapshotStore {
	return &SQLiteSnapshotStore{db: db}
}

func (s *SQLiteSnapshotStore) Save(ctx context.Context, key string, snapshot memory.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "failed to marshal snapshot")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_snapshots (session_key, snapshot, message_count, token_estimate, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			snapshot = excluded.snapshot,
			message_count = excluded.message_count,
			token_estimate = excluded.token_estimate,
			updated_at = excluded.updated_at`,
		key, string(data), snapshot.MessageCount, snapshot.TokenEstimate, time.Now().UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "failed to save snapshot")
}

func (s *SQLiteSnapshotStore) Load(ctx context.Context, key string) (memory.Snapshot, error) {
	var data string
	err := s.db.GetContext(ctx, &data, "SELECT snapshot FROM conversation_snapshots WHERE session_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return memory.Snapshot{}, errors.Wrap(err, "failed to load snapshot")
	}
	return decodeSnapshot([]byte(data))
}

func (s *SQLiteSnapshotStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM conversation_snapshots WHERE session_key = ?", key)
	return errors.Wrap(err, "failed to delete snapshot")
}

// DefaultRedisPrefix namespaces snapshot keys
const DefaultRedisPrefix = "sqlpilot:conversation:"

// RedisSnapshotStore shares snapshots between server replicas
type RedisSnapshotStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ SnapshotStore = (*RedisSnapshotStore)(nil)

// NewRedisSnapshotStore creates a store. A zero ttl keeps snapshots forever.
func NewRedisSnapshotStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisSnapshotStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSnapshotStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisSnapshotStore) key(key string) string {
	return r.prefix + key
}

func (r *RedisSnapshotStore) Save(ctx context.Context, key string, snapshot memory.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "failed to marshal snapshot")
	}
	return errors.Wrap(r.client.Set(ctx, r.key(key), data, r.ttl).Err(), "failed to save snapshot")
}

func (r *RedisSnapshotStore) Load(ctx context.Context, key string) (memory.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return memory.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return memory.Snapshot{}, errors.Wrap(err, "failed to load snapshot")
	}
	return decodeSnapshot(data)
}

func (r *RedisSnapshotStore) Delete(ctx context.Context, key string) error {
	return errors.Wrap(r.client.Del(ctx, r.key(key)).Err(), "failed to delete snapshot")
}

func decodeSnapshot(data []byte) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return memory.Snapshot{}, errors.Wrap(err, "failed to decode snapshot")
	}
	return snapshot, nil
}
