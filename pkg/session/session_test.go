package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sqlpilot/sqlpilot/pkg/connections"
	"github.com/sqlpilot/sqlpilot/pkg/db"
	"github.com/sqlpilot/sqlpilot/pkg/db/migrations"
	"github.com/sqlpilot/sqlpilot/pkg/engine"
	"github.com/sqlpilot/sqlpilot/pkg/intent"
	"github.com/sqlpilot/sqlpilot/pkg/llm/llmtest"
	"github.com/sqlpilot/sqlpilot/pkg/memory"
	"github.com/sqlpilot/sqlpilot/pkg/querylog"
	"github.com/sqlpilot/sqlpilot/pkg/schema"
	"github.com/sqlpilot/sqlpilot/pkg/sqldb"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

type fixture struct {
	factory   *Factory
	completer *llmtest.ScriptedCompleter
	record    connections.Record
	logs      *querylog.Store
	snapshots *SQLiteSnapshotStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	target := filepath.Join(dir, "shop.db")
	targetDB, err := sqlx.Open("sqlite", target)
	require.NoError(t, err)
	_, err = targetDB.Exec(`
		CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, city TEXT);
		INSERT INTO customers (name, city) VALUES ('Asha', 'Mumbai'), ('Ravi', 'Pune');`)
	require.NoError(t, err)
	require.NoError(t, targetDB.Close())

	local, err := db.Open(ctx, filepath.Join(dir, "storage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	require.NoError(t, db.NewMigrationRunner(local).Run(ctx, migrations.All()))

	completer := llmtest.New()
	f := &fixture{
		completer: completer,
		record: connections.Record{
			ID:             "7",
			Title:          "Shop",
			Provider:       sqldb.SQLite,
			DBName:         target,
			DBDescription:  "Shop database",
			SelectedTables: []string{"customers"},
			Schema: schema.Descriptor{"customers": {
				{Name: "id", Type: "INTEGER"},
				{Name: "name", Type: "TEXT"},
				{Name: "city", Type: "TEXT"},
			}},
		},
		logs:      querylog.NewStore(local),
		snapshots: NewSQLiteSnapshotStore(local),
	}
	f.factory = &Factory{
		Completer: completer,
		Snapshots: f.snapshots,
		Logs:      f.logs,
		now:       func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	}
	return f
}

func (f *fixture) open(t *testing.T, key string) *Session {
	t.Helper()
	s, err := f.factory.Open(context.Background(), key, f.record)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestKey(t *testing.T) {
	assert.Equal(t, "user_3_db_7", Key("3", "7"))

	anonymous := Key("", "7")
	assert.True(t, strings.HasPrefix(anonymous, "session_"))
	assert.NotEqual(t, anonymous, Key("", "7"))
}

func TestFactoryOpenRequiresCompleter(t *testing.T) {
	f := newFixture(t)
	f.factory.Completer = nil

	_, err := f.factory.Open(context.Background(), "k", f.record)
	require.Error(t, err)
}

func TestSessionInfo(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "user_3_db_7")

	info := s.Info()
	assert.Equal(t, "user_3_db_7", info.Key)
	assert.Equal(t, "user_3_db_7", info.SessionID)
	assert.Equal(t, "7", info.ConnectionID)
	assert.Equal(t, "sqlite", info.Provider)
	assert.Equal(t, 1, info.TableCount)
	assert.True(t, info.HasDescription)
}

func TestSessionQueryAndExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "user_3_db_7")

	f.completer.Push(
		llmtest.Text("SQL_QUERY", 10),
		llmtest.Text(`["customers"]`, 20),
		llmtest.Text("SELECT name FROM customers WHERE city = 'Mumbai';", 30),
	)
	env, err := s.Query(ctx, "Which customers live in Mumbai?", nil)
	require.NoError(t, err)
	assert.Equal(t, intent.SQLQuery, env.Intent)
	assert.Equal(t, "SELECT name FROM customers WHERE city = 'Mumbai';", env.SQLQuery)

	result, err := s.Execute(ctx, env.SQLQuery, env.FilteredTables)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, "Asha", result.Data[0]["name"])

	logs, err := f.logs.List(ctx, querylog.Filter{SessionKey: "user_3_db_7"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, querylog.KindExecution, logs[0].Kind)
	assert.Equal(t, querylog.KindQuery, logs[1].Kind)
	assert.Equal(t, 60, logs[1].TotalTokens)
	assert.Equal(t, "7", logs[1].ConnectionID)

	stats := s.Stats()
	assert.Equal(t, 1, stats.UserMessages)
	assert.Equal(t, 1, stats.AssistantMessages)
	assert.Equal(t, map[string]int{"sql_query": 1}, stats.IntentBreakdown)
}

func TestSessionQueryFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "k")

	f.completer.Push(
		llmtest.Text("SQL_QUERY", 10),
		llmtest.Text(`["customers"]`, 20),
		llmtest.Fail("rate limited"),
	)
	_, err := s.Query(ctx, "Which customers live in Mumbai?", nil)
	require.Error(t, err)

	var perr *engine.ProcessingError
	require.ErrorAs(t, err, &perr)

	logs, err := f.logs.List(ctx, querylog.Filter{SessionKey: "k"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, engine.StatusError, logs[0].Status)
	assert.Equal(t, "Which customers live in Mumbai?", logs[0].Question)
	assert.Contains(t, logs[0].Error, "Query processing failed")
}

func TestSessionExecuteFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "k")

	f.completer.Push(
		llmtest.Fail("down"), llmtest.Fail("down"), llmtest.Fail("down"), llmtest.Fail("down"),
	)
	_, err := s.Execute(ctx, "SELECT missing FROM customers", []string{"customers"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQL execution failed after 5 attempts")

	logs, err := f.logs.List(ctx, querylog.Filter{SessionKey: "k", Kind: querylog.KindExecution})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, engine.StatusError, logs[0].Status)
}

func TestSessionClassifyLeavesConversationAlone(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "k")

	f.completer.Push(llmtest.Text("CASUAL_CHAT", 5))
	got, usage := s.Classify(context.Background(), "hello")
	assert.Equal(t, intent.CasualChat, got)
	assert.Equal(t, 5, usage.TotalTokens)
	assert.Zero(t, s.History().MessageCount)
}

func TestSessionRestoresSavedConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.factory.Open(ctx, "user_3_db_7", f.record)
	require.NoError(t, err)
	f.completer.Push(llmtest.Text("CASUAL_CHAT", 5), llmtest.Text("Hello!", 5))
	_, err = first.Query(ctx, "Hi there", nil)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second := f.open(t, "user_3_db_7")
	history := second.History()
	require.Equal(t, 2, history.MessageCount)
	assert.Equal(t, "Hi there", history.Messages[0].Content)
	assert.Equal(t, "Hello!", history.Messages[1].Content)
}

func TestSessionLoadAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "k")

	s.Load(ctx, memory.Snapshot{Messages: []memory.Message{
		{Role: llmtypes.RoleUser, Content: "earlier question"},
		{Role: llmtypes.RoleAssistant, Content: "Generated SQL query", Metadata: map[string]any{"intent": "sql_query"}},
	}})
	assert.Equal(t, "k", s.History().SessionID)
	assert.Equal(t, 2, s.History().MessageCount)

	stored, err := f.snapshots.Load(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)

	require.NoError(t, s.Clear(ctx))
	assert.Zero(t, s.History().MessageCount)
	assert.Equal(t, "k", s.History().SessionID)

	_, err = f.snapshots.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSessionGeoQueryWithoutGeometry(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "k")
	ctx := context.Background()

	_, err := s.GeoQuery(ctx, "show all parcels", "", nil)
	assert.ErrorIs(t, err, ErrGeometryMissing)

	_, err = s.GeoQuery(ctx, "show all parcels in Pune", "", nil)
	assert.ErrorIs(t, err, ErrPlaceLookupUnsupported)
	assert.Empty(t, f.completer.Prompts())
}

func TestMemoryStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := f.factory.Open(ctx, "k", f.record)
	require.NoError(t, err)
	second, err := f.factory.Open(ctx, "k", f.record)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "k", first))
	got, ok := store.Get("k")
	require.True(t, ok)
	assert.Same(t, first, got)

	require.NoError(t, store.Put(ctx, "k", second))
	got, _ = store.Get("k")
	assert.Same(t, second, got)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Evict(ctx, "k"))
	_, ok = store.Get("k")
	assert.False(t, ok)
	assert.NoError(t, store.Evict(ctx, "missing"))
	assert.NoError(t, store.Close(ctx))
}

func TestSQLiteSnapshotStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.snapshots.Load(ctx, "none")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	snapshot := memory.Snapshot{
		SessionID:     "k",
		CreatedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		MessageCount:  1,
		Messages:      []memory.Message{{Role: llmtypes.RoleUser, Content: "hello"}},
		TokenEstimate: 1,
	}
	require.NoError(t, f.snapshots.Save(ctx, "k", snapshot))
	snapshot.Messages = append(snapshot.Messages, memory.Message{Role: llmtypes.RoleAssistant, Content: "hi"})
	snapshot.MessageCount = 2
	require.NoError(t, f.snapshots.Save(ctx, "k", snapshot))

	loaded, err := f.snapshots.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.MessageCount)
	assert.Equal(t, "hi", loaded.Messages[1].Content)
	assert.True(t, loaded.CreatedAt.Equal(snapshot.CreatedAt))

	require.NoError(t, f.snapshots.Delete(ctx, "k"))
	_, err = f.snapshots.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRedisSnapshotStore(t *testing.T) {
	addr := os.Getenv("SQLPILOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SQLPILOT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	store := NewRedisSnapshotStore(client, "sqlpilot-test:", time.Minute)
	key := Key("", "1")
	t.Cleanup(func() { store.Delete(ctx, key) })

	_, err := store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, store.Save(ctx, key, memory.Snapshot{SessionID: key, MessageCount: 1,
		Messages: []memory.Message{{Role: llmtypes.RoleUser, Content: "hello"}}}))
	loaded, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", loaded.Messages[0].Content)

	ttl, err := client.TTL(ctx, "sqlpilot-test:"+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisSnapshotStoreDefaultPrefix(t *testing.T) {
	store := NewRedisSnapshotStore(nil, "", 0)
	assert.Equal(t, DefaultRedisPrefix+"k", store.key("k"))
}
