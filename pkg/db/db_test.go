package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *MigrationRunner {
	t.Helper()
	sqlDB, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewMigrationRunner(sqlDB)
}

func testMigrations() []Migration {
	return []Migration{
		{
			Version:     20260101000002,
			Description: "Add column",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("ALTER TABLE items ADD COLUMN name TEXT")
				return err
			},
		},
		{
			Version:     20260101000001,
			Description: "Create items",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY)")
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec("DROP TABLE items")
				return err
			},
		},
	}
}

func TestOpenCreatesDirectoryInWALMode(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "store.db")

	sqlDB, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer sqlDB.Close()

	_, err = os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)

	var mode string
	require.NoError(t, sqlDB.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
}

func TestDefaultDBPath(t *testing.T) {
	t.Run("with base path", func(t *testing.T) {
		t.Setenv(BasePathEnv, "/custom/path")
		path, err := DefaultDBPath()
		require.NoError(t, err)
		assert.Equal(t, "/custom/path/storage.db", path)
	})

	t.Run("without base path", func(t *testing.T) {
		t.Setenv(BasePathEnv, "")
		path, err := DefaultDBPath()
		require.NoError(t, err)
		home, _ := os.UserHomeDir()
		assert.Equal(t, filepath.Join(home, ".sqlpilot", "storage.db"), path)
	})
}

func TestResolvePath(t *testing.T) {
	path, err := ResolvePath("/tmp/explicit.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/explicit.db", path)

	t.Setenv(BasePathEnv, "/base")
	path, err = ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, "/base/storage.db", path)
}

func TestMigrationRunnerAppliesInVersionOrder(t *testing.T) {
	runner := openTemp(t)
	ctx := context.Background()

	require.NoError(t, runner.Run(ctx, testMigrations()))
	require.NoError(t, runner.Run(ctx, testMigrations()))

	versions, err := runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{20260101000001, 20260101000002}, versions)
}

func TestMigrationRunnerStatus(t *testing.T) {
	runner := openTemp(t)
	ctx := context.Background()

	require.NoError(t, runner.Run(ctx, testMigrations()[1:]))

	statuses, err := runner.Status(ctx, testMigrations())
	require.NoError(t, err)
	assert.Equal(t, []MigrationStatus{
		{Version: 20260101000001, Description: "Create items", Applied: true},
		{Version: 20260101000002, Description: "Add column", Applied: false},
	}, statuses)
}

func TestMigrationRunnerRollback(t *testing.T) {
	runner := openTemp(t)
	ctx := context.Background()
	migrations := testMigrations()[1:]

	require.NoError(t, runner.Rollback(ctx, migrations), "empty store is a no-op")
	require.NoError(t, runner.Run(ctx, migrations))
	require.NoError(t, runner.Rollback(ctx, migrations))

	versions, err := runner.GetAppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestMigrationRunnerRollbackWithoutDown(t *testing.T) {
	runner := openTemp(t)
	ctx := context.Background()

	require.NoError(t, runner.Run(ctx, testMigrations()))
	err := runner.Rollback(ctx, testMigrations())
	assert.ErrorContains(t, err, "has no rollback function")
}

func TestRunMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "store.db")
	require.NoError(t, RunMigrations(context.Background(), dbPath, testMigrations()))

	sqlDB, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer sqlDB.Close()

	var count int
	require.NoError(t, sqlDB.Get(&count, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, 2, count)
}
