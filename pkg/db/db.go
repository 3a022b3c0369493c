// Package db provides the local SQLite store holding connection records,
// conversation snapshots and query logs.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// BasePathEnv overrides the directory holding the local store
const BasePathEnv = "SQLPILOT_BASE_PATH"

// DefaultDBPath returns the default path for the local store.
func DefaultDBPath() (string, error) {
	if basePath := os.Getenv(BasePathEnv); basePath != "" {
		return filepath.Join(basePath, "storage.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".sqlpilot", "storage.db"), nil
}

// ResolvePath returns path, or the default path when it is empty
func ResolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultDBPath()
}

// Open opens or creates the store at dbPath in WAL mode.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := Configure(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	return db, nil
}

// Configure sets the SQLite pragmas the store relies on.
func Configure(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", pragma)
		}
	}

	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	var journalMode string
	if err := db.GetContext(ctx, &journalMode, "PRAGMA journal_mode"); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if strings.ToLower(journalMode) != "wal" {
		return errors.Errorf("WAL mode not enabled. Current mode: %s", journalMode)
	}

	return nil
}

// RunMigrations applies pending migrations to the store at dbPath. It is
// called once at startup.
func RunMigrations(ctx context.Context, dbPath string, migrations []Migration) error {
	sqlDB, err := Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return NewMigrationRunner(sqlDB).Run(ctx, migrations)
}
