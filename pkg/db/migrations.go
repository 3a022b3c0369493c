package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
)

// Migration is a schema change versioned by timestamp (YYYYMMDDHHmmss)
type Migration struct {
	Version     int64
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// MigrationStatus reports whether a migration has been applied
type MigrationStatus struct {
	Version     int64
	Description string
	Applied     bool
}

// MigrationRunner applies migrations and records them in schema_migrations
type MigrationRunner struct {
	db *sqlx.DB
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(db *sqlx.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

// Run applies pending migrations in version order
func (r *MigrationRunner) Run(ctx context.Context, migrations []Migration) error {
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return err
	}

	for _, m := range sortedMigrations(migrations) {
		if applied[m.Version] {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return errors.Wrapf(err, "failed to apply migration %d: %s", m.Version, m.Description)
		}
		logger.G(ctx).WithField("version", m.Version).Debug("applied migration")
	}
	return nil
}

// Rollback reverts the most recently applied migration. It is a no-op on an
// empty store.
func (r *MigrationRunner) Rollback(ctx context.Context, migrations []Migration) error {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	var version int64
	if err := r.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return errors.Wrap(err, "failed to get latest migration version")
	}
	if version == 0 {
		return nil
	}

	for _, m := range migrations {
		if m.Version != version {
			continue
		}
		if m.Down == nil {
			return errors.Errorf("migration %d has no rollback function", version)
		}
		return r.revert(ctx, m)
	}
	return errors.Errorf("migration %d not found in provided migrations", version)
}

// Status lists every known migration with its applied state
func (r *MigrationRunner) Status(ctx context.Context, migrations []Migration) ([]MigrationStatus, error) {
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	sorted := sortedMigrations(migrations)
	statuses := make([]MigrationStatus, 0, len(sorted))
	for _, m := range sorted {
		statuses = append(statuses, MigrationStatus{
			Version:     m.Version,
			Description: m.Description,
			Applied:     applied[m.Version],
		})
	}
	return statuses, nil
}

// GetAppliedVersions returns the applied versions in ascending order
func (r *MigrationRunner) GetAppliedVersions(ctx context.Context) ([]int64, error) {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	var versions []int64
	if err := r.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, errors.Wrap(err, "failed to get applied versions")
	}
	return versions, nil
}

func (r *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			description TEXT
		)
	`)
	return errors.Wrap(err, "failed to create schema_migrations table")
}

func (r *MigrationRunner) appliedSet(ctx context.Context) (map[int64]bool, error) {
	versions, err := r.GetAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (r *MigrationRunner) apply(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := m.Up(tx.Tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		m.Version, time.Now(), m.Description); err != nil {
		return errors.Wrap(err, "failed to record migration")
	}
	return tx.Commit()
}

func (r *MigrationRunner) revert(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := m.Down(tx.Tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
		return errors.Wrap(err, "failed to remove migration record")
	}
	return tx.Commit()
}

func sortedMigrations(migrations []Migration) []Migration {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return sorted
}
