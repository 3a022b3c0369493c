package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sqlpilot/sqlpilot/pkg/db"
	"github.com/sqlpilot/sqlpilot/pkg/db/migrations"
	"github.com/sqlpilot/sqlpilot/pkg/presenter"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Local store management commands",
	Long:  `Commands for managing the local store holding connections, conversations and query logs.`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, path, err := openLocalStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		runner := db.NewMigrationRunner(store)
		before, err := runner.GetAppliedVersions(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		if err := runner.Run(ctx, migrations.All()); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}

		applied := len(migrations.All()) - len(before)
		if applied <= 0 {
			presenter.Info(fmt.Sprintf("%s is up to date", path))
			return nil
		}
		presenter.Success(fmt.Sprintf("Applied %d migrations to %s", applied, path))
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database migration status",
	Long:  `Shows the current database migration status, including applied and pending migrations.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, path, err := openLocalStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		statuses, err := db.NewMigrationRunner(store).Status(ctx, migrations.All())
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		fmt.Println("Database Migration Status")
		fmt.Println("=========================")
		fmt.Printf("Database: %s\n\n", path)

		appliedCount := 0
		for _, s := range statuses {
			status := "[ ]"
			if s.Applied {
				status = "[x]"
				appliedCount++
			}
			fmt.Printf("%s %d - %s\n", status, s.Version, s.Description)
		}

		fmt.Printf("\nApplied: %d/%d migrations\n", appliedCount, len(statuses))
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback the last database migration",
	Long:  `Rolls back the most recently applied database migration. Useful for testing or downgrading sqlpilot.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, _, err := openLocalStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		runner := db.NewMigrationRunner(store)
		applied, err := runner.GetAppliedVersions(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		if len(applied) == 0 {
			presenter.Warning("No migrations to rollback")
			return nil
		}

		lastVersion := applied[len(applied)-1]
		var description string
		for _, m := range migrations.All() {
			if m.Version == lastVersion {
				description = m.Description
				break
			}
		}

		presenter.Info(fmt.Sprintf("Rolling back migration %d: %s", lastVersion, description))
		if err := runner.Rollback(ctx, migrations.All()); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		presenter.Success(fmt.Sprintf("Successfully rolled back migration %d", lastVersion))
		return nil
	},
}

// openLocalStore opens the local store without migrating it
func openLocalStore(ctx context.Context) (*sqlx.DB, string, error) {
	path, err := db.ResolvePath(viper.GetString("store.path"))
	if err != nil {
		return nil, "", err
	}
	store, err := db.Open(ctx, path)
	if err != nil {
		return nil, "", err
	}
	return store, path, nil
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}
