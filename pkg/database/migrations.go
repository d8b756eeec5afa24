package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// RunMigrations applies any pending SQL migrations from migrationsPath.
// Safe to call on every boot: an up-to-date schema is a no-op. The domain
// tables, memory tables, and seed rows all live in the migration files.
func RunMigrations(db *sql.DB, migrationsPath string, logger *zap.Logger) error {
	if db == nil {
		return fmt.Errorf("nil database handle")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database", zap.Error(dbErr))
		}
	}()

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("No migrations to apply (database up-to-date)")
		return nil
	case err != nil:
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Applied migrations successfully", zap.Uint("version", version))
	return nil
}
