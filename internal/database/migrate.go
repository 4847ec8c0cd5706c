package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/migrations"
)

// newMigrator builds a migrate instance over conn using the embedded schema.
// The sqlite3 driver closes the *sql.DB it wraps, so callers close only the
// returned source and never the migrator itself.
func newMigrator(conn *sql.DB) (*migrate.Migrate, source.Driver, error) {
	driver, err := sqlite3.WithInstance(conn, &sqlite3.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	src, err := migrations.GetSource()
	if err != nil {
		return nil, nil, err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	return m, src, nil
}

// MigrateUp applies all pending migrations on conn and returns the resulting
// schema version
func MigrateUp(conn *sql.DB) (uint, error) {
	m, src, err := newMigrator(conn)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		loggy.Error("Failed to apply migrations", "error", err)
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}

	loggy.Debug("Database migration complete", "version", version, "dirty", dirty)
	return version, nil
}

// MigrateDown reverts steps migrations on conn
func MigrateDown(conn *sql.DB, steps int) (uint, error) {
	if steps <= 0 {
		return 0, fmt.Errorf("steps must be positive, got %d", steps)
	}

	m, src, err := newMigrator(conn)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		loggy.Error("Failed to revert migrations", "error", err)
		return 0, fmt.Errorf("failed to revert migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}

	loggy.Info("Database migration reversion complete", "version", version, "dirty", dirty)
	return version, nil
}

// RunMigrations applies pending migrations on the global connection
func RunMigrations() (uint, error) {
	conn, err := DB()
	if err != nil {
		return 0, err
	}
	return MigrateUp(conn)
}

// RevertMigrations reverts migrations on the global connection by steps
func RevertMigrations(steps int) (uint, error) {
	conn, err := DB()
	if err != nil {
		return 0, err
	}
	return MigrateDown(conn, steps)
}

// SchemaVersion reports the applied schema version of conn
func SchemaVersion(conn *sql.DB) (uint, bool, error) {
	m, src, err := newMigrator(conn)
	if err != nil {
		return 0, false, err
	}
	defer src.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
