package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	migrate "github.com/golang-migrate/migrate/v4"

	"github.com/pipetrace-io/pipetrace/internal/storage"
)

type (
	// MigrationRunner defines the interface for running schema migrations.
	MigrationRunner interface {
		// Up applies all pending migrations
		Up() error

		// Down rolls back the last migration
		Down() error

		// Status shows the current migration status
		Status() error

		// Version shows the current migration version
		Version() error

		// Drop drops all tables (destructive operation)
		Drop() error

		// Close closes any open connections
		Close() error
	}

	// migrationRunner implements MigrationRunner over the embedded migration
	// files for the configured store dialect.
	migrationRunner struct {
		conn    *storage.Connection
		migrate *migrate.Migrate
	}
)

// NewMigrationRunner connects to the configured store and builds a migrate
// instance over the embedded migration files.
func NewMigrationRunner(cfg *storage.Config) (MigrationRunner, error) {
	conn, err := storage.Connect(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	m, err := conn.Migrator()
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	log.Printf("Migration runner initialized for %s store", conn.Dialect())

	return &migrationRunner{conn: conn, migrate: m}, nil
}

// Up applies all pending migrations.
func (r *migrationRunner) Up() error {
	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No new migrations to apply")
	} else {
		log.Println("All migrations applied successfully")
	}

	return nil
}

// Down rolls back the last migration.
func (r *migrationRunner) Down() error {
	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to roll back")
	} else {
		log.Println("Last migration rolled back successfully")
	}

	return nil
}

// Status shows the current migration status.
func (r *migrationRunner) Status() error {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("Migration Status: No migrations applied yet")

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	status := "clean"
	if dirty {
		status = "dirty (needs manual intervention)"
	}

	fmt.Printf("Migration Status: Version %d (%s)\n", ver, status)

	return nil
}

// Version shows the current migration version.
func (r *migrationRunner) Version() error {
	ver, _, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("Version: none")

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	fmt.Printf("Version: %d\n", ver)

	return nil
}

// Drop drops all tables.
func (r *migrationRunner) Drop() error {
	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	log.Println("All tables dropped")

	return nil
}

// Close closes the migrate instance and the store connection.
func (r *migrationRunner) Close() error {
	sourceErr, dbErr := r.migrate.Close()
	connErr := r.conn.Close()

	return errors.Join(sourceErr, dbErr, connErr)
}
