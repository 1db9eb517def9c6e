// Package migrations drives the subgraph-metadata and credit-pool schema
// migrations (golang-migrate/migrate/v4), first wired up by
// "cmd/graphctl migrate" against the *.sql files embedded from this
// package's directory.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed *.sql
var files embed.FS

// Apply runs every pending up migration against db.
func Apply(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func Rollback(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migration: %w", err)
	}
	return nil
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("build migrator: %w", err)
	}
	return m, nil
}
