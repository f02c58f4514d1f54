// Package migration runs the schema migrations at startup.
package migration

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

// Files holds the SQL migrations compiled into the binary, so the runner
// works regardless of where the service is deployed.
//
//go:embed migrations/*.sql
var Files embed.FS

type Migrator struct {
	dbURL string
}

func NewMigrator(dbURL string) *Migrator {
	return &Migrator{dbURL: dbURL}
}

func (m *Migrator) Up() error {
	migrator, err := m.createMigrator()
	if err != nil {
		return err
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}

func (m *Migrator) Down() error {
	migrator, err := m.createMigrator()
	if err != nil {
		return err
	}

	if err := migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	return nil
}

func (m *Migrator) Version() (uint, bool, error) {
	migrator, err := m.createMigrator()
	if err != nil {
		return 0, false, err
	}

	return migrator.Version()
}

func (m *Migrator) createMigrator() (*migrate.Migrate, error) {
	db, err := sql.Open("postgres", m.dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	source, err := iofs.New(Files, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return migrator, nil
}

// AutoMigrate applies all pending migrations from the embedded set.
func AutoMigrate(dbURL string) error {
	return NewMigrator(dbURL).Up()
}
