// Package migrator applies the embedded schema migrations with golang-migrate.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrator manages database schema migrations.
type Migrator struct {
	migrationsFS fs.FS
}

// NewWithFS creates a Migrator over a filesystem of .sql migration files.
func NewWithFS(migrationsFS fs.FS) (*Migrator, error) {
	if migrationsFS == nil {
		return nil, errors.New("migrationsFS cannot be nil")
	}
	return &Migrator{migrationsFS: migrationsFS}, nil
}

func (m *Migrator) open(databaseURL string) (*migrate.Migrate, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL cannot be empty")
	}

	sourceDriver, err := iofs.New(m.migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("create iofs source: %w", err)
	}

	mig, err := migrate.NewWithSourceInstance("iofs", sourceDriver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return mig, nil
}

// Up runs all pending migrations. No pending migrations is not an error.
func (m *Migrator) Up(ctx context.Context, databaseURL string) error {
	mig, err := m.open(databaseURL)
	if err != nil {
		return err
	}
	defer mig.Close()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Version returns the current schema version and dirty state.
// A fresh database reports version 0.
func (m *Migrator) Version(ctx context.Context, databaseURL string) (version uint, dirty bool, err error) {
	mig, err := m.open(databaseURL)
	if err != nil {
		return 0, false, err
	}
	defer mig.Close()

	version, dirty, err = mig.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get version: %w", err)
	}
	return version, dirty, nil
}
