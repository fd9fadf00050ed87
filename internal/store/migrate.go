package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/chatsync/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate brings the schema up to the newest embedded version.
func (db *DB) Migrate() (MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migration instance: %w", err)
	}

	res := MigrateResult{Changed: true}
	if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
		res.Changed = false
	} else if err != nil {
		return MigrateResult{}, fmt.Errorf("migration up: %w", err)
	}
	res.Version, res.Dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrateResult{}, fmt.Errorf("migration version: %w", err)
	}
	return res, nil
}
