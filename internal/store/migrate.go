package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies all pending schema migrations
func (s *Store) Migrate() error {
	m, closeFn, err := s.migrator()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the given number of migrations
func (s *Store) MigrateDown(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}

	m, closeFn, err := s.migrator()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version and whether it is dirty
func (s *Store) SchemaVersion() (uint, bool, error) {
	m, closeFn, err := s.migrator()
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) migrator() (*migrate.Migrate, func(), error) {
	src, err := iofs.New(migrationsFS, "migrations/"+s.dialect.driver)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open migrations: %w", err)
	}

	var (
		driver  database.Driver
		closeFn func()
	)

	switch s.dialect.driver {
	case DriverPostgres:
		// The postgres driver pins a connection, so it gets a handle of its own.
		db, err := sql.Open(DriverPostgres, s.url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open migration connection: %w", err)
		}
		driver, err = postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to init migration driver: %w", err)
		}
		closeFn = func() {
			_ = driver.Close()
			_ = db.Close()
		}
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init migration driver: %w", err)
		}
		// Closing the sqlite driver would close the store's own handle.
		closeFn = func() { _ = src.Close() }
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %q", s.dialect.driver)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.dialect.driver, driver)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to init migrator: %w", err)
	}
	return m, closeFn, nil
}
