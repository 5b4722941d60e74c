package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Options configures a Store
type Options struct {
	Driver       string
	URL          string
	MaxOpenConns int
	// LockTimeout bounds how long a transaction waits for a row lock
	LockTimeout time.Duration
}

// dialect holds the SQL that differs between drivers
type dialect struct {
	driver    string
	forUpdate string
	// like is the case-insensitive pattern operator
	like string
}

type Store struct {
	db          *sqlx.DB
	url         string
	dialect     dialect
	lockTimeout time.Duration
}

// NewStore creates a new database store
func NewStore(opts Options) (*Store, error) {
	var d dialect
	switch opts.Driver {
	case DriverPostgres, "":
		d = dialect{driver: DriverPostgres, forUpdate: " FOR UPDATE", like: "ILIKE"}
	case DriverSQLite:
		d = dialect{driver: DriverSQLite, like: "LIKE"}
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", opts.Driver)
	}

	db, err := sqlx.Connect(d.driver, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if d.driver == DriverSQLite {
		// One connection serializes writers; it also keeps ":memory:" databases alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

		busy := opts.LockTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		pragmas := []string{
			"PRAGMA foreign_keys = ON",
			fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		}
		for _, p := range pragmas {
			if _, err := db.Exec(p); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", p, err)
			}
		}
	} else {
		maxOpen := opts.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 25
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		db:          db,
		url:         opts.URL,
		dialect:     d,
		lockTimeout: opts.LockTimeout,
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the name of the driver the store was opened with
func (s *Store) Driver() string {
	return s.dialect.driver
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, committing on success and rolling back otherwise
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.classify(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return s.classify(op, err)
	}

	if err := tx.Commit(); err != nil {
		return s.classify(op, err)
	}
	return nil
}

// setLockTimeout limits row lock waits for the rest of the transaction
func (s *Store) setLockTimeout(ctx context.Context, tx *sqlx.Tx) error {
	if s.dialect.driver != DriverPostgres || s.lockTimeout <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds()))
	return err
}

// classify maps driver errors onto the model error kinds.
// Errors that already carry a kind pass through untouched.
func (s *Store) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		models.ErrValidation, models.ErrInvalidReference, models.ErrNotFound,
		models.ErrInsufficientStock, models.ErrLockTimeout, models.ErrInvalidTransition,
		models.ErrConflict,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "40P01", "40001", "57014":
			// lock_not_available, deadlock_detected, serialization_failure, query_canceled
			return &models.TransientLockTimeoutError{Op: op, Err: err}
		case "23505":
			return fmt.Errorf("%s: %w: %v", op, models.ErrConflict, pqErr.Message)
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &models.TransientLockTimeoutError{Op: op, Err: err}
		case sqlite3.SQLITE_CONSTRAINT:
			if liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
				liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
				strings.Contains(liteErr.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%s: %w: %v", op, models.ErrConflict, err)
			}
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// now returns the timestamp written by store operations
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
