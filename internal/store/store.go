// Package store implements trafego's embedded persistence: the provider
// record cache, the managed records store, and hostname overrides, all in
// a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// ErrDatabase is the sentinel all storage failures unwrap to.
var ErrDatabase = errors.New("database error")

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("row not found")

// Store wraps the SQLite database. All methods are safe for concurrent
// use; SQLite serializes writers internally and the connection pool is
// capped accordingly.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Option is a functional option for configuring the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens (or creates) the database at path and runs pending
// migrations. Use ":memory:" for an ephemeral store in tests.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY churn; reads share it.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Debug("database ready", slog.String("path", path))
	return s, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// inTx runs fn inside a transaction. On failure the transaction is rolled
// back and the whole unit retried once before the error surfaces wrapped
// in ErrDatabase.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = s.tryTx(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrNotFound) || ctx.Err() != nil {
			return lastErr
		}
		s.logger.Warn("transaction failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}
	return fmt.Errorf("%w: %v", ErrDatabase, lastErr)
}

func (s *Store) tryTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Timestamps are stored as unix milliseconds so subsecond grace windows
// and cache TTLs survive the round-trip.

// nullTime converts a nullable column to *time.Time.
func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// timeVal converts *time.Time to a nullable column value.
func timeVal(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
