// Package database owns the embedded SQLite store: the process-wide pool,
// lock-retrying scoped transactions, schema bootstrap, and WAL checkpoints.
// Every other component acquires connections through this package.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"digest_server/pkg/resilience"
	"digest_server/pkg/telemetry"
)

// Config holds the embedded store settings.
type Config struct {
	Path              string
	PoolSize          int           // max open connections (default 5)
	BusyTimeout       time.Duration // driver-level busy handler
	LockRetryAttempts int
	LockRetryBase     time.Duration
}

// DefaultConfig returns the standard single-process settings.
func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		PoolSize:          5,
		BusyTimeout:       5 * time.Second,
		LockRetryAttempts: 5,
		LockRetryBase:     10 * time.Millisecond,
	}
}

// DB wraps the sqlx pool with lock-retrying scoped access.
type DB struct {
	db        *sqlx.DB
	lockRetry resilience.RetryPolicy
	log       zerolog.Logger
}

// New opens the store in WAL mode and configures the pool. Fails fast when
// the file cannot be opened or pinged.
func New(cfg Config, log zerolog.Logger) (*DB, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 5
	}
	if cfg.LockRetryAttempts <= 0 {
		cfg.LockRetryAttempts = 5
	}
	if cfg.LockRetryBase <= 0 {
		cfg.LockRetryBase = 10 * time.Millisecond
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_loc=UTC",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{
		db:  db,
		log: log.With().Str("component", "database").Logger(),
	}
	d.lockRetry = resilience.RetryPolicy{
		MaxAttempts:  cfg.LockRetryAttempts,
		BaseDelay:    cfg.LockRetryBase,
		MaxDelay:     500 * time.Millisecond,
		Jitter:       0.5,
		NonRetryable: func(err error) bool { return !IsLockError(err) },
		OnRetry: func(attempt int, err error, delay time.Duration) {
			telemetry.Warn(d.log, telemetry.EventLockRetry).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("database locked, retrying")
		},
	}

	d.log.Info().Str("path", cfg.Path).Int("pool_size", cfg.PoolSize).Msg("database opened")
	return d, nil
}

// Pool exposes the raw sqlx handle for read paths that need no transaction.
// Connection checkout and release are handled by database/sql per call.
func (d *DB) Pool() *sqlx.DB {
	return d.db
}

// Read runs fn on the pool under the lock-retry policy, without a
// transaction.
func (d *DB) Read(ctx context.Context, fn func(db *sqlx.DB) error) error {
	return d.lockRetry.Execute(ctx, func() error { return fn(d.db) })
}

// WithTx runs fn inside a transaction: commit on nil error, rollback on any
// failure or panic. The whole transaction retries under the lock policy so
// write contention resolves without caller involvement.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return d.lockRetry.Execute(ctx, func() error {
		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// Checkpoint truncates the WAL and returns the bytes reclaimed, for
// observability at the end of a pipeline run.
func (d *DB) Checkpoint(ctx context.Context) (int64, error) {
	var pageSize int64
	if err := d.db.GetContext(ctx, &pageSize, "PRAGMA page_size"); err != nil {
		return 0, fmt.Errorf("failed to read page size: %w", err)
	}

	var busy, logPages, checkpointed int64
	row := d.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err := row.Scan(&busy, &logPages, &checkpointed); err != nil {
		return 0, fmt.Errorf("failed to checkpoint wal: %w", err)
	}

	reclaimed := checkpointed * pageSize
	telemetry.Emit(d.log, telemetry.EventWALCheckpoint).
		Int64("busy", busy).
		Int64("log_pages", logPages).
		Int64("bytes_reclaimed", reclaimed).
		Msg("wal checkpoint complete")
	return reclaimed, nil
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// IsLockError reports whether err is SQLite lock contention, the only
// storage error class the retry policy may act on.
func IsLockError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked")
}

// IsSchemaError reports missing-table/column errors. These are never
// retried and are fatal during startup.
func IsSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column")
}
