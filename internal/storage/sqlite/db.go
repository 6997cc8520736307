// Package sqlite is the durable store for day grids, user policy state and
// the audit log.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// builder emits sqlite "?" placeholders.
var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// DB represents the database connection.
type DB struct {
	*sql.DB
	path   string
	loc    *time.Location
	logger zerolog.Logger
}

// NewDB opens the database at path and creates tables if they don't exist.
// Slot start times are resolved in loc.
func NewDB(path string, loc *time.Location, logger zerolog.Logger) (*DB, error) {
	if loc == nil {
		loc = time.UTC
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Immediate transactions take the write lock up front so concurrent
	// writers wait on busy_timeout instead of failing on lock upgrade.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:     db,
		path:   path,
		loc:    loc,
		logger: logger.With().Str("component", "sqlite").Logger(),
	}

	if err := instance.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	instance.logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS day_schedules (
			date TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS slots (
			date TEXT NOT NULL,
			idx INTEGER NOT NULL,
			starts_at INTEGER NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'free',
			owner_id TEXT NOT NULL DEFAULT '',
			service TEXT NOT NULL DEFAULT '',
			booked_at INTEGER NOT NULL DEFAULT 0,
			canceled_at INTEGER NOT NULL DEFAULT 0,
			block_reason TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (date, idx),
			FOREIGN KEY (date) REFERENCES day_schedules(date) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS user_policy (
			user_id TEXT PRIMARY KEY,
			strike_count INTEGER NOT NULL DEFAULT 0,
			banned BOOLEAN NOT NULL DEFAULT 0,
			banned_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL DEFAULT '',
			user_name TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			importance TEXT NOT NULL,
			ts INTEGER NOT NULL,
			date TEXT NOT NULL DEFAULT '',
			time TEXT NOT NULL DEFAULT '',
			service TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS audit_counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		)`,
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_slots_owner ON slots(owner_id, status, starts_at)",
		"CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts)",
		"CREATE INDEX IF NOT EXISTS idx_audit_user_ts ON audit_log(user_id, ts)",
		"CREATE INDEX IF NOT EXISTS idx_audit_action_ts ON audit_log(action, ts)",
		"CREATE INDEX IF NOT EXISTS idx_audit_importance_ts ON audit_log(importance, ts)",
	}

	for _, query := range append(queries, indexes...) {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}
	return nil
}

// PingContext satisfies the readiness probe.
func (db *DB) PingContext(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// withTx runs fn in a transaction and commits it if fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Times are stored as unix nanoseconds; 0 is the zero time.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (db *DB) fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).In(db.loc)
}
