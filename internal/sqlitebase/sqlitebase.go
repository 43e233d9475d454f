// Package sqlitebase opens and maintains the small SQLite databases shared
// by the stable-list cache, the session caches, and the project memory
// store: one pure-Go driver connection, WAL mode for concurrent readers
// during a writer, and a probabilistic TTL purge run opportunistically on
// write so no background goroutine is needed to keep a cache bounded.
package sqlitebase

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo required
)

// DB wraps a sqlite connection opened in WAL mode with busy-timeout
// retries, plus a purge hook invoked probabilistically after writes.
type DB struct {
	*sql.DB

	// PurgeProbability is the chance (0..1) that a write triggers Purge.
	// Defaults to 0.01 (roughly 1 in 100 writes) when zero.
	PurgeProbability float64
}

// Config configures a new base cache database.
type Config struct {
	// Path to the database file. ":memory:" opens a private in-memory
	// database; empty defaults to ":memory:".
	Path string

	// BusyTimeout bounds how long a write waits on SQLITE_BUSY before
	// failing. Defaults to 5s.
	BusyTimeout time.Duration

	// PurgeProbability overrides the default opportunistic-purge rate.
	PurgeProbability float64
}

// Open opens (creating if necessary) a sqlite database configured for the
// base-cache access pattern: WAL journaling, NORMAL synchronous, and a
// busy timeout so concurrent cache instances in the same process don't
// trip over each other.
func Open(cfg Config) (*DB, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitebase: open %s: %w", path, err)
	}

	// modernc.org/sqlite serializes writers internally; a single
	// connection avoids "database is locked" churn under our own
	// concurrent callers.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("sqlitebase: pragma %q: %w", p, err)
		}
	}

	purgeProb := cfg.PurgeProbability
	if purgeProb <= 0 {
		purgeProb = 0.01
	}

	return &DB{DB: sqlDB, PurgeProbability: purgeProb}, nil
}

// MaybePurge calls purge with roughly PurgeProbability odds. Callers invoke
// this after a write so a long-lived cache never needs a dedicated
// background sweeper; the cost of an occasional extra DELETE scan is paid
// by the caller that happened to roll the dice, not by every write.
func (d *DB) MaybePurge(ctx context.Context, purge func(ctx context.Context) error) error {
	if rand.Float64() >= d.PurgeProbability {
		return nil
	}
	return purge(ctx)
}

// Compact runs VACUUM to reclaim space after a purge has deleted rows.
func (d *DB) Compact(ctx context.Context) error {
	_, err := d.ExecContext(ctx, "VACUUM")
	return err
}

// Migrate runs each statement in order inside its own exec, tolerating
// "already exists" style idempotent DDL (CREATE TABLE/INDEX IF NOT EXISTS).
func (d *DB) Migrate(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitebase: migrate: %w", err)
		}
	}
	return nil
}
