// Package stablelist remembers, per session, which file paths were packed
// inline on a prior turn so that subsequent turns pack the same files
// first: the context a model sees about a file should not reshuffle turn
// to turn just because an unrelated file elsewhere in the project grew.
// A file keeps its place in the stable list until its size or modification
// time changes, at which point it is evicted and must be re-won on budget
// like any other candidate.
package stablelist

import (
	"context"
	"fmt"
	"time"

	"github.com/mcprelay/mcprelay/internal/sqlitebase"
)

// SentFileInfo fingerprints a file as it looked when last inlined into a
// session's packed context.
type SentFileInfo struct {
	SessionID string
	Path      string
	Size      int64
	MtimeNS   int64
}

// Store persists each session's stable list of inlined files.
type Store struct {
	db *sqlitebase.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS stable_list_files (
	session_id TEXT NOT NULL,
	path       TEXT NOT NULL,
	size       INTEGER NOT NULL,
	mtime_ns   INTEGER NOT NULL,
	position   INTEGER NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, path)
);
CREATE INDEX IF NOT EXISTS idx_stable_list_session ON stable_list_files(session_id);
`

// Open opens the stable-list database at path (":memory:" or empty for a
// private in-memory store).
func Open(path string) (*Store, error) {
	db, err := sqlitebase.Open(sqlitebase.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background(), schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Entry returns the session's stable list in packing order (the order
// files were first inlined), oldest first.
func (s *Store) Entry(ctx context.Context, sessionID string) ([]SentFileInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size, mtime_ns FROM stable_list_files WHERE session_id = ? ORDER BY position ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("stablelist: query: %w", err)
	}
	defer rows.Close()

	var out []SentFileInfo
	for rows.Next() {
		f := SentFileInfo{SessionID: sessionID}
		if err := rows.Scan(&f.Path, &f.Size, &f.MtimeNS); err != nil {
			return nil, fmt.Errorf("stablelist: scan: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Reconcile compares the session's stable list against the current
// candidate fingerprints (path -> live size/mtime) and returns:
//   - fresh: stable-list entries whose fingerprint still matches the
//     candidate (these keep their forced-inline priority this turn)
//   - stale: paths that were in the stable list but no longer match (or
//     no longer exist among candidates) and must fall out of the list
//
// It does not mutate the store; call Commit with the caller's final
// inline decision for this turn to persist the new stable list.
func (s *Store) Reconcile(ctx context.Context, sessionID string, candidates map[string]SentFileInfo) (fresh []SentFileInfo, stale []string, err error) {
	entries, err := s.Entry(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		cand, ok := candidates[e.Path]
		if !ok || cand.Size != e.Size || cand.MtimeNS != e.MtimeNS {
			stale = append(stale, e.Path)
			continue
		}
		fresh = append(fresh, e)
	}
	return fresh, stale, nil
}

// Commit replaces the session's stable list with files, preserving the
// given order as packing priority for the next turn.
func (s *Store) Commit(ctx context.Context, sessionID string, files []SentFileInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stablelist: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stable_list_files WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("stablelist: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stable_list_files (session_id, path, size, mtime_ns, position, updated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("stablelist: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, f := range files {
		if _, err := stmt.ExecContext(ctx, sessionID, f.Path, f.Size, f.MtimeNS, i, now); err != nil {
			return fmt.Errorf("stablelist: insert %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stablelist: commit: %w", err)
	}

	return s.db.MaybePurge(ctx, s.purgeOlderThan(30*24*time.Hour))
}

// Forget drops a session's stable list entirely, e.g. when the session
// cache evicts the session itself.
func (s *Store) Forget(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stable_list_files WHERE session_id = ?`, sessionID)
	return err
}

func (s *Store) purgeOlderThan(age time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-age)
		_, err := s.db.ExecContext(ctx, `DELETE FROM stable_list_files WHERE updated_at < ?`, cutoff)
		return err
	}
}
