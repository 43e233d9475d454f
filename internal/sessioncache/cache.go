// Package sessioncache stores per-session provider continuation state
// (OpenAI response ids, Gemini turn history, Grok chat-message arrays)
// behind a sqlite-backed TTL cache, with writes to any one session
// serialized through a per-session mutex so two concurrent turns of the
// same session can never race on the same row.
package sessioncache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcprelay/mcprelay/internal/sqlitebase"
)

// ErrNotFound is returned by Get when the session has never been stored or
// has expired.
var ErrNotFound = errors.New("sessioncache: session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	payload    TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	last_used  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_used ON sessions(last_used);
`

// Cache is a TTL-bounded, sqlite-backed session store.
type Cache struct {
	db  *sqlitebase.DB
	ttl time.Duration

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Open opens (or creates) the session cache database at path. ttl <= 0
// disables expiry; sessions then live until explicitly deleted.
func Open(path string, ttl time.Duration) (*Cache, error) {
	db, err := sqlitebase.Open(sqlitebase.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background(), schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db, ttl: ttl, locks: make(map[string]*sessionLock)}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Lock serializes all reads/writes to one session id for the duration the
// returned unlock func is held, matching the teacher's refcounted
// per-session mutex idiom so concurrent turns of the same session block
// rather than interleave.
func (c *Cache) Lock(sessionID string) func() {
	if sessionID == "" {
		return func() {}
	}

	c.locksMu.Lock()
	lock := c.locks[sessionID]
	if lock == nil {
		lock = &sessionLock{}
		c.locks[sessionID] = lock
	}
	lock.refs++
	c.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(c.locks, sessionID)
		}
		c.locksMu.Unlock()
	}
}

// Get loads a session's metadata and raw JSON payload. Callers unmarshal
// the payload into the shape matching sess.Provider (ResponsesPayload,
// GeminiPayload, or GrokPayload). Returns ErrNotFound if the session is
// absent or has expired under the configured TTL.
func (c *Cache) Get(ctx context.Context, sessionID string) (*Session, json.RawMessage, error) {
	var (
		provider  string
		payload   string
		startedAt time.Time
		lastUsed  time.Time
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT provider, payload, started_at, last_used FROM sessions WHERE id = ?`, sessionID,
	).Scan(&provider, &payload, &startedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sessioncache: get %s: %w", sessionID, err)
	}

	if c.ttl > 0 && time.Since(lastUsed) > c.ttl {
		_ = c.Delete(ctx, sessionID)
		return nil, nil, ErrNotFound
	}

	sess := &Session{
		ID:        sessionID,
		Provider:  Provider(provider),
		StartedAt: startedAt,
		LastUsed:  lastUsed,
	}
	return sess, json.RawMessage(payload), nil
}

// Put stores or replaces a session's payload and bumps LastUsed to now.
// payload is marshaled to JSON; pass a *ResponsesPayload, *GeminiPayload,
// or *GrokPayload matching sess.Provider.
func (c *Cache) Put(ctx context.Context, sess *Session, payload any) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("sessioncache: put: session id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sessioncache: marshal payload: %w", err)
	}

	now := time.Now()
	started := sess.StartedAt
	if started.IsZero() {
		started = now
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO sessions (id, provider, payload, started_at, last_used)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			payload = excluded.payload,
			last_used = excluded.last_used
	`, sess.ID, string(sess.Provider), string(data), started, now)
	if err != nil {
		return fmt.Errorf("sessioncache: put %s: %w", sess.ID, err)
	}

	sess.StartedAt = started
	sess.LastUsed = now

	return c.db.MaybePurge(ctx, c.purgeExpired)
}

// Delete removes a session immediately, e.g. after a compaction hands it
// off to a different provider under a new id.
func (c *Cache) Delete(ctx context.Context, sessionID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

func (c *Cache) purgeExpired(ctx context.Context) error {
	if c.ttl <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-c.ttl)
	_, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_used < ?`, cutoff)
	return err
}
