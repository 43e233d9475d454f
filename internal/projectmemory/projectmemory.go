// Package projectmemory tracks the project-wide memory stores built from
// prior conversations and commits: one or more named stores per project
// (e.g. "commits", "conversation_summaries"), each backed by a provider
// vector store (see internal/vectorstore) and rolled over to a fresh
// store once its document count passes a configured ceiling so no single
// provider-side store grows unbounded.
package projectmemory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mcprelay/mcprelay/internal/sqlitebase"
)

// ErrNoActiveStore is returned when a project/type pair has no active
// store and the caller did not ask EnsureStore to create one.
var ErrNoActiveStore = errors.New("projectmemory: no active store")

// StoreRow is a row in the project memory store ledger.
type StoreRow struct {
	StoreID   string
	ProjectID string
	StoreType string
	DocCount  int
	CreatedAt time.Time
	IsActive  bool

	// Name is the human-readable store name following spec.md §3's
	// "project-conversations-NNN" / "project-commits-NNN" convention.
	Name string

	// VectorStoreID is the id vectorstore.Manager assigned this row's
	// provider-side store, set by the caller after creating it.
	VectorStoreID string
}

const schema = `
CREATE TABLE IF NOT EXISTS memory_stores (
	store_id        TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	store_type      TEXT NOT NULL,
	doc_count       INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	is_active       INTEGER NOT NULL DEFAULT 1,
	vector_store_id TEXT NOT NULL DEFAULT '',
	name            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_memory_stores_project_type ON memory_stores(project_id, store_type);
`

// storeTypePlural maps the store_type column's singular value to the
// plural noun spec.md §3's naming convention uses
// ("project-conversations-NNN", "project-commits-NNN").
var storeTypePlural = map[string]string{
	"conversation": "conversations",
	"commit":       "commits",
}

// NextName returns the name the next store created for project/storeType
// should use, following spec.md §3's "project-{type}s-{N:03d}" convention
// (N counts every store ever created for this project/type, active or
// retired, so names never repeat across a rollover history).
func (l *Ledger) NextName(ctx context.Context, projectID, storeType string) (string, error) {
	existing, err := l.AllForProject(ctx, projectID, storeType)
	if err != nil {
		return "", fmt.Errorf("projectmemory: next name: %w", err)
	}
	plural := storeTypePlural[storeType]
	if plural == "" {
		plural = storeType + "s"
	}
	return fmt.Sprintf("project-%s-%03d", plural, len(existing)+1), nil
}

// Ledger persists the set of memory stores known for each project.
type Ledger struct {
	db *sqlitebase.DB
}

// Open opens (or creates) the project-memory ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sqlitebase.Open(sqlitebase.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background(), schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// Active returns the current active store row for a project/type, or
// ErrNoActiveStore if none exists yet.
func (l *Ledger) Active(ctx context.Context, projectID, storeType string) (*StoreRow, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT store_id, project_id, store_type, doc_count, created_at, is_active, vector_store_id, name
		FROM memory_stores WHERE project_id = ? AND store_type = ? AND is_active = 1
	`, projectID, storeType)

	var r StoreRow
	var active int
	err := row.Scan(&r.StoreID, &r.ProjectID, &r.StoreType, &r.DocCount, &r.CreatedAt, &active, &r.VectorStoreID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveStore
	}
	if err != nil {
		return nil, fmt.Errorf("projectmemory: active: %w", err)
	}
	r.IsActive = active != 0
	return &r, nil
}

// Create inserts a new active store row named per spec.md §3's
// "project-{type}s-{N:03d}" convention (see NextName). storeID should be
// a freshly minted id (the caller mints it, typically with google/uuid,
// so this package stays storage-only and doesn't need to agree with
// callers on an id scheme).
func (l *Ledger) Create(ctx context.Context, storeID, projectID, storeType, vectorStoreID string) (*StoreRow, error) {
	name, err := l.NextName(ctx, projectID, storeType)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO memory_stores (store_id, project_id, store_type, doc_count, created_at, is_active, vector_store_id, name)
		VALUES (?, ?, ?, 0, ?, 1, ?, ?)
	`, storeID, projectID, storeType, now, vectorStoreID, name)
	if err != nil {
		return nil, fmt.Errorf("projectmemory: create: %w", err)
	}
	return &StoreRow{
		StoreID: storeID, ProjectID: projectID, StoreType: storeType,
		CreatedAt: now, IsActive: true, VectorStoreID: vectorStoreID, Name: name,
	}, nil
}

// RecordDocs increments a store's document count after n documents have
// been added to its backing vector store.
func (l *Ledger) RecordDocs(ctx context.Context, storeID string, n int) error {
	_, err := l.db.ExecContext(ctx, `UPDATE memory_stores SET doc_count = doc_count + ? WHERE store_id = ?`, n, storeID)
	if err != nil {
		return fmt.Errorf("projectmemory: record docs: %w", err)
	}
	return nil
}

// NeedsRollover reports whether a store's doc count has reached maxDocs.
// maxDocs <= 0 disables rollover.
func (r *StoreRow) NeedsRollover(maxDocs int) bool {
	return maxDocs > 0 && r.DocCount >= maxDocs
}

// Retire marks a store inactive (it stays searchable but stops receiving
// new documents) as part of a rollover to a freshly created store.
func (l *Ledger) Retire(ctx context.Context, storeID string) error {
	_, err := l.db.ExecContext(ctx, `UPDATE memory_stores SET is_active = 0 WHERE store_id = ?`, storeID)
	if err != nil {
		return fmt.Errorf("projectmemory: retire: %w", err)
	}
	return nil
}

// AllForProject returns every store (active and retired) for a project
// and type, most recently created first, so search can fan out across a
// project's whole memory history rather than just its active store.
func (l *Ledger) AllForProject(ctx context.Context, projectID, storeType string) ([]StoreRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT store_id, project_id, store_type, doc_count, created_at, is_active, vector_store_id, name
		FROM memory_stores WHERE project_id = ? AND store_type = ? ORDER BY created_at DESC
	`, projectID, storeType)
	if err != nil {
		return nil, fmt.Errorf("projectmemory: list: %w", err)
	}
	defer rows.Close()

	var out []StoreRow
	for rows.Next() {
		var r StoreRow
		var active int
		if err := rows.Scan(&r.StoreID, &r.ProjectID, &r.StoreType, &r.DocCount, &r.CreatedAt, &active, &r.VectorStoreID, &r.Name); err != nil {
			return nil, fmt.Errorf("projectmemory: scan: %w", err)
		}
		r.IsActive = active != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
