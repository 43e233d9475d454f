// Package vectorstore manages the lifecycle of provider-side vector
// stores used for context-packing overflow: when a tool call's candidate
// files don't fit in the model's inline budget, the excess is uploaded to
// a provider vector store instead, and the store id is passed to the
// adapter so the model can search over it. Stores are owned either by a
// single request (ephemeral, torn down after the call), a session
// (reused turn to turn, delta-uploaded), or a project (long-lived,
// rolled over once it grows past a size ceiling).
package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// OwnerKind identifies who a vector store belongs to and therefore how
// long it lives.
type OwnerKind string

const (
	OwnerRequest OwnerKind = "request"
	OwnerSession OwnerKind = "session"
	OwnerProject OwnerKind = "project"
)

// Owner identifies the entity a store is scoped to.
type Owner struct {
	Kind      OwnerKind
	SessionID string // set when Kind == OwnerSession
	ProjectID string // set when Kind == OwnerProject
	Protected bool   // project stores marked protected are never auto-rolled-over
}

// Status is the provider-reported readiness of a store.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Store tracks one provider-side vector store and the path -> provider
// file-id mapping of what has been uploaded to it so far, enabling
// incremental delta uploads on later turns.
type Store struct {
	ID     string
	Status Status
	Files  map[string]string // local path -> provider file id
	Owner  Owner
}

// FileFingerprint identifies a local file's content for delta-upload
// comparison without needing to re-read and re-hash unchanged files.
type FileFingerprint struct {
	Path    string
	Size    int64
	MtimeNS int64
}

// Uploader is the provider-specific surface a Manager drives. Each
// adapter package supplies its own implementation (OpenAI file-search
// stores, Gemini corpora, or similar); the manager itself is provider
// agnostic.
type Uploader interface {
	CreateStore(ctx context.Context) (storeID string, err error)
	DeleteStore(ctx context.Context, storeID string) error
	UploadFile(ctx context.Context, storeID, path string, content []byte) (fileID string, err error)
	RemoveFile(ctx context.Context, storeID, fileID string) error
}

// Delegate is the best-effort vector-store-lifecycle delegate named in
// spec.md §4.3 ("loiter killer"): an external service that can own a
// session-scoped store's lifetime instead of this process, renewing its
// lease while the session is active and GC'ing it on expiry. Enabled must
// report false once the delegate has observed any failure — per §4.3 it
// "silently degrades to direct provider calls on any failure" and stays
// degraded "until next process restart" rather than retrying every call.
type Delegate interface {
	Enabled() bool
	AcquireForVectorStore(ctx context.Context, sessionID string, protected bool) (storeID string, trackedFiles []string, err error)
	Register(ctx context.Context, sessionID, vectorStoreID string, protected bool) error
}

// Manager owns the in-process bookkeeping for all vector stores currently
// in flight, keyed by store id.
type Manager struct {
	mu       sync.Mutex
	stores   map[string]*Store
	uploader Uploader
	sem      *semaphore.Weighted

	// MaxProjectDocs triggers a rollover (new store, old one retired) once
	// a project-owned store's file count would exceed it. Zero disables
	// rollover.
	MaxProjectDocs int

	// Delegate, when set and Enabled, hands session-store lifecycle to
	// the loiter-killer service per spec.md §4.3. Nil means every store
	// is managed directly by this Manager, which is always correct for
	// request- and project-owned stores.
	Delegate Delegate

	// ReportSessionStores is the feature flag spec.md §9's Open Question
	// calls for around get_all_for_session: whether AllForSession reports
	// locally-tracked session stores or always returns empty. Defaults to
	// false, matching the source's stubbed-empty behavior.
	ReportSessionStores bool
}

// defaultFanOut bounds concurrent file uploads per SPEC_FULL.md §5's
// Gemini file-search fan-out cap.
const defaultFanOut = 20

// NewManager creates a vector-store manager backed by uploader.
func NewManager(uploader Uploader) *Manager {
	return &Manager{
		stores:   make(map[string]*Store),
		uploader: uploader,
		sem:      semaphore.NewWeighted(defaultFanOut),
	}
}

// Create opens a new provider-side store for owner and tracks it.
func (m *Manager) Create(ctx context.Context, owner Owner) (*Store, error) {
	id, err := m.uploader.CreateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create: %w", err)
	}
	s := &Store{ID: id, Status: StatusPending, Files: make(map[string]string), Owner: owner}

	m.mu.Lock()
	m.stores[id] = s
	m.mu.Unlock()

	return s, nil
}

// CreateForSession opens or reuses a store owned by sessionID. When a
// Delegate is configured and currently enabled, lifecycle ownership is
// handed to it: the delegate's acquire endpoint returns the store id
// (freshly minted or already tracked) plus the paths it already knows
// about, so the caller can skip re-uploading them. Any delegate failure
// falls through to a direct provider-backed Create, matching spec.md
// §4.3's "in all other cases creates a fresh provider store" contract.
func (m *Manager) CreateForSession(ctx context.Context, sessionID string, protected bool) (store *Store, alreadyTracked map[string]struct{}, err error) {
	if m.Delegate != nil && m.Delegate.Enabled() {
		id, tracked, derr := m.Delegate.AcquireForVectorStore(ctx, sessionID, protected)
		if derr == nil {
			owner := Owner{Kind: OwnerSession, SessionID: sessionID, Protected: protected}

			m.mu.Lock()
			s, ok := m.stores[id]
			if !ok {
				s = &Store{ID: id, Status: StatusReady, Files: make(map[string]string), Owner: owner}
				m.stores[id] = s
			}
			trackedSet := make(map[string]struct{}, len(tracked))
			for _, path := range tracked {
				trackedSet[path] = struct{}{}
				if _, have := s.Files[path]; !have {
					// The delegate doesn't hand back provider file ids,
					// only the paths it has already uploaded; record a
					// placeholder so SyncFiles treats the path as present.
					s.Files[path] = path
				}
			}
			m.mu.Unlock()

			return s, trackedSet, nil
		}
	}

	s, err := m.Create(ctx, Owner{Kind: OwnerSession, SessionID: sessionID, Protected: protected})
	return s, nil, err
}

// Get returns a tracked store by id.
func (m *Manager) Get(id string) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	return s, ok
}

// AllForSession returns every store this Manager tracks as owned by
// sessionID, for attachment-search fan-out. Per spec.md §4.3/§9 this is
// deliberately a stub (always empty) when ReportSessionStores is false —
// the default, matching the source behavior §9 flags as possibly
// unintentional when a Delegate manages tracking. Set ReportSessionStores
// to true to opt into listing locally-tracked session stores regardless
// of delegate mode.
func (m *Manager) AllForSession(sessionID string) []*Store {
	if !m.ReportSessionStores {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Store
	for _, s := range m.stores {
		if s.Owner.Kind == OwnerSession && s.Owner.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out
}

// Close tears down a request- or session-scoped store. Project stores are
// never closed here; they are retired only via rollover.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.stores[id]
	if ok {
		delete(m.stores, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	// A delegate-managed session store's deletion is the loiter-killer's
	// job (lease expiry / explicit cleanup), per spec.md §4.3: "in mock or
	// loiter-killer-managed modes, no-op".
	if s.Owner.Kind == OwnerSession && m.Delegate != nil && m.Delegate.Enabled() {
		return nil
	}
	if err := m.uploader.DeleteStore(ctx, id); err != nil {
		return fmt.Errorf("vectorstore: close %s: %w", id, err)
	}
	return nil
}

// SyncFiles uploads any file in desired not already present (by path) in
// the store, and removes any file previously uploaded but no longer in
// desired, bounding concurrent uploads to defaultFanOut. read supplies the
// file content for a path only when it needs (re-)uploading.
func (m *Manager) SyncFiles(ctx context.Context, storeID string, desired []FileFingerprint, read func(path string) ([]byte, error)) error {
	m.mu.Lock()
	s, ok := m.stores[storeID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("vectorstore: sync: unknown store %s", storeID)
	}

	desiredPaths := make(map[string]struct{}, len(desired))
	var toUpload []FileFingerprint
	for _, f := range desired {
		desiredPaths[f.Path] = struct{}{}
		if _, already := s.Files[f.Path]; !already {
			toUpload = append(toUpload, f)
		}
	}

	var toRemove []string
	for path := range s.Files {
		if _, want := desiredPaths[path]; !want {
			toRemove = append(toRemove, path)
		}
	}

	if err := m.uploadAll(ctx, s, toUpload, read); err != nil {
		return err
	}
	for _, path := range toRemove {
		fileID := s.Files[path]
		if err := m.uploader.RemoveFile(ctx, storeID, fileID); err != nil {
			return fmt.Errorf("vectorstore: remove %s: %w", path, err)
		}
		m.mu.Lock()
		delete(s.Files, path)
		m.mu.Unlock()
	}

	return nil
}

func (m *Manager) uploadAll(ctx context.Context, s *Store, files []FileFingerprint, read func(path string) ([]byte, error)) error {
	if len(files) == 0 {
		return nil
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		firstErr error
	)

	for _, f := range files {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("vectorstore: acquire upload slot: %w", err)
		}
		wg.Add(1)
		go func(f FileFingerprint) {
			defer wg.Done()
			defer m.sem.Release(1)

			content, err := read(f.Path)
			if err != nil {
				errOnce.Do(func() { firstErr = fmt.Errorf("vectorstore: read %s: %w", f.Path, err) })
				return
			}
			fileID, err := m.uploader.UploadFile(ctx, s.ID, f.Path, content)
			if err != nil {
				errOnce.Do(func() { firstErr = fmt.Errorf("vectorstore: upload %s: %w", f.Path, err) })
				return
			}
			m.mu.Lock()
			s.Files[f.Path] = fileID
			m.mu.Unlock()
		}(f)
	}
	wg.Wait()

	return firstErr
}

// Rollover retires a project store once its file count reaches
// MaxProjectDocs, creating and returning a fresh store for the same
// project so future writes land in a bounded-size store. Protected
// project stores are never rolled over. Returns the existing store
// unchanged if rollover is not yet needed.
func (m *Manager) Rollover(ctx context.Context, s *Store) (*Store, error) {
	if s.Owner.Kind != OwnerProject || s.Owner.Protected {
		return s, nil
	}
	if m.MaxProjectDocs <= 0 {
		return s, nil
	}

	m.mu.Lock()
	count := len(s.Files)
	m.mu.Unlock()
	if count < m.MaxProjectDocs {
		return s, nil
	}

	next, err := m.Create(ctx, s.Owner)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: rollover: %w", err)
	}
	return next, nil
}
