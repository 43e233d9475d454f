package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu      sync.Mutex
	nextID  int
	created int
	removed []string
}

func (f *fakeUploader) CreateStore(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created++
	return fmt.Sprintf("store-%d", f.nextID), nil
}

func (f *fakeUploader) DeleteStore(ctx context.Context, storeID string) error { return nil }

func (f *fakeUploader) UploadFile(ctx context.Context, storeID, path string, content []byte) (string, error) {
	return "file:" + path, nil
}

func (f *fakeUploader) RemoveFile(ctx context.Context, storeID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, fileID)
	return nil
}

func TestSyncFiles_UploadsOnlyNewFiles(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	mgr := NewManager(up)

	s, err := mgr.Create(ctx, Owner{Kind: OwnerSession, SessionID: "s1"})
	require.NoError(t, err)

	read := func(path string) ([]byte, error) { return []byte("content:" + path), nil }

	require.NoError(t, mgr.SyncFiles(ctx, s.ID, []FileFingerprint{{Path: "a.go"}, {Path: "b.go"}}, read))
	require.Len(t, s.Files, 2)

	// Second sync with the same set should not re-upload (no-op since already present).
	require.NoError(t, mgr.SyncFiles(ctx, s.ID, []FileFingerprint{{Path: "a.go"}, {Path: "b.go"}}, read))
	require.Len(t, s.Files, 2)
}

func TestSyncFiles_RemovesStaleFiles(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	mgr := NewManager(up)

	s, err := mgr.Create(ctx, Owner{Kind: OwnerSession, SessionID: "s1"})
	require.NoError(t, err)

	read := func(path string) ([]byte, error) { return []byte("x"), nil }
	require.NoError(t, mgr.SyncFiles(ctx, s.ID, []FileFingerprint{{Path: "a.go"}, {Path: "b.go"}}, read))
	require.NoError(t, mgr.SyncFiles(ctx, s.ID, []FileFingerprint{{Path: "a.go"}}, read))

	require.Len(t, s.Files, 1)
	require.Contains(t, up.removed, "file:b.go")
}

func TestAllForSession_EmptyByDefault(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(&fakeUploader{})

	_, err := mgr.Create(ctx, Owner{Kind: OwnerSession, SessionID: "s1"})
	require.NoError(t, err)

	require.Empty(t, mgr.AllForSession("s1"))
}

func TestAllForSession_ReportsWhenFlagEnabled(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(&fakeUploader{})
	mgr.ReportSessionStores = true

	s1, err := mgr.Create(ctx, Owner{Kind: OwnerSession, SessionID: "s1"})
	require.NoError(t, err)
	_, err = mgr.Create(ctx, Owner{Kind: OwnerSession, SessionID: "s2"})
	require.NoError(t, err)

	got := mgr.AllForSession("s1")
	require.Len(t, got, 1)
	require.Equal(t, s1.ID, got[0].ID)
}

func TestRollover_CreatesNewStoreOnceOverCeiling(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	mgr := NewManager(up)
	mgr.MaxProjectDocs = 1

	s, err := mgr.Create(ctx, Owner{Kind: OwnerProject, ProjectID: "p1"})
	require.NoError(t, err)
	s.Files["a.go"] = "file:a.go"

	next, err := mgr.Rollover(ctx, s)
	require.NoError(t, err)
	require.NotEqual(t, s.ID, next.ID)
}

type fakeDelegate struct {
	mu        sync.Mutex
	enabled   bool
	storeID   string
	tracked   []string
	acquired  int
	registers int
}

func (f *fakeDelegate) Enabled() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.enabled }

func (f *fakeDelegate) AcquireForVectorStore(ctx context.Context, sessionID string, protected bool) (string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	return f.storeID, f.tracked, nil
}

func (f *fakeDelegate) Register(ctx context.Context, sessionID, vectorStoreID string, protected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	return nil
}

func TestCreateForSession_UsesDelegateWhenEnabled(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	mgr := NewManager(up)
	delegate := &fakeDelegate{enabled: true, storeID: "delegate-store", tracked: []string{"a.go"}}
	mgr.Delegate = delegate

	s, tracked, err := mgr.CreateForSession(ctx, "s1", false)
	require.NoError(t, err)
	require.Equal(t, "delegate-store", s.ID)
	require.Contains(t, tracked, "a.go")
	require.Equal(t, 1, delegate.acquired)
	require.Equal(t, 0, up.created, "delegate path must not call the direct uploader")
}

func TestCreateForSession_FallsBackWhenDelegateDisabled(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	mgr := NewManager(up)
	delegate := &fakeDelegate{enabled: false}
	mgr.Delegate = delegate

	s, tracked, err := mgr.CreateForSession(ctx, "s1", false)
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	require.Nil(t, tracked)
	require.Equal(t, 0, delegate.acquired)
	require.Equal(t, 1, up.created)
}

func TestClose_DelegateManagedSessionStoreIsNoop(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	mgr := NewManager(up)
	delegate := &fakeDelegate{enabled: true, storeID: "delegate-store"}
	mgr.Delegate = delegate

	s, _, err := mgr.CreateForSession(ctx, "s1", false)
	require.NoError(t, err)

	require.NoError(t, mgr.Close(ctx, s.ID))
	_, stillTracked := mgr.Get(s.ID)
	require.False(t, stillTracked, "Close still removes the local bookkeeping entry")
}

func TestRollover_ProtectedStoreNeverRolls(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	mgr := NewManager(up)
	mgr.MaxProjectDocs = 1

	s, err := mgr.Create(ctx, Owner{Kind: OwnerProject, ProjectID: "p1", Protected: true})
	require.NoError(t, err)
	s.Files["a.go"] = "file:a.go"

	next, err := mgr.Rollover(ctx, s)
	require.NoError(t, err)
	require.Equal(t, s.ID, next.ID)
}
