package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockUploader is an in-process Uploader that mints synthetic store and
// file ids instead of calling a provider, per spec.md §4.3's "In mock
// mode returns a synthetic id" contract and SPEC_FULL.md §9's note that
// the test suite depends on a mock-mode switch existing. Wiring a real
// provider-backed Uploader (OpenAI's vector-store API, a Gemini corpus)
// is a deliberately deferred follow-up: the pack's retrieved go.mod files
// attest openai-go as a dependency for the Responses API surface this
// repo's openai adapter already exercises, but not for that SDK's
// separate vector-store/file-search surface, so this repo does not guess
// at that surface's exact shape (see DESIGN.md).
type MockUploader struct {
	mu      sync.Mutex
	stores  map[string]map[string]string // storeID -> path -> fileID
	content map[string]map[string]string // storeID -> path -> text content
}

// NewMockUploader creates an Uploader that never leaves the process.
func NewMockUploader() *MockUploader {
	return &MockUploader{
		stores:  make(map[string]map[string]string),
		content: make(map[string]map[string]string),
	}
}

// CreateStore implements Uploader.
func (m *MockUploader) CreateStore(ctx context.Context) (string, error) {
	id := fmt.Sprintf("mock-vs-%s", uuid.NewString())
	m.mu.Lock()
	m.stores[id] = make(map[string]string)
	m.content[id] = make(map[string]string)
	m.mu.Unlock()
	return id, nil
}

// DeleteStore implements Uploader.
func (m *MockUploader) DeleteStore(ctx context.Context, storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, storeID)
	delete(m.content, storeID)
	return nil
}

// UploadFile implements Uploader.
func (m *MockUploader) UploadFile(ctx context.Context, storeID, path string, content []byte) (string, error) {
	id := fmt.Sprintf("mock-file-%s", uuid.NewString())
	m.mu.Lock()
	defer m.mu.Unlock()
	files, ok := m.stores[storeID]
	if !ok {
		return "", fmt.Errorf("vectorstore: mock store %s not found", storeID)
	}
	files[path] = id
	m.content[storeID][path] = string(content)
	return id, nil
}

// RemoveFile implements Uploader.
func (m *MockUploader) RemoveFile(ctx context.Context, storeID, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	files, ok := m.stores[storeID]
	if !ok {
		return nil
	}
	for path, id := range files {
		if id == fileID {
			delete(files, path)
			delete(m.content[storeID], path)
		}
	}
	return nil
}

// Search implements Searcher with a trivial case-insensitive substring
// match over each file's stored content, scored by occurrence count. It
// exists so the built-in search_project_memory/search_session_attachments
// tools have something real to call in mock mode rather than a stub that
// always returns no results.
func (m *MockUploader) Search(ctx context.Context, storeID, query string, maxResults int) ([]SearchHit, error) {
	m.mu.Lock()
	files := make(map[string]string, len(m.content[storeID]))
	for path, text := range m.content[storeID] {
		files[path] = text
	}
	m.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	var hits []SearchHit
	for path, text := range files {
		lower := strings.ToLower(text)
		count := strings.Count(lower, q)
		if count == 0 {
			continue
		}
		hits = append(hits, SearchHit{
			Path:    path,
			Snippet: snippetAround(text, lower, q),
			Score:   float64(count),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

func snippetAround(text, lowerText, lowerQuery string) string {
	const radius = 80
	idx := strings.Index(lowerText, lowerQuery)
	if idx < 0 {
		return ""
	}
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + len(lowerQuery) + radius
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
