package toolhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMemory struct {
	results  []SearchResult
	err      error
	gotTypes []string
}

func (f *fakeMemory) Search(ctx context.Context, query string, maxResults int, storeTypes []string) ([]SearchResult, error) {
	f.gotTypes = storeTypes
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeAttachments struct {
	results map[string][]SearchResult
	err     error
}

func (f *fakeAttachments) Search(ctx context.Context, vectorStoreID, query string, maxResults int) ([]SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func TestDeclarations_OmitsAttachmentToolsWithoutVectorStore(t *testing.T) {
	h := New(&fakeMemory{}, &fakeAttachments{})
	specs := h.Declarations()
	names := make(map[string]bool)
	for _, s := range specs {
		names[s.Name] = true
	}
	require.True(t, names[toolSearchProjectMemory])
	require.True(t, names[toolSearchProjectHistory])
	require.False(t, names[toolSearchAttachments])
	require.False(t, names[toolFileSearchMsearch])
}

func TestDeclarations_IncludesAttachmentToolsWithVectorStore(t *testing.T) {
	h := New(&fakeMemory{}, &fakeAttachments{}).WithVectorStore("vs_1")
	specs := h.Declarations()
	names := make(map[string]bool)
	for _, s := range specs {
		names[s.Name] = true
	}
	require.True(t, names[toolSearchAttachments])
	require.True(t, names[toolFileSearchMsearch])
}

func TestExecute_UnknownToolReturnsErrorResult(t *testing.T) {
	h := New(&fakeMemory{}, nil)
	res, err := h.Execute(context.Background(), "does_not_exist", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "unknown tool")
}

func TestExecute_MemorySearchDefaultsStoreTypes(t *testing.T) {
	mem := &fakeMemory{results: []SearchResult{{Source: "a", Snippet: "b", Score: 1}}}
	h := New(mem, nil)
	args, _ := json.Marshal(map[string]any{"query": "auth bug"})
	res, err := h.Execute(context.Background(), "search_project_memory", args)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, []string{"conversation", "commit"}, mem.gotTypes)
	require.Contains(t, res.Content, "auth bug")
}

func TestExecute_MemorySearchPropagatesError(t *testing.T) {
	mem := &fakeMemory{err: errors.New("store unavailable")}
	h := New(mem, nil)
	args, _ := json.Marshal(map[string]any{"query": "x"})
	res, err := h.Execute(context.Background(), "search_project_history", args)
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "store unavailable")
}

func TestExecute_AttachmentSearchRequiresVectorStore(t *testing.T) {
	h := New(&fakeMemory{}, &fakeAttachments{})
	args, _ := json.Marshal(map[string]any{"query": "x"})
	res, err := h.Execute(context.Background(), "search_session_attachments", args)
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestExecute_Msearch_CapsAtFiveQueriesAndFansOut(t *testing.T) {
	att := &fakeAttachments{results: map[string][]SearchResult{
		"q1": {{Source: "f1", Snippet: "hit1"}},
		"q2": {{Source: "f2", Snippet: "hit2"}},
	}}
	h := New(&fakeMemory{}, att).WithVectorStore("vs_1")
	args, _ := json.Marshal(map[string]any{"queries": []string{"q1", "q2"}})
	res, err := h.Execute(context.Background(), "file_search_msearch", args)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Contains(t, res.Content, "hit1")
	require.Contains(t, res.Content, "hit2")
}

func TestExecute_Msearch_SortsByScoreAndDedupesByContent(t *testing.T) {
	att := &fakeAttachments{results: map[string][]SearchResult{
		"q1": {{Source: "f1", Snippet: "duplicate text", Score: 0.2}},
		"q2": {{Source: "f2", Snippet: "duplicate text", Score: 0.9}},
	}}
	h := New(&fakeMemory{}, att).WithVectorStore("vs_1")
	args, _ := json.Marshal(map[string]any{"queries": []string{"q1", "q2"}})
	res, err := h.Execute(context.Background(), "file_search_msearch", args)
	require.NoError(t, err)
	require.False(t, res.IsError)

	var decoded struct {
		Results []struct {
			Text     string         `json:"text"`
			Metadata map[string]any `json:"metadata"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Content), &decoded))
	require.Len(t, decoded.Results, 1, "identical snippet text from two queries should dedupe to one result")
	require.Equal(t, float64(0.9), decoded.Results[0].Metadata["score"], "the higher-scored duplicate should win after sorting")
}

func TestExecute_MemorySearchDedupsRepeatedQueryWithinSession(t *testing.T) {
	mem := &fakeMemory{results: []SearchResult{{Source: "a", Snippet: "b", Score: 1}}}
	h := New(mem, nil).WithSession("sess-1")
	args, _ := json.Marshal(map[string]any{"query": "auth bug"})

	first, err := h.Execute(context.Background(), "search_project_memory", args)
	require.NoError(t, err)
	require.False(t, first.IsError)
	require.Contains(t, first.Content, "auth bug")

	mem.err = errors.New("should not be called again")
	second, err := h.Execute(context.Background(), "search_project_memory", args)
	require.NoError(t, err)
	require.False(t, second.IsError)
	require.Contains(t, second.Content, "already searched")
}

func TestExecute_MemorySearchDoesNotDedupAcrossSessions(t *testing.T) {
	mem := &fakeMemory{results: []SearchResult{{Source: "a", Snippet: "b", Score: 1}}}
	h := New(mem, nil)
	args, _ := json.Marshal(map[string]any{"query": "auth bug"})

	_, err := h.WithSession("sess-a").Execute(context.Background(), "search_project_memory", args)
	require.NoError(t, err)

	res, err := h.WithSession("sess-b").Execute(context.Background(), "search_project_memory", args)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Contains(t, res.Content, "auth bug")
	require.NotContains(t, res.Content, "already searched")
}
