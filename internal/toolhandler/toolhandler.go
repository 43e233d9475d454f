// Package toolhandler declares the built-in tools every dispatched turn
// carries (project memory search, session attachment search) and executes
// them by name when a provider calls one back. Declarations are expressed
// as provider-neutral dispatch.ToolSpec values; each adapter already knows
// how to translate that into its own function/tool-declaration shape.
package toolhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mcprelay/mcprelay/internal/contextpack"
	"github.com/mcprelay/mcprelay/internal/dispatch"
	"github.com/mcprelay/mcprelay/internal/scope"
	"github.com/mcprelay/mcprelay/pkg/models"
)

// dedupTTL is how long an identical search query is considered already
// answered for a session before it's worth re-issuing against the provider.
const dedupTTL = 5 * time.Minute

// msearchFanOut bounds the number of concurrent (query, vector store) pairs
// a single file_search_msearch call issues, per spec.md §4.6's "File-search
// fan-out (Gemini)" contract.
const msearchFanOut = 20

// msearchMaxResults is how many results file_search_msearch returns across
// all queries combined, after sorting by score and deduplicating by content
// hash, per spec.md §4.6.
const msearchMaxResults = 40

// defaultFileSearchTimeout bounds one file_search_msearch call's total wall
// clock when Handler.FileSearchTimeout is left at zero.
const defaultFileSearchTimeout = 3 * time.Second

// SearchResult is one hit returned by a memory or attachment search.
type SearchResult struct {
	Source string  `json:"source"`
	Snippet string `json:"snippet"`
	Score  float64 `json:"score"`
}

// MemorySearcher searches a project's memory stores (prior conversation
// summaries, commit history) across one or more store types.
type MemorySearcher interface {
	Search(ctx context.Context, query string, maxResults int, storeTypes []string) ([]SearchResult, error)
}

// AttachmentSearcher searches a single request- or session-scoped vector
// store built from context-packer overflow files.
type AttachmentSearcher interface {
	Search(ctx context.Context, vectorStoreID, query string, maxResults int) ([]SearchResult, error)
}

const (
	toolSearchProjectMemory  = "search_project_memory"
	toolSearchProjectHistory = "search_project_history"
	toolSearchAttachments    = "search_session_attachments"
	toolFileSearchMsearch    = "file_search_msearch"
)

var defaultStoreTypes = []string{"conversation", "commit"}

// Handler declares and executes the built-in tools available to a
// dispatched turn. Memory is always present; Attachments/VectorStoreID are
// set only when a turn's context packing produced an overflow store, and
// the attachment-search declarations are omitted entirely otherwise.
type Handler struct {
	Memory        MemorySearcher
	Attachments   AttachmentSearcher
	VectorStoreID string
	SessionID     string

	// Dedup skips re-issuing a search the model already ran for this
	// session within dedupTTL, so a model that loses track of its own
	// tool history doesn't burn a provider vector-store call re-asking
	// the same question.
	Dedup *scope.Cache

	// FileSearchTimeout bounds one file_search_msearch call's total wall
	// clock; zero uses defaultFileSearchTimeout.
	FileSearchTimeout time.Duration
}

// New creates a Handler backed by the given memory searcher. Attachment
// search is wired in per turn via WithVectorStore, since whether a turn has
// an overflow store to search is decided by context packing, not fixed at
// construction time.
func New(memory MemorySearcher, attachments AttachmentSearcher) *Handler {
	return &Handler{
		Memory:      memory,
		Attachments: attachments,
		Dedup:       scope.New(scope.Options{TTL: dedupTTL, MaxSize: 4096}),
	}
}

// WithVectorStore returns a copy of h scoped to a specific turn's overflow
// vector store, so its declarations include the attachment-search tools.
func (h *Handler) WithVectorStore(id string) *Handler {
	next := *h
	next.VectorStoreID = id
	return &next
}

// WithSession returns a copy of h scoped to the given session, so search
// dedup keys don't collide across sessions sharing the same Handler.
func (h *Handler) WithSession(sessionID string) *Handler {
	next := *h
	next.SessionID = sessionID
	return &next
}

// Declarations returns the tool specs to offer the provider for this turn.
func (h *Handler) Declarations() []dispatch.ToolSpec {
	specs := []dispatch.ToolSpec{
		{
			Name:        toolSearchProjectMemory,
			Description: "Search this project's memory: summaries of prior conversations and commit history relevant to the current task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":       map[string]any{"type": "string", "description": "Search query"},
					"max_results": map[string]any{"type": "integer", "description": "Maximum results to return (default 40)"},
					"store_types": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Which memory store types to search (default conversation, commit)",
					},
				},
				"required": []any{"query"},
			},
		},
	}
	// search_project_history is the same tool under an older name some
	// prompts still reference; both names dispatch identically.
	historyDecl := specs[0]
	historyDecl.Name = toolSearchProjectHistory
	specs = append(specs, historyDecl)

	if h.VectorStoreID == "" || h.Attachments == nil {
		return specs
	}

	specs = append(specs,
		dispatch.ToolSpec{
			Name:        toolSearchAttachments,
			Description: "Search files attached to this session that were too large to inline into the prompt.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":       map[string]any{"type": "string", "description": "Search query"},
					"max_results": map[string]any{"type": "integer", "description": "Maximum results to return (default 20)"},
				},
				"required": []any{"query"},
			},
		},
		dispatch.ToolSpec{
			Name:        toolFileSearchMsearch,
			Description: "Batch search over session attachments; accepts up to 5 queries in one call.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"queries": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Up to 5 search queries",
					},
				},
				"required": []any{"queries"},
			},
		},
	)
	return specs
}

// Execute runs the named built-in tool. An unknown name is reported as a
// textual error result rather than a Go error, matching spec.md's contract
// that a bad tool name is the model's mistake, not an executor failure.
func (h *Handler) Execute(ctx context.Context, name string, args json.RawMessage) (*models.ToolResult, error) {
	switch name {
	case toolSearchProjectMemory, toolSearchProjectHistory:
		return h.execMemorySearch(ctx, args)
	case toolSearchAttachments:
		return h.execAttachmentSearch(ctx, args)
	case toolFileSearchMsearch:
		return h.execMsearch(ctx, args)
	default:
		return &models.ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func (h *Handler) execMemorySearch(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Query      string   `json:"query"`
		MaxResults int      `json:"max_results"`
		StoreTypes []string `json:"store_types"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return &models.ToolResult{Content: "query is required", IsError: true}, nil
	}
	if h.Memory == nil {
		return &models.ToolResult{Content: "project memory is not configured for this session", IsError: true}, nil
	}
	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = 40
	}
	storeTypes := input.StoreTypes
	if len(storeTypes) == 0 {
		storeTypes = defaultStoreTypes
	}

	if h.Dedup != nil && h.Dedup.Seen(scope.SearchKey(h.SessionID, toolSearchProjectMemory, input.Query)) {
		return dedupResult(input.Query)
	}

	results, err := h.Memory.Search(ctx, input.Query, maxResults, storeTypes)
	if err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("memory search failed: %v", err), IsError: true}, nil
	}
	return encodeResults(input.Query, results)
}

func (h *Handler) execAttachmentSearch(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return &models.ToolResult{Content: "query is required", IsError: true}, nil
	}
	if h.Attachments == nil || h.VectorStoreID == "" {
		return &models.ToolResult{Content: "no session attachments are available to search", IsError: true}, nil
	}
	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	if h.Dedup != nil && h.Dedup.Seen(scope.SearchKey(h.SessionID, toolSearchAttachments, input.Query)) {
		return dedupResult(input.Query)
	}

	results, err := h.Attachments.Search(ctx, h.VectorStoreID, input.Query, maxResults)
	if err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("attachment search failed: %v", err), IsError: true}, nil
	}
	return encodeResults(input.Query, results)
}

// execMsearch fans out a batch of up to 5 queries against the attachment
// store concurrently, bounded by msearchFanOut and a wall-clock deadline,
// then sorts the combined hits by score, deduplicates them by content hash,
// and truncates to msearchMaxResults, per spec.md §4.6's Gemini file-search
// fan-out contract.
func (h *Handler) execMsearch(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if len(input.Queries) == 0 {
		return &models.ToolResult{Content: "at least one query is required", IsError: true}, nil
	}
	if len(input.Queries) > 5 {
		input.Queries = input.Queries[:5]
	}
	if h.Attachments == nil || h.VectorStoreID == "" {
		return &models.ToolResult{Content: "no session attachments are available to search", IsError: true}, nil
	}

	timeout := h.FileSearchTimeout
	if timeout <= 0 {
		timeout = defaultFileSearchTimeout
	}
	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type hit struct {
		result SearchResult
	}
	hits := make([]hit, 0, len(input.Queries)*20)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(msearchFanOut)

	for _, q := range input.Queries {
		if h.Dedup != nil && h.Dedup.Seen(scope.SearchKey(h.SessionID, toolFileSearchMsearch, q)) {
			continue
		}
		if err := sem.Acquire(searchCtx, 1); err != nil {
			break // wall-clock deadline hit; return whatever already came back
		}
		wg.Add(1)
		go func(query string) {
			defer wg.Done()
			defer sem.Release(1)
			results, err := h.Attachments.Search(searchCtx, h.VectorStoreID, query, 20)
			if err != nil {
				return // one failed query shouldn't fail the whole batch
			}
			mu.Lock()
			for _, r := range results {
				hits = append(hits, hit{result: r})
			}
			mu.Unlock()
		}(q)
	}
	wg.Wait()

	sort.Slice(hits, func(i, j int) bool { return hits[i].result.Score > hits[j].result.Score })

	type resultItem struct {
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata"`
		Citation string         `json:"citation"`
	}
	out := make([]resultItem, 0, msearchMaxResults)
	seen := make(map[string]bool)
	for _, ht := range hits {
		if len(out) >= msearchMaxResults {
			break
		}
		contentHash := contextpack.ContentHash(ht.result.Snippet)
		if seen[contentHash] {
			continue
		}
		seen[contentHash] = true
		out = append(out, resultItem{
			Text:     ht.result.Snippet,
			Metadata: map[string]any{"file_name": ht.result.Source, "score": ht.result.Score},
			Citation: fmt.Sprintf("<source>%s</source>", ht.result.Source),
		})
	}

	payload, err := json.Marshal(struct {
		Results []resultItem `json:"results"`
	}{Results: out})
	if err != nil {
		return nil, fmt.Errorf("toolhandler: encode msearch results: %w", err)
	}
	return &models.ToolResult{Content: string(payload)}, nil
}

// dedupResult tells the model a query was already searched this session
// rather than re-issuing it against the provider.
func dedupResult(query string) (*models.ToolResult, error) {
	return &models.ToolResult{
		Content: fmt.Sprintf("query %q was already searched earlier in this session; reuse those results instead of searching again", query),
	}, nil
}

func encodeResults(query string, results []SearchResult) (*models.ToolResult, error) {
	payload, err := json.Marshal(struct {
		Query   string         `json:"query"`
		Results []SearchResult `json:"results"`
	}{Query: query, Results: results})
	if err != nil {
		return nil, fmt.Errorf("toolhandler: encode results: %w", err)
	}
	return &models.ToolResult{Content: string(payload)}, nil
}
