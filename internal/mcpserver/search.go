package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mcprelay/mcprelay/internal/contextpack"
	"github.com/mcprelay/mcprelay/internal/projectmemory"
	"github.com/mcprelay/mcprelay/internal/toolhandler"
	"github.com/mcprelay/mcprelay/internal/vectorstore"
	"golang.org/x/sync/semaphore"
)

// projectMemorySearcher implements toolhandler.MemorySearcher by fanning a
// query out across every store of each requested type that a project has
// accumulated (active and retired alike, since a retired store is still
// searchable, just no longer written to), bounded to SearchConcurrency
// concurrent (store, query) pairs per spec.md §4.5.
type projectMemorySearcher struct {
	Ledger    *projectmemory.Ledger
	Stores    *vectorstore.Manager
	Searcher  vectorstore.Searcher
	ProjectID string
	FanOut    int64

	// Timeout bounds the whole fan-out's wall clock, per spec.md §4.5's
	// per-batch timeout (config.MemoryConfig.SearchTimeout); zero means no
	// deadline beyond the caller's own context.
	Timeout time.Duration
}

func (s *projectMemorySearcher) Search(ctx context.Context, query string, maxResults int, storeTypes []string) ([]toolhandler.SearchResult, error) {
	if s.Searcher == nil {
		return nil, fmt.Errorf("mcpserver: no vector-store searcher configured")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var rows []projectmemory.StoreRow
	for _, t := range storeTypes {
		all, err := s.Ledger.AllForProject(ctx, s.ProjectID, t)
		if err != nil {
			return nil, fmt.Errorf("mcpserver: list memory stores for %s: %w", t, err)
		}
		rows = append(rows, all...)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	fanOut := s.FanOut
	if fanOut <= 0 {
		fanOut = 5
	}
	sem := semaphore.NewWeighted(fanOut)

	results := make([][]vectorstore.SearchHit, len(rows))
	errs := make([]error, len(rows))

	done := make(chan int, len(rows))
	for i, row := range rows {
		i, row := i, row
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("mcpserver: acquire search slot: %w", err)
		}
		go func() {
			defer sem.Release(1)
			defer func() { done <- i }()
			if row.VectorStoreID == "" {
				return
			}
			hits, err := s.Searcher.Search(ctx, row.VectorStoreID, query, maxResults)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = hits
		}()
	}
	for range rows {
		<-done
	}

	var out []toolhandler.SearchResult
	seen := make(map[string]bool)
	for i := range rows {
		if errs[i] != nil {
			continue // one bad store shouldn't fail the whole search
		}
		for _, h := range results[i] {
			hash := contextpack.ContentHash(h.Snippet)
			if seen[hash] {
				continue
			}
			seen[hash] = true
			out = append(out, toolhandler.SearchResult{Source: h.Path, Snippet: h.Snippet, Score: h.Score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// attachmentSearcher implements toolhandler.AttachmentSearcher against a
// single request- or session-scoped overflow store.
type attachmentSearcher struct {
	Searcher vectorstore.Searcher
}

func (s *attachmentSearcher) Search(ctx context.Context, vectorStoreID, query string, maxResults int) ([]toolhandler.SearchResult, error) {
	if s.Searcher == nil {
		return nil, fmt.Errorf("mcpserver: no vector-store searcher configured")
	}
	hits, err := s.Searcher.Search(ctx, vectorStoreID, query, maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]toolhandler.SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, toolhandler.SearchResult{Source: h.Path, Snippet: h.Snippet, Score: h.Score})
	}
	return out, nil
}
