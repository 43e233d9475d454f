package vectorstore

import "context"

// SearchHit is one match from a Searcher's full-text pass over an
// uploaded store's content.
type SearchHit struct {
	Path    string
	Snippet string
	Score   float64
}

// Searcher is an optional capability an Uploader may implement when it can
// also search what it has stored, so internal/toolhandler's built-in
// search tools have something to call against a vector store's files
// without this package needing to know any provider's query API.
type Searcher interface {
	Search(ctx context.Context, storeID, query string, maxResults int) ([]SearchHit, error)
}
