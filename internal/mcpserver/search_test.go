package mcpserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcprelay/mcprelay/internal/projectmemory"
	"github.com/mcprelay/mcprelay/internal/vectorstore"
)

func newTestLedger(t *testing.T) *projectmemory.Ledger {
	t.Helper()
	ledger, err := projectmemory.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestProjectMemorySearcher_FansOutAcrossStores(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	uploader := vectorstore.NewMockUploader()

	storeA, err := uploader.CreateStore(ctx)
	require.NoError(t, err)
	storeB, err := uploader.CreateStore(ctx)
	require.NoError(t, err)

	_, err = uploader.UploadFile(ctx, storeA, "a.txt", []byte("the deploy pipeline broke on friday"))
	require.NoError(t, err)
	_, err = uploader.UploadFile(ctx, storeB, "b.txt", []byte("unrelated notes about lunch"))
	require.NoError(t, err)

	_, err = ledger.Create(ctx, "row-a", "proj1", "conversation", storeA)
	require.NoError(t, err)
	_, err = ledger.Create(ctx, "row-b", "proj1", "conversation", storeB)
	require.NoError(t, err)

	searcher := &projectMemorySearcher{
		Ledger:    ledger,
		Searcher:  uploader,
		ProjectID: "proj1",
		FanOut:    2,
	}

	results, err := searcher.Search(ctx, "deploy", 10, []string{"conversation"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a.txt", results[0].Source)
}

func TestProjectMemorySearcher_NoStoresReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	uploader := vectorstore.NewMockUploader()

	searcher := &projectMemorySearcher{Ledger: ledger, Searcher: uploader, ProjectID: "empty-project"}

	results, err := searcher.Search(ctx, "anything", 10, []string{"conversation"})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestProjectMemorySearcher_NilSearcherErrors(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	searcher := &projectMemorySearcher{Ledger: ledger, ProjectID: "proj1"}

	_, err := searcher.Search(ctx, "anything", 10, []string{"conversation"})
	require.Error(t, err)
}

func TestAttachmentSearcher_DelegatesToSearcher(t *testing.T) {
	ctx := context.Background()
	uploader := vectorstore.NewMockUploader()

	store, err := uploader.CreateStore(ctx)
	require.NoError(t, err)
	_, err = uploader.UploadFile(ctx, store, "notes.txt", []byte("rollback procedure documented here"))
	require.NoError(t, err)

	searcher := &attachmentSearcher{Searcher: uploader}

	results, err := searcher.Search(ctx, store, "rollback", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "notes.txt", results[0].Source)
	require.Contains(t, results[0].Snippet, "rollback")
}

func TestAttachmentSearcher_NilSearcherErrors(t *testing.T) {
	searcher := &attachmentSearcher{}

	_, err := searcher.Search(context.Background(), "store-1", "query", 5)
	require.Error(t, err)
}
