package projectmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndActive_RoundTrips(t *testing.T) {
	ctx := context.Background()
	ledger, err := Open(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	_, err = ledger.Active(ctx, "proj-1", "commits")
	require.ErrorIs(t, err, ErrNoActiveStore)

	row, err := ledger.Create(ctx, "store-1", "proj-1", "commits", "vs-1")
	require.NoError(t, err)
	require.True(t, row.IsActive)

	got, err := ledger.Active(ctx, "proj-1", "commits")
	require.NoError(t, err)
	require.Equal(t, "store-1", got.StoreID)
}

func TestRollover_RetiresOldStoreAndTracksNew(t *testing.T) {
	ctx := context.Background()
	ledger, err := Open(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	old, err := ledger.Create(ctx, "store-1", "proj-1", "commits", "vs-1")
	require.NoError(t, err)
	require.NoError(t, ledger.RecordDocs(ctx, old.StoreID, 100))

	old, err = ledger.Active(ctx, "proj-1", "commits")
	require.NoError(t, err)
	require.True(t, old.NeedsRollover(100))

	require.NoError(t, ledger.Retire(ctx, old.StoreID))
	_, err = ledger.Create(ctx, "store-2", "proj-1", "commits", "vs-2")
	require.NoError(t, err)

	active, err := ledger.Active(ctx, "proj-1", "commits")
	require.NoError(t, err)
	require.Equal(t, "store-2", active.StoreID)

	all, err := ledger.AllForProject(ctx, "proj-1", "commits")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestCreate_NamesStoresPerSpecConvention(t *testing.T) {
	ctx := context.Background()
	ledger, err := Open(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	first, err := ledger.Create(ctx, "store-1", "proj-1", "conversation", "vs-1")
	require.NoError(t, err)
	require.Equal(t, "project-conversations-001", first.Name)

	require.NoError(t, ledger.Retire(ctx, first.StoreID))
	second, err := ledger.Create(ctx, "store-2", "proj-1", "conversation", "vs-2")
	require.NoError(t, err)
	require.Equal(t, "project-conversations-002", second.Name)

	// A different project's sequence starts fresh.
	other, err := ledger.Create(ctx, "store-3", "proj-2", "conversation", "vs-3")
	require.NoError(t, err)
	require.Equal(t, "project-conversations-001", other.Name)
}
