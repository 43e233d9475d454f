package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockUploader_RoundTrip(t *testing.T) {
	ctx := context.Background()
	u := NewMockUploader()

	storeID, err := u.CreateStore(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, storeID)

	fileID, err := u.UploadFile(ctx, storeID, "a.txt", []byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, fileID)

	require.NoError(t, u.RemoveFile(ctx, storeID, fileID))
	require.NoError(t, u.DeleteStore(ctx, storeID))
}

func TestMockUploader_UploadToUnknownStoreErrors(t *testing.T) {
	u := NewMockUploader()
	_, err := u.UploadFile(context.Background(), "missing", "a.txt", nil)
	require.Error(t, err)
}

func TestMockUploader_IDsAreUnique(t *testing.T) {
	ctx := context.Background()
	u := NewMockUploader()
	a, err := u.CreateStore(ctx)
	require.NoError(t, err)
	b, err := u.CreateStore(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestMockUploader_SearchFindsUploadedContent(t *testing.T) {
	ctx := context.Background()
	u := NewMockUploader()
	storeID, err := u.CreateStore(ctx)
	require.NoError(t, err)

	_, err = u.UploadFile(ctx, storeID, "a.txt", []byte("the quick brown fox"))
	require.NoError(t, err)
	_, err = u.UploadFile(ctx, storeID, "b.txt", []byte("lorem ipsum"))
	require.NoError(t, err)

	hits, err := u.Search(ctx, storeID, "fox", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a.txt", hits[0].Path)
}

func TestMockUploader_SearchAfterRemoveFindsNothing(t *testing.T) {
	ctx := context.Background()
	u := NewMockUploader()
	storeID, err := u.CreateStore(ctx)
	require.NoError(t, err)

	fileID, err := u.UploadFile(ctx, storeID, "a.txt", []byte("the quick brown fox"))
	require.NoError(t, err)
	require.NoError(t, u.RemoveFile(ctx, storeID, fileID))

	hits, err := u.Search(ctx, storeID, "fox", 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}
