package sessioncache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutGet_RoundTripsGeminiThoughtSignature(t *testing.T) {
	ctx := context.Background()
	cache, err := Open(":memory:", 0)
	require.NoError(t, err)
	defer cache.Close()

	sig := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	payload := &GeminiPayload{History: []GeminiTurn{
		{Role: "model", Parts: []GeminiPart{{Text: "hi", ThoughtSignature: sig}}},
	}}
	sess := &Session{ID: "s1", Provider: ProviderGemini}
	require.NoError(t, cache.Put(ctx, sess, payload))

	got, raw, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, ProviderGemini, got.Provider)

	var decoded GeminiPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, sig, decoded.History[0].Parts[0].ThoughtSignature)
}

func TestGet_ExpiredSessionReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	cache, err := Open(":memory:", time.Millisecond)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Put(ctx, &Session{ID: "s1", Provider: ProviderOpenAI}, &ResponsesPayload{ResponseID: "r1"}))
	time.Sleep(5 * time.Millisecond)

	_, _, err = cache.Get(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLock_SerializesConcurrentSameSessionWrites(t *testing.T) {
	cache, err := Open(":memory:", 0)
	require.NoError(t, err)
	defer cache.Close()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			unlock := cache.Lock("shared")
			defer unlock()
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}(i)
	}
	wg.Wait()
	require.Len(t, order, 5, "all five critical sections ran without panicking or deadlocking")
}
