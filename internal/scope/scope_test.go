package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenAt_DetectsDuplicateWithinTTL(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	base := time.Unix(0, 0)

	assert.False(t, c.SeenAt("k", base), "first sight is never a duplicate")
	assert.True(t, c.SeenAt("k", base.Add(30*time.Second)), "within TTL is a duplicate")
	assert.False(t, c.SeenAt("k", base.Add(2*time.Minute)), "past TTL is fresh again")
}

func TestSeenAt_ZeroTTLNeverExpires(t *testing.T) {
	c := New(Options{})
	base := time.Unix(0, 0)
	require.False(t, c.SeenAt("k", base))
	assert.True(t, c.SeenAt("k", base.Add(365*24*time.Hour)))
}

func TestPrune_EvictsOldestOverMaxSize(t *testing.T) {
	c := New(Options{MaxSize: 2})
	base := time.Unix(0, 0)

	c.SeenAt("a", base)
	c.SeenAt("b", base.Add(time.Second))
	c.SeenAt("c", base.Add(2*time.Second))

	assert.Equal(t, 2, c.Size())
	assert.False(t, c.ContainsAt("a", base.Add(2*time.Second)), "oldest key evicted")
	assert.True(t, c.Contains("c"))
}

func TestSearchKey(t *testing.T) {
	assert.Equal(t, "", SearchKey("s", "search_memory", ""))
	assert.Equal(t, "s:search_memory:hello", SearchKey("s", "search_memory", "hello"))
}
