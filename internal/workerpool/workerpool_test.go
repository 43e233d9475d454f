package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_BoundsConcurrency(t *testing.T) {
	var inFlight, maxInFlight int64
	p := New(2)

	items := make([]func(ctx context.Context) error, 10)
	for i := range items {
		items[i] = func(ctx context.Context) error {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				max := atomic.LoadInt64(&maxInFlight)
				if n <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return nil
		}
	}

	require.NoError(t, Batch(context.Background(), p, items))
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(2))
}

func TestBatch_PropagatesFirstError(t *testing.T) {
	p := New(4)
	boom := assert.AnError
	items := []func(ctx context.Context) error{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	}
	err := Batch(context.Background(), p, items)
	assert.ErrorIs(t, err, boom)
}
