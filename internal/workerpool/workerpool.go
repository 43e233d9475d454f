// Package workerpool provides a single bounded goroutine pool shared by
// SQLite I/O and outbound provider HTTP calls, so a slow disk or a slow
// provider response never blocks the JSON-RPC read loop waiting for a
// free goroutine: submissions queue behind the pool's concurrency cap
// instead of spawning unbounded goroutines per request.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent execution of submitted work to a fixed size.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a pool that runs at most size tasks concurrently.
func New(size int64) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(size)}
}

// Submit runs fn once a slot is free, blocking until one is available or
// ctx is cancelled. The caller's goroutine blocks for the duration of fn;
// use Go for fire-and-forget submission.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Go runs fn on its own goroutine once a slot is free, without blocking
// the caller past slot acquisition. The returned error, if any, is
// delivered to onDone (which may be nil to discard it).
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context) error, onDone func(error)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		err := fn(ctx)
		if onDone != nil {
			onDone(err)
		}
	}()
	return nil
}

// Batch runs every fn in items concurrently, bounded by the pool's size,
// and returns the first error encountered (if any), cancelling the
// group's context for the remaining in-flight items the way errgroup
// normally would.
func Batch(ctx context.Context, p *Pool, items []func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return p.Submit(gctx, item)
		})
	}
	return g.Wait()
}
