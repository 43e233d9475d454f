// Package opmanager tracks the in-flight operations a running MCP tool call
// represents, so a cancellation notification for one request id can reach
// exactly the goroutine running it without tearing down the whole process.
package opmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mcprelay/mcprelay/internal/observability"
)

// ErrNotFound is returned by Cancel when the operation id is unknown, either
// because it never existed or because it already finished.
var ErrNotFound = errors.New("opmanager: operation not found")

// ErrAlreadyRunning is returned by Run/RunWithTimeout when the caller reuses
// an operation id that is still in flight.
var ErrAlreadyRunning = errors.New("opmanager: operation already running")

type entry struct {
	cancel context.CancelFunc
}

// Manager tracks cancel funcs for running operations keyed by an id the
// caller controls, typically an MCP request id.
type Manager struct {
	mu  sync.Mutex
	ops map[string]entry

	// Tracer is optional; when nil, Run/RunWithTimeout skip span creation
	// entirely rather than emitting no-op spans through the global provider.
	Tracer *observability.Tracer
}

// New creates an empty Manager. Pass a non-nil tracer to wrap every
// operation in a span named "op.<id>"; pass nil to skip tracing.
func New(tracer *observability.Tracer) *Manager {
	return &Manager{ops: make(map[string]entry), Tracer: tracer}
}

// Run executes fn under a context this Manager can cancel via Cancel(id).
// It returns ErrAlreadyRunning if id is already tracked.
func (m *Manager) Run(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	return m.run(ctx, id, 0, fn)
}

// RunWithTimeout is Run with an additional per-operation deadline; timeout <=
// 0 means no deadline beyond ctx's own.
func (m *Manager) RunWithTimeout(ctx context.Context, id string, timeout time.Duration, fn func(ctx context.Context) error) error {
	return m.run(ctx, id, timeout, fn)
}

func (m *Manager) run(ctx context.Context, id string, timeout time.Duration, fn func(ctx context.Context) error) error {
	opCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		opCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := m.track(id, cancel); err != nil {
		return err
	}
	defer m.untrack(id)

	if m.Tracer == nil {
		return fn(opCtx)
	}

	var span trace.Span
	opCtx, span = m.Tracer.Start(opCtx, fmt.Sprintf("op.%s", id))
	defer span.End()

	err := fn(opCtx)
	m.Tracer.RecordError(span, err)
	return err
}

func (m *Manager) track(id string, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.ops[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	m.ops[id] = entry{cancel: cancel}
	return nil
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, id)
}

// Cancel cancels the running operation with the given id. It returns
// ErrNotFound if no such operation is currently tracked.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.ops[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.cancel()
	return nil
}

// CancelAll cancels every operation currently tracked and returns how many
// it cancelled. Used on SIGTERM, where the process keeps running but every
// in-flight request should unwind.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	ops := make([]entry, 0, len(m.ops))
	for _, e := range m.ops {
		ops = append(ops, e)
	}
	m.mu.Unlock()

	for _, e := range ops {
		e.cancel()
	}
	return len(ops)
}

// Active reports how many operations are currently tracked.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}
