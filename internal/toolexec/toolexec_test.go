package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mcprelay/mcprelay/internal/contextpack"
	"github.com/mcprelay/mcprelay/internal/dispatch"
	"github.com/mcprelay/mcprelay/internal/redact"
	"github.com/mcprelay/mcprelay/internal/sessioncache"
	"github.com/mcprelay/mcprelay/internal/stablelist"
	"github.com/mcprelay/mcprelay/internal/toolhandler"
	"github.com/mcprelay/mcprelay/internal/vectorstore"
	"github.com/mcprelay/mcprelay/internal/workerpool"
	"github.com/mcprelay/mcprelay/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	results []*dispatch.Result
	errs    []error
	calls   int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.results[i], nil
}

func newExecutor(t *testing.T, adapter dispatch.Adapter) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	readme := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("hello"), 0o644))

	stable, err := stablelist.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { stable.Close() })

	packer := contextpack.New(stable, nil, vectorstore.Owner{})
	sessions, err := sessioncache.Open(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	exec := New(packer, map[string]dispatch.Adapter{"fake": adapter}, toolhandler.New(nil, nil), sessions, redact.New(), workerpool.New(2))
	return exec, readme
}

func TestExecute_ReturnsTextWhenNoToolCalls(t *testing.T) {
	adapter := &fakeAdapter{results: []*dispatch.Result{
		{Text: "the answer", Continuation: []byte(`{"response_id":"r1"}`)},
	}}
	exec, readme := newExecutor(t, adapter)

	resp, err := exec.Execute(context.Background(), Request{
		SessionID: "s1", Provider: "fake", Model: "m1", TaskText: "do it", Paths: []string{readme},
	})
	require.NoError(t, err)
	require.Equal(t, "the answer", resp.Text)
}

func TestExecute_RunsBuiltinToolLoop(t *testing.T) {
	toolCallArgs, _ := json.Marshal(map[string]any{"query": "prior bug"})
	adapter := &fakeAdapter{results: []*dispatch.Result{
		{
			ToolCalls:    []models.ToolCall{{ID: "call_1", Name: "search_project_memory", Input: toolCallArgs}},
			Continuation: []byte(`{"response_id":"r1"}`),
		},
		{Text: "final answer", Continuation: []byte(`{"response_id":"r2"}`)},
	}}
	exec, readme := newExecutor(t, adapter)
	exec.Tools = toolhandler.New(&noopMemory{}, nil)

	resp, err := exec.Execute(context.Background(), Request{
		SessionID: "s2", Provider: "fake", Model: "m1", TaskText: "do it", Paths: []string{readme},
	})
	require.NoError(t, err)
	require.Equal(t, "final answer", resp.Text)
	require.Equal(t, 2, adapter.calls)
}

type noopMemory struct{}

func (noopMemory) Search(ctx context.Context, query string, maxResults int, storeTypes []string) ([]toolhandler.SearchResult, error) {
	return nil, nil
}

func TestExecute_UnknownProviderIsValidationError(t *testing.T) {
	exec, readme := newExecutor(t, &fakeAdapter{})
	_, err := exec.Execute(context.Background(), Request{
		SessionID: "s3", Provider: "nope", TaskText: "x", Paths: []string{readme},
	})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	require.Equal(t, KindValidation, toolErr.ErrKind())
}

func TestExecute_ProviderErrorIsWrapped(t *testing.T) {
	adapter := &fakeAdapter{errs: []error{errors.New("upstream 500")}}
	exec, readme := newExecutor(t, adapter)
	_, err := exec.Execute(context.Background(), Request{
		SessionID: "s4", Provider: "fake", TaskText: "x", Paths: []string{readme},
	})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	require.Equal(t, KindProviderError, toolErr.ErrKind())
}

func TestExecute_DeadlineExceededIsClassifiedAsTimeout(t *testing.T) {
	adapter := &fakeAdapter{errs: []error{fmt.Errorf("dispatch: %w", context.DeadlineExceeded)}}
	exec, readme := newExecutor(t, adapter)
	_, err := exec.Execute(context.Background(), Request{
		SessionID: "s5", Provider: "fake", TaskText: "x", Paths: []string{readme},
	})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	require.Equal(t, KindTimeout, toolErr.ErrKind())
}

func TestExecute_GatewayIdleIsClassified(t *testing.T) {
	adapter := &fakeAdapter{errs: []error{fmt.Errorf("openai: %w", dispatch.ErrGatewayIdle)}}
	exec, readme := newExecutor(t, adapter)
	_, err := exec.Execute(context.Background(), Request{
		SessionID: "s6", Provider: "fake", TaskText: "x", Paths: []string{readme},
	})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	require.Equal(t, KindGatewayIdle, toolErr.ErrKind())
}
