package compactor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcprelay/mcprelay/internal/dispatch"
)

type fakeAdapter struct {
	name     string
	lastReq  dispatch.Request
	response dispatch.Result
	err      error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	res := f.response
	return &res, nil
}

func TestAdapterSummarizer_EmptyTurnsSkipsDispatch(t *testing.T) {
	fa := &fakeAdapter{name: "grok"}
	s := &AdapterSummarizer{Adapter: fa, Model: "grok-4"}

	out, err := s.Summarize(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Empty(t, fa.lastReq.Model, "adapter must not be called for an empty turn set")
}

func TestAdapterSummarizer_DispatchesSummarizationPrompt(t *testing.T) {
	fa := &fakeAdapter{name: "grok", response: dispatch.Result{Text: "short summary"}}
	s := &AdapterSummarizer{Adapter: fa, Model: "grok-4"}

	out, err := s.Summarize(context.Background(), []PlainTurn{{Role: "user", Text: "hello"}})
	require.NoError(t, err)
	require.Equal(t, "short summary", out)
	require.Equal(t, "grok-4", fa.lastReq.Model)
	require.Contains(t, fa.lastReq.Instruction, "hello")
}
