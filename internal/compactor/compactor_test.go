package compactor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcprelay/mcprelay/internal/sessioncache"
)

type stubSummarizer struct {
	calledWith []PlainTurn
	summary    string
}

func (s *stubSummarizer) Summarize(ctx context.Context, turns []PlainTurn) (string, error) {
	s.calledWith = turns
	return s.summary, nil
}

func TestCompact_UnderThresholdReturnsUnchanged(t *testing.T) {
	stub := &stubSummarizer{}
	c := New(stub, 6)

	turns := []PlainTurn{{Role: "user", Text: "hi"}, {Role: "assistant", Text: "hello"}}
	out, err := c.Compact(context.Background(), turns)
	require.NoError(t, err)
	require.Equal(t, turns, out)
	require.Nil(t, stub.calledWith, "summarizer must not be called below threshold")
}

func TestCompact_OverThresholdFoldsOlderTurns(t *testing.T) {
	stub := &stubSummarizer{summary: "user asked about X, assistant explained Y"}
	c := New(stub, 2)

	turns := []PlainTurn{
		{Role: "user", Text: "t1"},
		{Role: "assistant", Text: "t2"},
		{Role: "user", Text: "t3"},
		{Role: "assistant", Text: "t4"},
	}
	out, err := c.Compact(context.Background(), turns)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, summaryRole, out[0].Role)
	require.Contains(t, out[0].Text, stub.summary)
	require.Equal(t, turns[2:], out[1:])
	require.Equal(t, turns[:2], stub.calledWith)
}

func TestHandoff_ToGeminiProducesGeminiPayload(t *testing.T) {
	stub := &stubSummarizer{summary: "summary text"}
	c := New(stub, 1)

	turns := []PlainTurn{{Role: "user", Text: "a"}, {Role: "assistant", Text: "b"}, {Role: "user", Text: "c"}}
	payload, err := c.Handoff(context.Background(), turns, sessioncache.ProviderGemini)
	require.NoError(t, err)

	gp, ok := payload.(*sessioncache.GeminiPayload)
	require.True(t, ok)
	require.Len(t, gp.History, 2) // one summary turn + the last kept turn
	require.Equal(t, "user", gp.History[0].Role)
	require.Equal(t, "user", gp.History[1].Role)

	raw, err := marshalPayload(payload)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestHandoff_ToGrokProducesChatMessages(t *testing.T) {
	stub := &stubSummarizer{summary: "summary text"}
	c := New(stub, 1)

	turns := []PlainTurn{{Role: "user", Text: "a"}, {Role: "assistant", Text: "b"}}
	payload, err := c.Handoff(context.Background(), turns, sessioncache.ProviderGrok)
	require.NoError(t, err)

	cp, ok := payload.(*sessioncache.GrokPayload)
	require.True(t, ok)
	require.Len(t, cp.Messages, 2)
}

func TestHandoff_UnknownProviderErrors(t *testing.T) {
	c := New(&stubSummarizer{}, 1)
	_, err := c.Handoff(context.Background(), []PlainTurn{{Role: "user", Text: "a"}}, sessioncache.Provider("unknown"))
	require.Error(t, err)
}

func TestFlattenGemini_RendersFunctionCallsAsStandIns(t *testing.T) {
	history := []sessioncache.GeminiTurn{
		{Role: "user", Parts: []sessioncache.GeminiPart{{Text: "search for X"}}},
		{Role: "model", Parts: []sessioncache.GeminiPart{{FunctionCall: &sessioncache.FunctionCall{Name: "search_project_memory"}}}},
		{Role: "user", Parts: []sessioncache.GeminiPart{{FunctionResponse: &sessioncache.FunctionResponse{Name: "search_project_memory"}}}},
	}
	out := FlattenGemini(history)
	require.Len(t, out, 3)
	require.Contains(t, out[1].Text, "search_project_memory")
	require.Contains(t, out[2].Text, "search_project_memory")
}

func TestFlattenGrok_SkipsToolMessages(t *testing.T) {
	messages := []sessioncache.ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []sessioncache.ToolCall{{Name: "search_project_memory"}}},
		{Role: "tool", Content: `{"results":[]}`},
		{Role: "assistant", Content: "done"},
	}
	out := FlattenGrok(messages)
	require.Len(t, out, 3)
	require.Contains(t, out[1].Text, "search_project_memory")
	require.Equal(t, "done", out[2].Text)
}
