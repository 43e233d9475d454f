// Package dispatch defines the provider-agnostic surface the tool
// executor drives: submit a packed prompt plus any pending tool results,
// get back either assistant text or a further round of tool calls to
// satisfy. Each subpackage (openai, gemini, grok) implements Adapter
// against its provider's native shape rather than a lowest-common-
// denominator abstraction, per this system's non-goal of hiding
// provider-specific knobs.
package dispatch

import (
	"context"
	"errors"

	"github.com/mcprelay/mcprelay/pkg/models"
)

// ErrGatewayIdle is the sentinel an adapter wraps its error in when a
// provider's gateway closes an idle streaming connection (HTTP 504/524),
// per spec.md §4.7's error-mapping table: "the gateway idle limit was
// exceeded and background mode should have been selected." toolexec uses
// errors.Is against this to classify the failure as KindGatewayIdle rather
// than a generic provider error.
var ErrGatewayIdle = errors.New("dispatch: provider gateway idle limit exceeded")

// Request is one turn's input to an adapter: the assembled prompt text
// (already packed by internal/contextpack), any tool results answering a
// prior round's tool calls, and the provider-opaque continuation payload
// from the session cache (nil on a session's first turn).
type Request struct {
	Model        string
	Instruction  string
	ToolResults  []models.ToolResult
	Tools        []ToolSpec
	Continuation []byte // provider-specific JSON payload from the session cache
	TimeoutHint  int64  // seconds; 0 means use the adapter's own default

	// Temperature is passed through to every adapter's sampling params
	// when non-nil, per spec.md §4.7's base adapter contract
	// (generate(..., temperature?, ...)).
	Temperature *float64

	// ReasoningEffort is forwarded to the OpenAI Responses API's
	// reasoning.effort field (e.g. "low", "medium", "high") when set; the
	// Gemini and Grok adapters ignore it.
	ReasoningEffort string

	// ThinkingBudget is forwarded to Gemini's GenerateContentConfig for
	// reasoning-capable models, per spec.md §4.7 ("Temperature and
	// thinking_budget ... are passed through as configured"). Zero means
	// unset; the OpenAI and Grok adapters ignore it.
	ThinkingBudget int32
}

// ToolSpec describes one callable tool in provider-neutral form; each
// adapter translates it to its own function/tool-declaration shape.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema object
}

// Result is one turn's output from an adapter.
type Result struct {
	// Text is the assistant's final text, set only when ToolCalls is empty.
	Text string

	// ToolCalls, when non-empty, means the model wants these tools run
	// before it can produce a final answer; the caller executes them and
	// calls the adapter again with Request.ToolResults populated.
	ToolCalls []models.ToolCall

	// Continuation is the updated provider-opaque payload to persist back
	// to the session cache for the next turn.
	Continuation []byte
}

// Adapter is implemented once per provider.
type Adapter interface {
	// Name identifies the provider ("openai", "gemini", "grok").
	Name() string

	// Dispatch sends one turn and returns the provider's response. It
	// blocks for the duration of the underlying HTTP call (or the full
	// background-poll cycle, for adapters that use one) and honors ctx
	// cancellation throughout.
	Dispatch(ctx context.Context, req Request) (*Result, error)
}
