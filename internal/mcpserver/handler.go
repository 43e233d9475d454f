package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcprelay/mcprelay/internal/lifecycle"
	"github.com/mcprelay/mcprelay/internal/toolexec"
)

// defaultOpTimeout bounds a dispatch_turn call when the caller doesn't send
// a timeout_hint, matching spec.md §4.7's 180s background-dispatch
// threshold so a hung provider request can't wedge an operation forever.
const defaultOpTimeout = 180 * time.Second

// protocolVersion is the MCP protocol revision this server speaks.
const protocolVersion = "2025-03-26"

const dispatchToolName = "dispatch_turn"

// dispatchArgs is the JSON shape tools/call carries for dispatch_turn, the
// one tool this server exposes to the calling agent: pack context, send it
// to a provider, run any built-in tool calls the provider asks for, and
// return the final answer.
type dispatchArgs struct {
	SessionID           string   `json:"session_id"`
	Provider            string   `json:"provider"`
	Model               string   `json:"model"`
	TaskText            string   `json:"task_text"`
	OutputFormat        string   `json:"output_format"`
	Paths               []string `json:"paths"`
	PriorityPaths       []string `json:"priority_paths"`
	ContextWindowTokens int      `json:"context_window_tokens"`
	TimeoutHint         int64    `json:"timeout_hint"`
	Temperature         *float64 `json:"temperature"`
	ReasoningEffort     string   `json:"reasoning_effort"`
	ThinkingBudget      int32    `json:"thinking_budget"`
}

// Handle implements lifecycle.Handler, routing the small set of JSON-RPC
// methods an MCP client actually calls against this server: initialize,
// tools/list, and tools/call.
func (s *Services) Handle(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *lifecycle.Error) {
	switch method {
	case "initialize":
		return s.handleInitialize()
	case "tools/list":
		return s.handleToolsList()
	case "tools/call":
		return s.handleToolsCall(ctx, params)
	case "ping":
		return mustMarshal(map[string]any{}), nil
	default:
		return nil, &lifecycle.Error{Code: lifecycle.ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", method)}
	}
}

func (s *Services) handleInitialize() (json.RawMessage, *lifecycle.Error) {
	return mustMarshal(map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo":      map[string]any{"name": "mcprelay", "version": versionString()},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}), nil
}

func (s *Services) handleToolsList() (json.RawMessage, *lifecycle.Error) {
	return mustMarshal(map[string]any{
		"tools": []map[string]any{
			{
				"name":        dispatchToolName,
				"description": "Pack the given context files, dispatch a task to a provider (openai, gemini, or grok), and return the final answer, handling any tool calls the provider makes along the way.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"session_id":            map[string]any{"type": "string"},
						"provider":              map[string]any{"type": "string", "enum": []string{"openai", "gemini", "grok"}},
						"model":                 map[string]any{"type": "string"},
						"task_text":             map[string]any{"type": "string"},
						"output_format":         map[string]any{"type": "string"},
						"paths":                 map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"priority_paths":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"context_window_tokens": map[string]any{"type": "integer"},
						"timeout_hint":          map[string]any{"type": "integer"},
						"temperature":           map[string]any{"type": "number"},
						"reasoning_effort":      map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
						"thinking_budget":       map[string]any{"type": "integer"},
					},
					"required": []string{"session_id", "provider", "model", "task_text"},
				},
			},
		},
	}), nil
}

func (s *Services) handleToolsCall(ctx context.Context, params json.RawMessage) (json.RawMessage, *lifecycle.Error) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &lifecycle.Error{Code: lifecycle.ErrCodeInvalidParams, Message: err.Error()}
	}
	if call.Name != dispatchToolName {
		return nil, &lifecycle.Error{Code: lifecycle.ErrCodeInvalidParams, Message: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	var args dispatchArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, &lifecycle.Error{Code: lifecycle.ErrCodeInvalidParams, Message: err.Error()}
	}

	var resp *toolexec.Response
	run := func(runCtx context.Context) error {
		var execErr error
		resp, execErr = s.Executor.Execute(runCtx, toolexec.Request{
			SessionID:           args.SessionID,
			Provider:            args.Provider,
			Model:               args.Model,
			TaskText:            args.TaskText,
			OutputFormat:        args.OutputFormat,
			Paths:               args.Paths,
			PriorityPaths:       args.PriorityPaths,
			ContextWindowTokens: args.ContextWindowTokens,
			TimeoutHint:         args.TimeoutHint,
			Temperature:         args.Temperature,
			ReasoningEffort:     args.ReasoningEffort,
			ThinkingBudget:      args.ThinkingBudget,
		})
		return execErr
	}

	start := time.Now()

	// Registering the dispatch under the JSON-RPC request's own id lets a
	// SIGTERM-triggered Ops.CancelAll reach this call the same way a
	// notifications/cancelled message would, via lifecycle.Server's own
	// per-request context cancellation. timeout_hint additionally bounds
	// the operation itself, per spec.md §4.9's run_with_timeout contract.
	timeout := defaultOpTimeout
	if args.TimeoutHint > 0 {
		timeout = time.Duration(args.TimeoutHint) * time.Second
	}

	var err error
	if id, ok := lifecycle.RequestIDFromContext(ctx); ok && id != "" {
		err = s.Ops.RunWithTimeout(ctx, id, timeout, run)
	} else {
		err = run(ctx)
	}

	s.recordDispatchMetrics(args.Provider, args.Model, err, time.Since(start))

	if err != nil {
		return mustMarshal(map[string]any{
			"content": []map[string]any{{"type": "text", "text": err.Error()}},
			"isError": true,
		}), nil
	}

	return mustMarshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": resp.Text}},
		"isError": false,
	}), nil
}

// recordDispatchMetrics reports one dispatch_turn call to Prometheus when
// metrics are enabled; a nil Metrics (the default, metrics.enabled: false)
// makes this a no-op rather than a guard callers need to repeat.
func (s *Services) recordDispatchMetrics(provider, model string, err error, elapsed time.Duration) {
	if s.Metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		s.Metrics.RecordError("dispatch_turn", classifyError(err))
	}
	s.Metrics.RecordToolExecution(dispatchToolName, status, elapsed.Seconds())
	s.Metrics.RecordLLMRequest(provider, model, status, elapsed.Seconds(), 0, 0)
}

func classifyError(err error) string {
	var toolErr *toolexec.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Kind.String()
	}
	return "unknown"
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Every value passed to this helper is a literal map/struct built
		// in this file; a marshal failure here means a programming error,
		// not a runtime condition callers should handle.
		panic(fmt.Sprintf("mcpserver: marshal response: %v", err))
	}
	return b
}

// version is overridden at build time via -ldflags, mirroring the
// teacher's cmd/nexus version variable.
var version = "dev"

func versionString() string { return version }
