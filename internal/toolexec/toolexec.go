// Package toolexec binds context packing, provider dispatch, the built-in
// tool-call loop, redaction, and session persistence into the single call a
// tool invocation makes end to end. It is the one place that decides what
// Kind of failure to report when any of those stages goes wrong.
package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mcprelay/mcprelay/internal/contextpack"
	"github.com/mcprelay/mcprelay/internal/dispatch"
	"github.com/mcprelay/mcprelay/internal/redact"
	"github.com/mcprelay/mcprelay/internal/sessioncache"
	"github.com/mcprelay/mcprelay/internal/toolhandler"
	"github.com/mcprelay/mcprelay/internal/workerpool"
	"github.com/mcprelay/mcprelay/pkg/models"
)

// defaultMaxToolIterations bounds the provider <-> built-in-tool loop so a
// model that keeps calling search tools forever can't wedge a request open.
const defaultMaxToolIterations = 8

// searchFanOut bounds how many built-in tool calls from a single dispatch
// result run concurrently, per SPEC_FULL.md §5's memory/attachment-search cap.
const searchFanOut = 5

// Request is one tool invocation's input.
type Request struct {
	SessionID     string
	Provider      string // "openai" | "gemini" | "grok"
	Model         string
	TaskText      string
	OutputFormat  string
	Paths         []string
	PriorityPaths []string

	ContextWindowTokens int
	TimeoutHint         int64

	Temperature     *float64
	ReasoningEffort string
	ThinkingBudget  int32
}

// Response is one tool invocation's successful output.
type Response struct {
	Text          string
	VectorStoreID string
	Redactions    []redact.Finding
}

// MemoryWriteBackFunc is fired in the background after a successful turn so
// the conversation can be folded into project memory without delaying the
// response; errors are logged, not surfaced to the caller.
type MemoryWriteBackFunc func(ctx context.Context, sessionID, provider, text string) error

// Executor wires the collaborators one tool invocation drives.
type Executor struct {
	Packer   *contextpack.Packer
	Adapters map[string]dispatch.Adapter
	Tools    *toolhandler.Handler
	Sessions *sessioncache.Cache
	Redactor *redact.Filter
	Pool     *workerpool.Pool

	MaxToolIterations int
	WriteBack         MemoryWriteBackFunc
	Logger            *slog.Logger
}

// New creates an Executor with default iteration bounds and logger.
func New(packer *contextpack.Packer, adapters map[string]dispatch.Adapter, tools *toolhandler.Handler, sessions *sessioncache.Cache, redactor *redact.Filter, pool *workerpool.Pool) *Executor {
	return &Executor{
		Packer:            packer,
		Adapters:          adapters,
		Tools:             tools,
		Sessions:          sessions,
		Redactor:          redactor,
		Pool:              pool,
		MaxToolIterations: defaultMaxToolIterations,
		Logger:            slog.Default(),
	}
}

// Execute runs one tool invocation to completion: pack context, dispatch to
// the requested provider, satisfy any built-in tool calls the model makes,
// persist the updated session, redact the final text, and kick off a
// background memory write-back.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.SessionID == "" || req.TaskText == "" {
		return nil, newToolError(KindValidation, errors.New("session_id and task_text are required"))
	}
	adapter, ok := e.Adapters[req.Provider]
	if !ok {
		return nil, newToolError(KindValidation, fmt.Errorf("unknown provider: %s", req.Provider))
	}

	unlock := e.Sessions.Lock(req.SessionID)
	defer unlock()

	packResult, err := e.Packer.Pack(ctx, contextpack.Request{
		SessionID:           req.SessionID,
		TaskText:            req.TaskText,
		OutputFormat:        req.OutputFormat,
		Paths:               req.Paths,
		PriorityPaths:       req.PriorityPaths,
		ContextWindowTokens: req.ContextWindowTokens,
	})
	if err != nil {
		if errors.Is(err, contextpack.ErrBudgetExceeded) {
			return nil, newToolError(KindBudgetExceeded, err)
		}
		return nil, newToolError(KindVectorStoreUnavailable, err)
	}

	sess, continuation, err := e.Sessions.Get(ctx, req.SessionID)
	if errors.Is(err, sessioncache.ErrNotFound) {
		sess = &sessioncache.Session{ID: req.SessionID, Provider: sessioncache.Provider(req.Provider)}
		continuation = nil
	} else if err != nil {
		return nil, newToolError(KindUnknown, err)
	}

	tools := e.Tools.WithVectorStore(packResult.VectorStoreID).WithSession(req.SessionID)
	dispatchReq := dispatch.Request{
		Model:           req.Model,
		Instruction:     packResult.Prompt,
		Tools:           tools.Declarations(),
		Continuation:    continuation,
		TimeoutHint:     req.TimeoutHint,
		Temperature:     req.Temperature,
		ReasoningEffort: req.ReasoningEffort,
		ThinkingBudget:  req.ThinkingBudget,
	}

	maxIterations := e.MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxToolIterations
	}

	var result *dispatch.Result
	for i := 0; i < maxIterations; i++ {
		result, err = adapter.Dispatch(ctx, dispatchReq)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return nil, newToolError(KindCancelled, err)
			case errors.Is(err, dispatch.ErrGatewayIdle):
				return nil, newToolError(KindGatewayIdle, err)
			case errors.Is(err, context.DeadlineExceeded):
				return nil, newToolError(KindTimeout, err)
			default:
				return nil, newToolError(KindProviderError, err)
			}
		}
		if len(result.ToolCalls) == 0 {
			break
		}

		toolResults, err := runToolCalls(ctx, tools, result.ToolCalls)
		if err != nil {
			return nil, newToolError(KindUnknown, err)
		}

		dispatchReq.Instruction = ""
		dispatchReq.Continuation = result.Continuation
		dispatchReq.ToolResults = toolResults
		result = nil
	}
	if result == nil {
		return nil, newToolError(KindProviderError, fmt.Errorf("exceeded %d tool-call iterations without a final answer", maxIterations))
	}

	sess.Provider = sessioncache.Provider(req.Provider)
	if err := e.Sessions.Put(ctx, sess, json.RawMessage(result.Continuation)); err != nil {
		return nil, newToolError(KindUnknown, fmt.Errorf("persist session: %w", err))
	}

	redacted, findings := e.Redactor.Redact(result.Text)
	if len(findings) > 0 {
		e.Logger.Warn("redacted secrets from tool output", "session_id", req.SessionID, "findings", len(findings))
	}

	e.scheduleWriteBack(req.SessionID, req.Provider, redacted)

	return &Response{Text: redacted, VectorStoreID: packResult.VectorStoreID, Redactions: findings}, nil
}

// runToolCalls executes every tool call from one dispatch result
// concurrently, bounded by searchFanOut, and returns results in the same
// order as calls so the adapter can correlate them back to its own ids.
func runToolCalls(ctx context.Context, tools *toolhandler.Handler, calls []models.ToolCall) ([]models.ToolResult, error) {
	results := make([]models.ToolResult, len(calls))
	sem := semaphore.NewWeighted(searchFanOut)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, tc := range calls {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := tools.Execute(ctx, call.Name, call.Input)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			res.ToolCallID = call.ID
			results[idx] = *res
		}(i, tc)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (e *Executor) scheduleWriteBack(sessionID, provider, text string) {
	if e.WriteBack == nil || e.Pool == nil {
		return
	}
	err := e.Pool.Go(context.Background(), func(ctx context.Context) error {
		return e.WriteBack(ctx, sessionID, provider, text)
	}, func(err error) {
		if err != nil {
			e.Logger.Warn("memory write-back failed", "session_id", sessionID, "error", err)
		}
	})
	if err != nil {
		e.Logger.Warn("memory write-back not scheduled", "session_id", sessionID, "error", err)
	}
}
