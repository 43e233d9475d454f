// Package grok adapts xAI's Grok models, which are served behind an
// OpenAI-chat-compatible endpoint: the same sashabaranov/go-openai client
// the teacher already uses for OpenAI and OpenRouter works unmodified
// against xAI's base URL, the same way the teacher's OpenRouter provider
// repoints that client at a different host.
package grok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcprelay/mcprelay/internal/dispatch"
	"github.com/mcprelay/mcprelay/internal/sessioncache"
	"github.com/mcprelay/mcprelay/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

const defaultBaseURL = "https://api.x.ai/v1"

// Adapter dispatches turns to xAI's Grok models.
type Adapter struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// Config configures the Grok adapter.
type Config struct {
	APIKey     string
	BaseURL    string // defaults to https://api.x.ai/v1
	MaxRetries int
	RetryDelay time.Duration
}

// New creates a Grok adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("grok: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL

	return &Adapter{
		client:     openai.NewClientWithConfig(clientCfg),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Name implements dispatch.Adapter.
func (a *Adapter) Name() string { return "grok" }

// Dispatch implements dispatch.Adapter: builds the flat chat-message
// array from the session's prior Grok payload plus this turn's
// instruction/tool results, sends it non-streamed (background mode has no
// xAI equivalent; xAI's chat endpoint is synchronous), and returns either
// final text or the tool calls the model wants run next.
func (a *Adapter) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	payload, err := decodeContinuation(req.Continuation)
	if err != nil {
		return nil, fmt.Errorf("grok: decode continuation: %w", err)
	}

	messages := buildMessages(payload, req)

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	var resp openai.ChatCompletionResponse
	attempt := 0
	for {
		attempt++
		resp, err = a.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			break
		}
		if !isRetryable(err) || attempt >= a.maxRetries {
			return nil, fmt.Errorf("grok: dispatch: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.retryDelay * time.Duration(attempt)):
		}
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("grok: empty response")
	}
	choice := resp.Choices[0]

	result := &dispatch.Result{}
	if len(choice.Message.ToolCalls) > 0 {
		result.ToolCalls = make([]models.ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			result.ToolCalls[i] = models.ToolCall{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: json.RawMessage(tc.Function.Arguments),
			}
		}
		payload.Messages = append(payload.Messages, toChatMessage(choice.Message))
	} else {
		result.Text = choice.Message.Content
		payload.Messages = append(payload.Messages, sessioncache.ChatMessage{
			Role:    "assistant",
			Content: choice.Message.Content,
		})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("grok: encode continuation: %w", err)
	}
	result.Continuation = encoded

	return result, nil
}

func decodeContinuation(raw []byte) (*sessioncache.GrokPayload, error) {
	payload := &sessioncache.GrokPayload{}
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func buildMessages(payload *sessioncache.GrokPayload, req dispatch.Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(payload.Messages)+len(req.ToolResults)+1)
	for _, m := range payload.Messages {
		out = append(out, fromChatMessage(m))
	}

	if req.Instruction != "" {
		payload.Messages = append(payload.Messages, sessioncache.ChatMessage{Role: "user", Content: req.Instruction})
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Instruction})
	}

	for _, tr := range req.ToolResults {
		payload.Messages = append(payload.Messages, sessioncache.ChatMessage{
			Role: "tool", Content: tr.Content, ToolCallID: tr.ToolCallID,
		})
		out = append(out, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleTool, Content: tr.Content, ToolCallID: tr.ToolCallID,
		})
	}

	return out
}

func fromChatMessage(m sessioncache.ChatMessage) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:       tc.ID,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Args},
		})
	}
	return msg
}

func toChatMessage(m openai.ChatCompletionMessage) sessioncache.ChatMessage {
	out := sessioncache.ChatMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, sessioncache.ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Args: tc.Function.Arguments,
		})
	}
	return out
}

func convertTools(specs []dispatch.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(specs))
	for i, s := range specs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		}
	}
	return out
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
