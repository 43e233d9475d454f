// Package gemini adapts Google's Gemini/Vertex models. Gemini requires
// the full turn history to be resent on every request (no server-side
// continuation id the way OpenAI's Responses API has), including any
// thought-signature bytes the model attached to a prior turn's function
// call — round-tripped byte for byte, since Gemini treats a missing or
// altered signature as a broken chain of thought and degrades quality.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mcprelay/mcprelay/internal/dispatch"
	"github.com/mcprelay/mcprelay/internal/sessioncache"
	"github.com/mcprelay/mcprelay/pkg/models"
	"google.golang.org/genai"
)

// Adapter dispatches turns to Gemini/Vertex.
type Adapter struct {
	client     *genai.Client
	maxRetries int
	retryDelay time.Duration
}

// Config configures the Gemini adapter. Exactly one of APIKey (Gemini
// API backend) or Project+Location (Vertex backend) should be set,
// matching genai.ClientConfig's own backend-selection rule.
type Config struct {
	APIKey     string
	Project    string
	Location   string
	MaxRetries int
	RetryDelay time.Duration
}

// New creates a Gemini adapter.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientCfg := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		clientCfg.APIKey = cfg.APIKey
		clientCfg.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		clientCfg.Project = cfg.Project
		clientCfg.Location = cfg.Location
		clientCfg.Backend = genai.BackendVertexAI
	default:
		return nil, errors.New("gemini: either APIKey or Project must be set")
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Adapter{client: client, maxRetries: cfg.MaxRetries, retryDelay: cfg.RetryDelay}, nil
}

// Name implements dispatch.Adapter.
func (a *Adapter) Name() string { return "gemini" }

// Dispatch implements dispatch.Adapter.
func (a *Adapter) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	payload, err := decodeContinuation(req.Continuation)
	if err != nil {
		return nil, fmt.Errorf("gemini: decode continuation: %w", err)
	}

	appendTurns(payload, req)

	contents := make([]*genai.Content, 0, len(payload.History))
	for _, turn := range payload.History {
		contents = append(contents, toGenaiContent(turn))
	}

	config := &genai.GenerateContentConfig{SafetySettings: disabledSafetySettings()}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(req.Tools)}}
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}
	if req.ThinkingBudget > 0 {
		budget := req.ThinkingBudget
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}

	var resp *genai.GenerateContentResponse
	attempt := 0
	for {
		attempt++
		resp, err = a.client.Models.GenerateContent(ctx, req.Model, contents, config)
		if err == nil {
			break
		}
		if !isRetryable(err) || attempt >= a.maxRetries {
			return nil, fmt.Errorf("gemini: dispatch: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(math.Pow(2, float64(attempt-1))) * a.retryDelay):
		}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini: empty response")
	}
	modelContent := resp.Candidates[0].Content

	modelTurn := fromGenaiContent(modelContent)
	payload.History = append(payload.History, modelTurn)

	result := &dispatch.Result{}
	var toolCalls []models.ToolCall
	var text string
	for _, part := range modelTurn.Parts {
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			toolCalls = append(toolCalls, models.ToolCall{
				ID:    part.FunctionCall.Name,
				Name:  part.FunctionCall.Name,
				Input: json.RawMessage(args),
			})
		}
		if part.Text != "" {
			text += part.Text
		}
	}
	result.ToolCalls = toolCalls
	result.Text = text

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode continuation: %w", err)
	}
	result.Continuation = encoded

	return result, nil
}

func decodeContinuation(raw []byte) (*sessioncache.GeminiPayload, error) {
	payload := &sessioncache.GeminiPayload{}
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// appendTurns appends the new user instruction (if any) and, per spec.md
// §4.7 step 3, one user-role turn carrying every pending tool result as a
// separate function_response Part — not one turn per result, which would
// desync Gemini's expectation that all of a round's function calls are
// answered by a single following turn.
func appendTurns(payload *sessioncache.GeminiPayload, req dispatch.Request) {
	if req.Instruction != "" {
		payload.History = append(payload.History, sessioncache.GeminiTurn{
			Role:  "user",
			Parts: []sessioncache.GeminiPart{{Text: req.Instruction}},
		})
	}
	if len(req.ToolResults) == 0 {
		return
	}
	parts := make([]sessioncache.GeminiPart, 0, len(req.ToolResults))
	for _, tr := range req.ToolResults {
		parts = append(parts, sessioncache.GeminiPart{
			FunctionResponse: &sessioncache.FunctionResponse{
				Name:     tr.ToolCallID,
				Response: map[string]any{"content": tr.Content, "is_error": tr.IsError},
			},
		})
	}
	payload.History = append(payload.History, sessioncache.GeminiTurn{Role: "user", Parts: parts})
}

func toGenaiContent(turn sessioncache.GeminiTurn) *genai.Content {
	c := &genai.Content{Role: turn.Role}
	for _, p := range turn.Parts {
		part := &genai.Part{Text: p.Text, ThoughtSignature: p.ThoughtSignature}
		if p.FunctionCall != nil {
			part.FunctionCall = &genai.FunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args}
		}
		if p.FunctionResponse != nil {
			part.FunctionResponse = &genai.FunctionResponse{Name: p.FunctionResponse.Name, Response: p.FunctionResponse.Response}
		}
		c.Parts = append(c.Parts, part)
	}
	return c
}

func fromGenaiContent(c *genai.Content) sessioncache.GeminiTurn {
	turn := sessioncache.GeminiTurn{Role: c.Role}
	for _, p := range c.Parts {
		part := sessioncache.GeminiPart{Text: p.Text, ThoughtSignature: p.ThoughtSignature}
		if p.FunctionCall != nil {
			part.FunctionCall = &sessioncache.FunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args}
		}
		if p.FunctionResponse != nil {
			part.FunctionResponse = &sessioncache.FunctionResponse{Name: p.FunctionResponse.Name, Response: p.FunctionResponse.Response}
		}
		turn.Parts = append(turn.Parts, part)
	}
	return turn
}

func convertTools(specs []dispatch.ToolSpec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, len(specs))
	for i, s := range specs {
		out[i] = &genai.FunctionDeclaration{
			Name:                 s.Name,
			Description:          s.Description,
			ParametersJsonSchema: s.Parameters,
		}
	}
	return out
}

// disabledSafetySettings turns off every Gemini content-safety category, per
// spec.md §4.7 ("safety settings disable all categories, the system is
// developer-facing"): a coding agent's file contents and diffs routinely
// trip harassment/dangerous-content heuristics tuned for consumer chat.
func disabledSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, len(categories))
	for i, c := range categories {
		settings[i] = &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockNone}
	}
	return settings
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded", "unavailable"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
