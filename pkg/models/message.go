// Package models holds the wire-shaped types shared between the dispatch
// adapters and the built-in tool handler: a provider's tool call and the
// handler's answer to it.
package models

import "encoding/json"

// ToolCall represents a provider's request to execute a built-in tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution, fed back to the
// provider as the next turn's tool-result input.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
