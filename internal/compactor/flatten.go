package compactor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcprelay/mcprelay/internal/sessioncache"
)

// FlattenGemini renders a Gemini turn history as plain turns. A part that
// is a function call or function response (rather than text) is rendered
// as a bracketed stand-in so the summarizer still sees that a tool ran,
// without trying to preserve the call's structure through the round trip —
// only the native payload, not the summary, needs byte-exact fidelity.
func FlattenGemini(history []sessioncache.GeminiTurn) []PlainTurn {
	out := make([]PlainTurn, 0, len(history))
	for _, turn := range history {
		role := "assistant"
		if turn.Role == "user" {
			role = "user"
		}
		var parts []string
		for _, p := range turn.Parts {
			switch {
			case p.Text != "":
				parts = append(parts, p.Text)
			case p.FunctionCall != nil:
				parts = append(parts, fmt.Sprintf("[called tool %s]", p.FunctionCall.Name))
			case p.FunctionResponse != nil:
				parts = append(parts, fmt.Sprintf("[tool %s returned a result]", p.FunctionResponse.Name))
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, PlainTurn{Role: role, Text: strings.Join(parts, " ")})
	}
	return out
}

// FlattenGrok renders a Grok/OpenAI-chat message array as plain turns,
// skipping role:"tool" messages (their content is the tool's raw result,
// not conversational text a summary needs verbatim) but noting that a
// tool ran on the preceding assistant turn's rendering.
func FlattenGrok(messages []sessioncache.ChatMessage) []PlainTurn {
	out := make([]PlainTurn, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "tool":
			continue
		case "user":
			out = append(out, PlainTurn{Role: "user", Text: m.Content})
		default:
			text := m.Content
			if len(m.ToolCalls) > 0 && text == "" {
				names := make([]string, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					names[i] = tc.Name
				}
				text = fmt.Sprintf("[called tools: %s]", strings.Join(names, ", "))
			}
			out = append(out, PlainTurn{Role: "assistant", Text: text})
		}
	}
	return out
}

// toGeminiTurns renders plain turns as a single-text-part Gemini history,
// used only for the synthetic summary turn plus whatever recent turns
// Compact kept; thought signatures are necessarily absent since they are
// provider-specific state a cross-provider handoff cannot carry forward.
func toGeminiTurns(turns []PlainTurn) []sessioncache.GeminiTurn {
	out := make([]sessioncache.GeminiTurn, len(turns))
	for i, t := range turns {
		role := "model"
		if t.Role == "user" {
			role = "user"
		}
		out[i] = sessioncache.GeminiTurn{Role: role, Parts: []sessioncache.GeminiPart{{Text: t.Text}}}
	}
	return out
}

// toChatMessages renders plain turns as a Grok/OpenAI-chat message array.
func toChatMessages(turns []PlainTurn) []sessioncache.ChatMessage {
	out := make([]sessioncache.ChatMessage, len(turns))
	for i, t := range turns {
		role := "assistant"
		if t.Role == "user" {
			role = "user"
		}
		out[i] = sessioncache.ChatMessage{Role: role, Content: t.Text}
	}
	return out
}

// marshalPayload is a small helper the session cache's callers use after a
// Handoff to get the bytes sessioncache.Cache.Put expects as continuation.
func marshalPayload(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
