// Package completion defines the completion provider port: submit messages
// plus a tool schema, receive the next action or final text, optionally
// streamed. The engine does not define any vendor wire protocol.
package completion

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation history sent to the provider.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"` // Set on RoleTool results
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolSchema declaratively exposes a callable tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Usage captures token accounting for one completion.
type Usage struct {
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Action is the provider's decision for one turn: either a tool call or a
// final text answer, never both.
type Action struct {
	ToolCall  *ToolCall `json:"tool_call,omitempty"`
	FinalText string    `json:"final_text,omitempty"`
	Usage     Usage     `json:"usage"`
}

// Delta is one streamed fragment. Partial deltas are buffered by the caller
// and never interpreted as a decision; only a terminal delta advances the
// loop state machine.
type Delta struct {
	Text     string  `json:"text,omitempty"`
	Terminal bool    `json:"terminal"`
	Action   *Action `json:"action,omitempty"` // Set on the terminal delta
}

// Request is the normalized provider input for one turn.
type Request struct {
	Provider    string       `json:"provider"`
	Model       string       `json:"model"`
	Temperature float64      `json:"temperature"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
}

// Provider is the external collaborator that produces the next action.
type Provider interface {
	// Complete returns the provider's decision for the given request.
	Complete(ctx context.Context, req Request) (*Action, error)

	// Stream invokes onDelta for each fragment and returns the terminal
	// action once the stream completes.
	Stream(ctx context.Context, req Request, onDelta func(Delta)) (*Action, error)
}
