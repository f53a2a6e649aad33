package session

import "time"

// StepKind classifies a transcript entry.
type StepKind string

const (
	StepSystemNote StepKind = "system_note" // Injected guidance (e.g. repetition warning)
	StepAssistant  StepKind = "assistant"   // Model text output
	StepToolCall   StepKind = "tool_call"
	StepToolResult StepKind = "tool_result"
	StepFinal      StepKind = "final"
)

// Step is one ordered entry in a session transcript. Iteration numbers are
// monotonically increasing within a session.
type Step struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Iteration int       `json:"iteration"`
	Kind      StepKind  `json:"kind"`
	Tool      string    `json:"tool,omitempty"`
	Args      string    `json:"args,omitempty"` // JSON-encoded tool arguments
	Content   string    `json:"content"`
	Truncated bool      `json:"truncated"`
	CreatedAt time.Time `json:"created_at"`
}

// Transcript is the ordered list of steps for one session.
type Transcript struct {
	SessionID string `json:"session_id"`
	Steps     []Step `json:"steps"`
}

// ToolsUsed returns the distinct tool names invoked, in first-use order.
func (t *Transcript) ToolsUsed() []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range t.Steps {
		if s.Kind == StepToolCall && !seen[s.Tool] {
			out = append(out, s.Tool)
			seen[s.Tool] = true
		}
	}
	return out
}
