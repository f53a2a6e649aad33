// Package service implements business logic on top of ports.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Strob0t/ChainForge/internal/domain"
	"github.com/Strob0t/ChainForge/internal/port/completion"
)

// SessionContext carries per-session data a tool invocation may need.
type SessionContext struct {
	SessionID string
	UserID    string
	AgentID   string
	Depth     int
	// Advisory marks a consult run. Tools must not create artifacts for it,
	// and any artifact ids a tool reports anyway are rejected.
	Advisory bool
	// ResultMaxChars is the per-result character budget from the settings
	// snapshot taken at session start.
	ResultMaxChars int
}

// ToolResult is the outcome of one tool dispatch. Tool failures are folded
// into the output so the model can react to them; they never fail a session.
type ToolResult struct {
	Output    string
	Truncated bool
	IsError   bool
	Artifacts []string
}

// Tool is a callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the tool's arguments.
	Parameters() map[string]any
	// Invoke runs the tool. Returned artifact ids are attributed to the session.
	Invoke(ctx context.Context, args json.RawMessage, sctx *SessionContext) (output string, artifacts []string, err error)
}

// ToolRegistry holds all registered tools and tracks which of them form the
// core set that agent definitions inherit.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	core  map[string]bool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
		core:  make(map[string]bool),
	}
}

// Register adds a tool. Re-registering a name replaces the prior tool.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// RegisterCore adds a tool to both the registry and the inheritable core set.
func (r *ToolRegistry) RegisterCore(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.core[t.Name()] = true
}

// Resolve returns the tool registered under name.
func (r *ToolRegistry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", name, domain.ErrNotFound)
	}
	return t, nil
}

// CoreNames returns the sorted names of the inheritable core tool set.
func (r *ToolRegistry) CoreNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.core))
	for name := range r.core {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns completion tool schemas for the given tool names. Unknown
// names are skipped; a chain may reference a tool that is not mounted.
func (r *ToolRegistry) Schemas(names []string) []completion.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var schemas []completion.ToolSchema
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			slog.Warn("chain references unknown tool", "tool", name)
			continue
		}
		schemas = append(schemas, completion.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return schemas
}

// Invoke dispatches a tool call and normalizes the outcome: errors are folded
// into the result text and oversized output is truncated with a marker.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args json.RawMessage, sctx *SessionContext) ToolResult {
	t, err := r.Resolve(name)
	if err != nil {
		return ToolResult{Output: fmt.Sprintf("tool error: unknown tool %q", name), IsError: true}
	}

	output, artifacts, err := t.Invoke(ctx, args, sctx)
	if err == nil && sctx != nil && sctx.Advisory && len(artifacts) > 0 {
		err = fmt.Errorf("tool %q produced artifacts during an advisory run", name)
		artifacts = nil
	}
	if err != nil {
		output = fmt.Sprintf("tool error: %v", err)
	}

	truncated := false
	if sctx != nil && sctx.ResultMaxChars > 0 {
		output, truncated = truncate(output, sctx.ResultMaxChars)
	}

	return ToolResult{
		Output:    output,
		Truncated: truncated,
		IsError:   err != nil,
		Artifacts: artifacts,
	}
}

// truncate cuts s to max characters and appends a marker naming how much was
// dropped. Bytes, not runes; tool output is treated as opaque text.
func truncate(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	dropped := len(s) - max
	return s[:max] + fmt.Sprintf("\n[truncated %d chars]", dropped), true
}
