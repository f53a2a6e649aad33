// Package delegation defines the contract returned by delegated executions.
package delegation

import "time"

// Defaults carries the delegating session's effective provider and model. A
// sub-agent without its own override inherits them, so an agent delegated by
// an agent inherits transitively from the root chain.
type Defaults struct {
	Provider string
	Model    string
}

// SubAgentResult is the immutable outcome of a delegated (or consulted)
// sub-agent execution, owned by the call site that created it.
type SubAgentResult struct {
	Success    bool              `json:"success"`
	Response   string            `json:"response"`
	AgentID    string            `json:"agent_id"`
	AgentName  string            `json:"agent_name"`
	SessionID  string            `json:"session_id"`
	ToolsUsed  []string          `json:"tools_used,omitempty"`
	Artifacts  []string          `json:"artifacts,omitempty"` // Artifact ids produced by the sub-session
	Sources    []string          `json:"sources,omitempty"`
	DomainData map[string]string `json:"domain_data,omitempty"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
}
