// Package agent defines the sub-agent registry entry that delegation targets.
package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/ChainForge/internal/domain"
)

// Definition describes a specialized sub-agent that a chain can delegate to
// or consult.
type Definition struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Role           string    `json:"role"` // Expertise description shown to the delegating agent
	DomainTools    []string  `json:"domain_tools"`
	InheritCore    bool      `json:"inherit_core"`    // Whether the core tool set is added
	CoreExclusions []string  `json:"core_exclusions"` // Core tools withheld despite InheritCore
	Enabled        bool      `json:"enabled"`
	Provider       string    `json:"provider,omitempty"` // Optional LLM override
	Model          string    `json:"model,omitempty"`
	SystemPrompt   string    `json:"system_prompt,omitempty"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Version is an append-only snapshot of an agent definition.
type Version struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	Number    int             `json:"number"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Author    string          `json:"author"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}

// UpsertRequest holds the fields needed to create or update an agent definition.
type UpsertRequest struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	DomainTools    []string `json:"domain_tools"`
	InheritCore    bool     `json:"inherit_core"`
	CoreExclusions []string `json:"core_exclusions"`
	Enabled        *bool    `json:"enabled,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	Author         string   `json:"author"`
	Reason         string   `json:"reason"`
}

// Validate checks that an UpsertRequest has all required fields.
func (r *UpsertRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required: %w", domain.ErrValidation)
	}
	if r.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if r.Role == "" {
		return fmt.Errorf("role is required: %w", domain.ErrValidation)
	}
	if len(r.CoreExclusions) > 0 && !r.InheritCore {
		return fmt.Errorf("core_exclusions require inherit_core: %w", domain.ErrValidation)
	}
	return nil
}

// ToolSet resolves the effective tool names for this agent given the core set.
// Domain tools come first, then inherited core tools minus exclusions.
func (d *Definition) ToolSet(core []string) []string {
	out := make([]string, 0, len(d.DomainTools)+len(core))
	seen := make(map[string]bool, len(d.DomainTools)+len(core))
	for _, t := range d.DomainTools {
		if !seen[t] {
			out = append(out, t)
			seen[t] = true
		}
	}
	if d.InheritCore {
		excluded := make(map[string]bool, len(d.CoreExclusions))
		for _, t := range d.CoreExclusions {
			excluded[t] = true
		}
		for _, t := range core {
			if !seen[t] && !excluded[t] {
				out = append(out, t)
				seen[t] = true
			}
		}
	}
	return out
}
