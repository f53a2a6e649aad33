// Package chain defines the Chain domain entity: a configured agent
// definition invocable as one logical assistant.
package chain

import (
	"encoding/json"
	"time"
)

// HandlerKind selects the decision policy of a chain's top-level agent.
type HandlerKind string

const (
	// HandlerAdaptive is a solo agent that reasons and calls tools directly.
	HandlerAdaptive HandlerKind = "adaptive"
	// HandlerTeam exposes the consult/delegate pseudo-tools so the controlling
	// agent can gather opinions and hand work to team members.
	HandlerTeam HandlerKind = "team"
)

// ExecConfig holds per-chain execution tuning.
type ExecConfig struct {
	Temperature    float64 `json:"temperature"`
	MemoryWindow   int     `json:"memory_window"`   // Max prior messages carried into each completion
	MaxIterations  int     `json:"max_iterations"`  // Hard loop cap; 0 = engine default
	TimeoutSeconds int     `json:"timeout_seconds"` // Wall-clock budget; 0 = engine default
}

// Chain is an immutable-per-version agent configuration identified by slug.
// Mutations are captured as Version snapshots; the current row always
// reflects the latest snapshot.
type Chain struct {
	Slug         string      `json:"slug"`
	Name         string      `json:"name"`
	Handler      HandlerKind `json:"handler"`
	SystemPrompt string      `json:"system_prompt"`
	Tools        []string    `json:"tools"`    // Enabled tool names
	Members      []string    `json:"members"`  // Team member agent ids (team handler only)
	Provider     string      `json:"provider"` // Default completion provider reference
	Model        string      `json:"model"`    // Default model
	Exec         ExecConfig  `json:"exec"`
	Enabled      bool        `json:"enabled"`
	Version      int         `json:"version"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Version is an append-only snapshot of a chain at a point in time.
type Version struct {
	ID        string          `json:"id"`
	ChainSlug string          `json:"chain_slug"`
	Number    int             `json:"number"`
	Snapshot  json.RawMessage `json:"snapshot"` // Full chain JSON at this version
	Author    string          `json:"author"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}

// UpsertRequest holds the fields needed to create or update a chain.
type UpsertRequest struct {
	Slug         string      `json:"slug"`
	Name         string      `json:"name"`
	Handler      HandlerKind `json:"handler"`
	SystemPrompt string      `json:"system_prompt"`
	Tools        []string    `json:"tools"`
	Members      []string    `json:"members"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	Exec         ExecConfig  `json:"exec"`
	Enabled      *bool       `json:"enabled,omitempty"`
	Author       string      `json:"author"`
	Reason       string      `json:"reason"`
}
