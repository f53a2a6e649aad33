// Package session defines the Session domain entity: one execution of a
// chain for one conversation and user.
package session

import (
	"fmt"
	"time"

	"github.com/Strob0t/ChainForge/internal/domain"
)

// Status represents the current state of a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the session reached a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// FailureReason classifies why a session ended as failed.
type FailureReason string

const (
	ReasonBudgetExceeded     FailureReason = "budget_exceeded"
	ReasonRepetitionExceeded FailureReason = "repetition_exceeded"
	ReasonDelegationDepth    FailureReason = "delegation_depth_exceeded"
	ReasonProviderError      FailureReason = "provider_error"
	ReasonStorageError       FailureReason = "storage_error"
)

// Trigger identifies what started a session.
type Trigger string

const (
	TriggerChat       Trigger = "chat"
	TriggerScheduled  Trigger = "scheduled"
	TriggerRunNow     Trigger = "run_now"
	TriggerDelegation Trigger = "delegation"
)

// Session represents one execution of a chain. Delegated sub-sessions carry a
// parent session id; depth checks walk the parent chain rather than holding
// in-memory references.
type Session struct {
	ID              string        `json:"id"`
	ChainSlug       string        `json:"chain_slug"`
	ChainVersion    int           `json:"chain_version"`
	AgentID         string        `json:"agent_id,omitempty"` // Set for delegated sub-sessions
	UserID          string        `json:"user_id"`
	ParentSessionID string        `json:"parent_session_id,omitempty"`
	Depth           int           `json:"depth"`
	Trigger         Trigger       `json:"trigger"`
	Status          Status        `json:"status"`
	Iterations      int           `json:"iterations"`
	FailureReason   FailureReason `json:"failure_reason,omitempty"`
	TokensIn        int64         `json:"tokens_in"`
	TokensOut       int64         `json:"tokens_out"`
	CostUSD         float64       `json:"cost_usd"`
	Output          string        `json:"output,omitempty"`
	Error           string        `json:"error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// StartRequest holds the fields needed to start a new session.
type StartRequest struct {
	ChainSlug string            `json:"chain_slug"`
	UserID    string            `json:"user_id"`
	Trigger   Trigger           `json:"trigger,omitempty"`
	Input     string            `json:"input"`
	Params    map[string]string `json:"params,omitempty"`
}

// validTriggers enumerates all externally accepted triggers.
var validTriggers = map[Trigger]bool{
	TriggerChat:      true,
	TriggerScheduled: true,
	TriggerRunNow:    true,
}

// Validate checks that a StartRequest has all required fields.
func (r *StartRequest) Validate() error {
	if r.ChainSlug == "" {
		return fmt.Errorf("chain_slug is required: %w", domain.ErrValidation)
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id is required: %w", domain.ErrValidation)
	}
	if r.Input == "" {
		return fmt.Errorf("input is required: %w", domain.ErrValidation)
	}
	if r.Trigger != "" && !validTriggers[r.Trigger] {
		return fmt.Errorf("invalid trigger %q: %w", r.Trigger, domain.ErrValidation)
	}
	return nil
}
