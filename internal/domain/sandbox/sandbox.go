// Package sandbox defines the per-user isolated execution environment entity.
package sandbox

import (
	"time"

	"github.com/Strob0t/ChainForge/internal/domain/resource"
)

// Status is the sandbox lifecycle state.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusRemoved Status = "removed"
	StatusError   Status = "error"
)

// IsLive reports whether the sandbox still owns an underlying environment.
// A live sandbox must be reused by Acquire rather than recreated.
func (s Status) IsLive() bool {
	return s == StatusCreated || s == StatusRunning || s == StatusStopped
}

// transitions enumerates legal status moves. Error is reachable from
// created and running on provisioning or execution failure.
var transitions = map[Status][]Status{
	StatusCreated: {StatusRunning, StatusRemoved, StatusError},
	StatusRunning: {StatusStopped, StatusRemoved, StatusError},
	StatusStopped: {StatusRunning, StatusRemoved},
	StatusError:   {StatusRemoved},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// UserSandbox is one row per user with an isolated execution environment.
// The user id and container name are both unique; exactly one live sandbox
// per user is permitted.
type UserSandbox struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	ContainerName string          `json:"container_name"`
	ContainerID   string          `json:"container_id,omitempty"`
	Status        Status          `json:"status"`
	Limits        resource.Limits `json:"limits"`
	LastAccessed  time.Time       `json:"last_accessed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ExecutionOutcome classifies how a sandboxed execution ended.
type ExecutionOutcome string

const (
	OutcomeOK               ExecutionOutcome = "ok"
	OutcomeError            ExecutionOutcome = "error"             // Code ran and failed
	OutcomeTimeout          ExecutionOutcome = "timed_out"         // Per-call timeout hit
	OutcomeResourceExceeded ExecutionOutcome = "resource_exceeded" // Memory/CPU ceiling hit
)

// ExecutionResult is the outcome of running code inside a sandbox. Timeouts
// and resource overruns are recoverable tool results, not sandbox failures.
type ExecutionResult struct {
	Outcome  ExecutionOutcome `json:"outcome"`
	Stdout   string           `json:"stdout"`
	Stderr   string           `json:"stderr"`
	ExitCode int              `json:"exit_code"`
	Duration time.Duration    `json:"duration"`
}
