// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrAgentDisabled indicates a delegation target exists but is disabled.
var ErrAgentDisabled = errors.New("agent is disabled")

// ErrBudgetExceeded indicates a session exhausted its iteration or time budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrRepetitionExceeded indicates the loop kept invoking the same tool with
// unchanged arguments past the configured threshold.
var ErrRepetitionExceeded = errors.New("repetition exceeded")

// ErrDelegationDepth indicates a delegation chain exceeded the depth cap.
var ErrDelegationDepth = errors.New("delegation depth exceeded")
