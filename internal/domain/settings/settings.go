// Package settings defines the key/value runtime settings surface.
// Values are read at session start and cached for the session's lifetime;
// mid-session changes do not retroactively affect a running session.
package settings

import (
	"encoding/json"
	"time"
)

// Setting is a single runtime-adjustable value stored as JSON.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpdateRequest upserts one or more settings.
type UpdateRequest struct {
	Settings map[string]json.RawMessage `json:"settings"`
}

// Known setting keys.
const (
	KeyToolResultMaxChars   = "tool_result_max_chars"
	KeyRepetitionThreshold  = "repetition_threshold"
	KeySandboxIdleThreshold = "sandbox_idle_threshold_seconds"
	KeyDelegationDepthCap   = "delegation_depth_cap"
	KeyDefaultMaxIterations = "default_max_iterations"
	KeyDefaultTimeout       = "default_timeout_seconds"
	KeyMaxSessionsPerUser   = "max_sessions_per_user"
)

// Snapshot is the engine's view of the settings at session start.
type Snapshot struct {
	ToolResultMaxChars   int           `json:"tool_result_max_chars"`
	RepetitionThreshold  int           `json:"repetition_threshold"`
	SandboxIdleThreshold time.Duration `json:"sandbox_idle_threshold"`
	DelegationDepthCap   int           `json:"delegation_depth_cap"`
	DefaultMaxIterations int           `json:"default_max_iterations"`
	DefaultTimeout       time.Duration `json:"default_timeout"`
	MaxSessionsPerUser   int           `json:"max_sessions_per_user"`
}

// DefaultSnapshot returns the engine defaults used when a key is unset.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		ToolResultMaxChars:   4000,
		RepetitionThreshold:  3,
		SandboxIdleThreshold: 30 * time.Minute,
		DelegationDepthCap:   2,
		DefaultMaxIterations: 10,
		DefaultTimeout:       5 * time.Minute,
		MaxSessionsPerUser:   3,
	}
}

// Apply overlays a stored setting onto the snapshot. Unknown keys and
// malformed values are ignored; the default stays in effect.
func (s *Snapshot) Apply(key string, value json.RawMessage) {
	switch key {
	case KeyToolResultMaxChars:
		applyInt(value, &s.ToolResultMaxChars)
	case KeyRepetitionThreshold:
		applyInt(value, &s.RepetitionThreshold)
	case KeySandboxIdleThreshold:
		applySeconds(value, &s.SandboxIdleThreshold)
	case KeyDelegationDepthCap:
		applyInt(value, &s.DelegationDepthCap)
	case KeyDefaultMaxIterations:
		applyInt(value, &s.DefaultMaxIterations)
	case KeyDefaultTimeout:
		applySeconds(value, &s.DefaultTimeout)
	case KeyMaxSessionsPerUser:
		applyInt(value, &s.MaxSessionsPerUser)
	}
}

func applyInt(raw json.RawMessage, dst *int) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		*dst = n
	}
}

func applySeconds(raw json.RawMessage, dst *time.Duration) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		*dst = time.Duration(n) * time.Second
	}
}
