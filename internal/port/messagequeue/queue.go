// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by ChainForge.
const (
	SubjectSessionStarted   = "sessions.started"
	SubjectSessionCompleted = "sessions.completed" // Terminal status reached (any of the three)
	SubjectSessionOutput    = "sessions.output"    // Streaming deltas for external consumers
	SubjectTriggerFire      = "triggers.fire"      // Scheduled/cron trigger requesting StartSession
	SubjectArtifactCreated  = "artifacts.created"
	SubjectSandboxReaped    = "sandboxes.reaped"
)

// TriggerFirePayload is published by an external scheduler to start a session.
type TriggerFirePayload struct {
	ChainSlug string            `json:"chain_slug"`
	UserID    string            `json:"user_id"`
	Input     string            `json:"input"`
	Params    map[string]string `json:"params,omitempty"`
}

// SessionLifecyclePayload announces a session status change.
type SessionLifecyclePayload struct {
	SessionID string `json:"session_id"`
	ChainSlug string `json:"chain_slug"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// SessionOutputPayload carries one streamed fragment of session output.
type SessionOutputPayload struct {
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`
	Text      string `json:"text"`
}

// ArtifactCreatedPayload announces a new artifact version.
type ArtifactCreatedPayload struct {
	ArtifactID string `json:"artifact_id"`
	SessionID  string `json:"session_id,omitempty"`
	Type       string `json:"type"`
	Version    int    `json:"version"`
}
