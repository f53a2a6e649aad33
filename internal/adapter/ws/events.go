package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventSessionStatus   = "session.status"
	EventSessionOutput   = "session.output"
	EventSessionStep     = "session.step"
	EventArtifactCreated = "artifact.created"
	EventSandboxStatus   = "sandbox.status"
)

// SessionStatusEvent is broadcast when a session's status changes.
type SessionStatusEvent struct {
	SessionID string `json:"session_id"`
	ChainSlug string `json:"chain_slug"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// SessionOutputEvent is broadcast for each streamed text fragment.
type SessionOutputEvent struct {
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`
	Text      string `json:"text"`
}

// SessionStepEvent is broadcast when a transcript step is recorded, letting
// clients render tool activity as it happens.
type SessionStepEvent struct {
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`
	Kind      string `json:"kind"`
	Tool      string `json:"tool,omitempty"`
}

// ArtifactCreatedEvent is broadcast when a new artifact version is stored.
type ArtifactCreatedEvent struct {
	ArtifactID string `json:"artifact_id"`
	SessionID  string `json:"session_id,omitempty"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	Version    int    `json:"version"`
}

// SandboxStatusEvent is broadcast when a user sandbox changes state.
type SandboxStatusEvent struct {
	SandboxID string `json:"sandbox_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.broadcast(ctx, eventScope(payload), Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// sessionScoped is implemented by events that belong to one session, so the
// hub can route them past clients subscribed to a different one.
type sessionScoped interface {
	sessionScope() string
}

func (e SessionStatusEvent) sessionScope() string   { return e.SessionID }
func (e SessionOutputEvent) sessionScope() string   { return e.SessionID }
func (e SessionStepEvent) sessionScope() string     { return e.SessionID }
func (e ArtifactCreatedEvent) sessionScope() string { return e.SessionID }

// eventScope returns the session an event belongs to, or empty for events all
// clients should see.
func eventScope(payload any) string {
	if s, ok := payload.(sessionScoped); ok {
		return s.sessionScope()
	}
	return ""
}
