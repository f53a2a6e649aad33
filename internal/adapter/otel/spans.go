package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chainforge"

// StartSessionSpan starts a span for a session execution.
func StartSessionSpan(ctx context.Context, sessionID, chainSlug string, depth int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("chain.slug", chainSlug),
			attribute.Int("session.depth", depth),
		),
	)
}

// StartToolCallSpan starts a span for a tool call within a session.
func StartToolCallSpan(ctx context.Context, sessionID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartDelegationSpan starts a span for a delegate or consult call.
func StartDelegationSpan(ctx context.Context, parentSessionID, agentID, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delegation",
		trace.WithAttributes(
			attribute.String("session.parent_id", parentSessionID),
			attribute.String("agent.id", agentID),
			attribute.String("delegation.mode", mode),
		),
	)
}

// StartSandboxExecSpan starts a span for a sandboxed code execution.
func StartSandboxExecSpan(ctx context.Context, userID, language string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sandbox.exec",
		trace.WithAttributes(
			attribute.String("sandbox.user_id", userID),
			attribute.String("sandbox.language", language),
		),
	)
}
