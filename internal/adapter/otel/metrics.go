package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "chainforge"

// Metrics holds all ChainForge metric instruments.
type Metrics struct {
	SessionsStarted   metric.Int64Counter
	SessionsCompleted metric.Int64Counter
	SessionsFailed    metric.Int64Counter
	ToolCalls         metric.Int64Counter
	Delegations       metric.Int64Counter
	SandboxExecs      metric.Int64Counter
	SessionDuration   metric.Float64Histogram
	SessionCost       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter("chainforge.sessions.started",
		metric.WithDescription("Number of sessions started"))
	if err != nil {
		return nil, err
	}

	m.SessionsCompleted, err = meter.Int64Counter("chainforge.sessions.completed",
		metric.WithDescription("Number of sessions completed"))
	if err != nil {
		return nil, err
	}

	m.SessionsFailed, err = meter.Int64Counter("chainforge.sessions.failed",
		metric.WithDescription("Number of sessions failed"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("chainforge.toolcalls",
		metric.WithDescription("Number of tool calls"))
	if err != nil {
		return nil, err
	}

	m.Delegations, err = meter.Int64Counter("chainforge.delegations",
		metric.WithDescription("Number of delegate/consult calls"))
	if err != nil {
		return nil, err
	}

	m.SandboxExecs, err = meter.Int64Counter("chainforge.sandbox.execs",
		metric.WithDescription("Number of sandboxed code executions"))
	if err != nil {
		return nil, err
	}

	m.SessionDuration, err = meter.Float64Histogram("chainforge.session.duration_seconds",
		metric.WithDescription("Session duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.SessionCost, err = meter.Float64Histogram("chainforge.session.cost_usd",
		metric.WithDescription("Session cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
