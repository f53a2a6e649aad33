package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/ChainForge/internal/adapter/otel"
	"github.com/Strob0t/ChainForge/internal/adapter/ws"
	"github.com/Strob0t/ChainForge/internal/config"
	"github.com/Strob0t/ChainForge/internal/domain/agent"
	"github.com/Strob0t/ChainForge/internal/domain/chain"
	"github.com/Strob0t/ChainForge/internal/domain/delegation"
	"github.com/Strob0t/ChainForge/internal/domain/session"
	"github.com/Strob0t/ChainForge/internal/domain/settings"
	"github.com/Strob0t/ChainForge/internal/port/broadcast"
	"github.com/Strob0t/ChainForge/internal/port/completion"
	"github.com/Strob0t/ChainForge/internal/port/database"
	"github.com/Strob0t/ChainForge/internal/port/messagequeue"
	"github.com/Strob0t/ChainForge/internal/resilience"
)

// LoopService drives the agent loop: completion, tool dispatch, transcript
// recording, and termination. One Run call owns one session from running to
// terminal.
type LoopService struct {
	store      database.Store
	provider   completion.Provider
	registry   *ToolRegistry
	delegation *DelegationService
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	metrics    *cfotel.Metrics
	cfg        config.Engine
}

// NewLoopService creates a LoopService and attaches itself as the delegation
// runner.
func NewLoopService(store database.Store, provider completion.Provider, registry *ToolRegistry, deleg *DelegationService, queue messagequeue.Queue, hub broadcast.Broadcaster, cfg config.Engine) *LoopService {
	s := &LoopService{
		store:      store,
		provider:   provider,
		registry:   registry,
		delegation: deleg,
		queue:      queue,
		hub:        hub,
		cfg:        cfg,
	}
	if deleg != nil {
		deleg.SetRunner(s)
	}
	return s
}

// SetMetrics attaches metric instruments. Optional; nil disables recording.
func (s *LoopService) SetMetrics(m *cfotel.Metrics) {
	s.metrics = m
}

// loopRun is the resolved configuration for one loop execution.
type loopRun struct {
	sess         *session.Session
	systemPrompt string
	provider     string
	model        string
	temperature  float64
	toolNames    []string
	canDelegate  bool
	canConsult   bool
	advisory     bool
	members      []string
	memoryWindow int
	maxIter      int
	timeout      time.Duration
	snap         settings.Snapshot
}

// loopOutcome is what a finished loop reports back to its caller.
type loopOutcome struct {
	output    string
	artifacts []string
	toolsUsed []string
	status    session.Status
	reason    session.FailureReason
	errMsg    string
}

// RunChain executes a top-level session against its chain definition using
// the settings snapshot taken at session start. The session row must already
// exist with status running. RunChain always records a terminal status before
// returning; the returned error reports infrastructure faults only.
func (s *LoopService) RunChain(ctx context.Context, sess *session.Session, ch *chain.Chain, input string, snap settings.Snapshot) error {
	tools, canDelegate, canConsult := pseudoToolGrants(ch.Tools, ch.Handler == chain.HandlerTeam)
	lr := loopRun{
		sess:         sess,
		systemPrompt: ch.SystemPrompt,
		provider:     ch.Provider,
		model:        ch.Model,
		temperature:  ch.Exec.Temperature,
		toolNames:    tools,
		canDelegate:  canDelegate,
		canConsult:   canConsult,
		members:      ch.Members,
		memoryWindow: ch.Exec.MemoryWindow,
		maxIter:      orDefault(ch.Exec.MaxIterations, snap.DefaultMaxIterations),
		timeout:      orDefaultDuration(time.Duration(ch.Exec.TimeoutSeconds)*time.Second, snap.DefaultTimeout),
		snap:         snap,
	}
	_, err := s.execute(ctx, lr, input)
	return err
}

// RunSubAgent implements SubAgentRunner: it drives a delegated sub-session to
// completion with the agent definition's tool set and prompt, under the same
// settings snapshot as the parent session. An agent without a provider or
// model override inherits the delegating session's effective one, and an
// agent whose tool set carries the delegation pseudo-tools may delegate
// onward itself, up to the depth cap.
func (s *LoopService) RunSubAgent(ctx context.Context, sub *session.Session, def *agent.Definition, snap settings.Snapshot, defaults delegation.Defaults, task string, consult bool) (*delegation.SubAgentResult, error) {
	toolNames := def.ToolSet(s.registry.CoreNames())
	if consult {
		toolNames = withoutSideEffectTools(toolNames)
	}
	toolNames, canDelegate, canConsult := pseudoToolGrants(toolNames, false)

	lr := loopRun{
		sess:         sub,
		systemPrompt: subAgentPrompt(def, consult),
		provider:     orDefaultString(def.Provider, defaults.Provider),
		model:        orDefaultString(def.Model, defaults.Model),
		toolNames:    toolNames,
		canDelegate:  canDelegate,
		canConsult:   canConsult,
		advisory:     consult,
		maxIter:      snap.DefaultMaxIterations,
		timeout:      snap.DefaultTimeout,
		snap:         snap,
	}

	outcome, err := s.execute(ctx, lr, task)
	if err != nil {
		return nil, err
	}
	return &delegation.SubAgentResult{
		Success:   outcome.status == session.StatusCompleted,
		Response:  outcome.output,
		ToolsUsed: outcome.toolsUsed,
		Artifacts: outcome.artifacts,
		Error:     outcome.errMsg,
	}, nil
}

// execute is the loop proper. It appends transcript steps, accumulates usage,
// and writes the terminal session status.
func (s *LoopService) execute(ctx context.Context, lr loopRun, input string) (*loopOutcome, error) {
	ctx, span := cfotel.StartSessionSpan(ctx, lr.sess.ID, lr.sess.ChainSlug, lr.sess.Depth)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, lr.timeout)
	defer cancel()

	messages := []completion.Message{
		{Role: completion.RoleSystem, Content: lr.systemPrompt},
		{Role: completion.RoleUser, Content: input},
	}
	guard := session.NewRepetitionGuard(lr.snap.RepetitionThreshold)
	sctx := &SessionContext{
		SessionID:      lr.sess.ID,
		UserID:         lr.sess.UserID,
		AgentID:        lr.sess.AgentID,
		Depth:          lr.sess.Depth,
		Advisory:       lr.advisory,
		ResultMaxChars: lr.snap.ToolResultMaxChars,
	}

	outcome := &loopOutcome{}
	var tokensIn, tokensOut int64
	var costUSD float64
	toolsSeen := make(map[string]bool)

	schemas := s.registry.Schemas(lr.toolNames)
	if lr.canDelegate {
		schemas = append(schemas, delegateSchema(lr.members))
	}
	if lr.canConsult {
		schemas = append(schemas, consultSchema(lr.members))
	}

	for iteration := 1; ; iteration++ {
		if iteration > lr.maxIter {
			return s.finish(ctx, lr, outcome, session.StatusFailed, session.ReasonBudgetExceeded,
				fmt.Sprintf("iteration cap %d reached", lr.maxIter))
		}

		action, err := s.complete(ctx, lr, iteration, completion.Request{
			Provider:    lr.provider,
			Model:       lr.model,
			Temperature: lr.temperature,
			Messages:    windowed(messages, lr.memoryWindow),
			Tools:       schemas,
		})
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				return s.finish(ctx, lr, outcome, session.StatusFailed, session.ReasonBudgetExceeded,
					fmt.Sprintf("wall clock budget %s exceeded", lr.timeout))
			case errors.Is(err, context.Canceled):
				return s.finish(ctx, lr, outcome, session.StatusCancelled, "", "cancelled")
			default:
				span.SetStatus(codes.Error, err.Error())
				return s.finish(ctx, lr, outcome, session.StatusFailed, session.ReasonProviderError, err.Error())
			}
		}

		tokensIn += action.Usage.TokensIn
		tokensOut += action.Usage.TokensOut
		costUSD += action.Usage.CostUSD
		if err := s.store.UpdateSessionProgress(ctx, lr.sess.ID, iteration, tokensIn, tokensOut, costUSD); err != nil {
			slog.Warn("session progress update failed", "session", lr.sess.ID, "error", err)
		}

		if action.ToolCall == nil {
			outcome.output = action.FinalText
			s.appendStep(ctx, lr.sess, iteration, session.StepFinal, "", "", action.FinalText, false)
			span.SetAttributes(
				attribute.Int("session.iterations", iteration),
				attribute.Float64("session.cost_usd", costUSD),
			)
			return s.finish(ctx, lr, outcome, session.StatusCompleted, "", "")
		}

		call := action.ToolCall
		argsText := string(call.Args)
		if !toolsSeen[call.Name] {
			toolsSeen[call.Name] = true
			outcome.toolsUsed = append(outcome.toolsUsed, call.Name)
		}
		s.appendStep(ctx, lr.sess, iteration, session.StepToolCall, call.Name, argsText, "", false)

		result := s.dispatch(ctx, lr, sctx, call)
		outcome.artifacts = append(outcome.artifacts, result.Artifacts...)
		s.appendStep(ctx, lr.sess, iteration, session.StepToolResult, call.Name, "", result.Output, result.Truncated)

		messages = append(messages,
			completion.Message{Role: completion.RoleAssistant, Content: fmt.Sprintf("Calling tool %s with arguments: %s", call.Name, argsText)},
			completion.Message{Role: completion.RoleTool, Content: result.Output, ToolCallID: call.ID, ToolName: call.Name},
		)

		switch guard.RecordCall(call.Name, argsText, result.Output) {
		case session.GuardWarn:
			note := fmt.Sprintf("You have called %s with the same arguments %d times and the result is not changing. Change your approach or give your final answer.", call.Name, lr.snap.RepetitionThreshold)
			s.appendStep(ctx, lr.sess, iteration, session.StepSystemNote, "", "", note, false)
			messages = append(messages, completion.Message{Role: completion.RoleSystem, Content: note})
		case session.GuardTerminate:
			return s.finish(ctx, lr, outcome, session.StatusFailed, session.ReasonRepetitionExceeded,
				fmt.Sprintf("tool %s repeated past the warning", call.Name))
		}
	}
}

// complete streams one provider turn, forwarding text fragments to connected
// clients. Partial fragments never advance the loop; only the terminal action
// does. Transient provider failures are retried.
func (s *LoopService) complete(ctx context.Context, lr loopRun, iteration int, req completion.Request) (*completion.Action, error) {
	var action *completion.Action
	attempts := s.cfg.ProviderRetries
	if attempts < 1 {
		attempts = 1
	}

	err := resilience.Retry(ctx, attempts, time.Second, func(ctx context.Context) error {
		a, err := s.provider.Stream(ctx, req, func(d completion.Delta) {
			if d.Terminal || d.Text == "" {
				return
			}
			s.hub.BroadcastEvent(ctx, ws.EventSessionOutput, ws.SessionOutputEvent{
				SessionID: lr.sess.ID,
				Iteration: iteration,
				Text:      d.Text,
			})
		})
		if err != nil {
			return err
		}
		action = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// dispatch routes a tool call either to the registry or, when the run exposes
// them, to the delegation pseudo-tools.
func (s *LoopService) dispatch(ctx context.Context, lr loopRun, sctx *SessionContext, call *completion.ToolCall) ToolResult {
	if (lr.canDelegate && call.Name == ToolDelegate) || (lr.canConsult && call.Name == ToolConsult) {
		return s.dispatchDelegation(ctx, lr, call)
	}

	_, span := cfotel.StartToolCallSpan(ctx, lr.sess.ID, call.Name)
	result := s.registry.Invoke(ctx, call.Name, call.Args, sctx)
	span.SetAttributes(attribute.Bool("tool.error", result.IsError))
	span.End()

	if s.metrics != nil {
		s.metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", call.Name)))
	}
	return result
}

func (s *LoopService) dispatchDelegation(ctx context.Context, lr loopRun, call *completion.ToolCall) ToolResult {
	var args struct {
		AgentID string `json:"agent_id"`
		Task    string `json:"task"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil || args.AgentID == "" || args.Task == "" {
		return ToolResult{Output: "tool error: agent_id and task are required", IsError: true}
	}
	if len(lr.members) > 0 && !contains(lr.members, args.AgentID) {
		return ToolResult{Output: fmt.Sprintf("tool error: agent %q is not a member of this team", args.AgentID), IsError: true}
	}

	_, span := cfotel.StartDelegationSpan(ctx, lr.sess.ID, args.AgentID, call.Name)
	defer span.End()
	if s.metrics != nil {
		s.metrics.Delegations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent", args.AgentID),
			attribute.String("mode", call.Name),
		))
	}

	var (
		res *delegation.SubAgentResult
		err error
	)
	defaults := delegation.Defaults{Provider: lr.provider, Model: lr.model}
	if call.Name == ToolConsult {
		res, err = s.delegation.Consult(ctx, lr.sess, lr.snap, defaults, args.AgentID, args.Task)
	} else {
		res, err = s.delegation.Delegate(ctx, lr.sess, lr.snap, defaults, args.AgentID, args.Task)
	}
	if err != nil {
		return ToolResult{Output: fmt.Sprintf("tool error: %v", err), IsError: true}
	}
	if !res.Success {
		return ToolResult{Output: fmt.Sprintf("tool error: %s", res.Error), IsError: true}
	}

	output := res.Response
	if len(res.Artifacts) > 0 {
		output += fmt.Sprintf("\n\nArtifacts produced: %s", strings.Join(res.Artifacts, ", "))
	}
	return ToolResult{Output: output, Artifacts: res.Artifacts}
}

// finish records the terminal status, announces it, and returns the outcome.
func (s *LoopService) finish(ctx context.Context, lr loopRun, outcome *loopOutcome, status session.Status, reason session.FailureReason, errMsg string) (*loopOutcome, error) {
	outcome.status = status
	outcome.reason = reason
	outcome.errMsg = errMsg

	// The write must survive loop context cancellation.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.store.CompleteSession(writeCtx, lr.sess.ID, status, reason, outcome.output, errMsg); err != nil {
		return outcome, fmt.Errorf("complete session %s: %w", lr.sess.ID, err)
	}

	slog.Info("session finished",
		"session", lr.sess.ID, "chain", lr.sess.ChainSlug, "status", status, "reason", reason, "depth", lr.sess.Depth)

	if s.metrics != nil {
		switch status {
		case session.StatusCompleted:
			s.metrics.SessionsCompleted.Add(writeCtx, 1)
		case session.StatusFailed:
			s.metrics.SessionsFailed.Add(writeCtx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
		}
	}

	s.hub.BroadcastEvent(writeCtx, ws.EventSessionStatus, ws.SessionStatusEvent{
		SessionID: lr.sess.ID,
		ChainSlug: lr.sess.ChainSlug,
		UserID:    lr.sess.UserID,
		Status:    string(status),
		Reason:    string(reason),
	})
	payload, _ := json.Marshal(messagequeue.SessionLifecyclePayload{
		SessionID: lr.sess.ID,
		ChainSlug: lr.sess.ChainSlug,
		UserID:    lr.sess.UserID,
		Status:    string(status),
		Reason:    string(reason),
	})
	if err := s.queue.Publish(writeCtx, messagequeue.SubjectSessionCompleted, payload); err != nil {
		slog.Warn("session lifecycle publish failed", "session", lr.sess.ID, "error", err)
	}
	return outcome, nil
}

func (s *LoopService) appendStep(ctx context.Context, sess *session.Session, iteration int, kind session.StepKind, tool, args, content string, truncated bool) {
	step := &session.Step{
		SessionID: sess.ID,
		Iteration: iteration,
		Kind:      kind,
		Tool:      tool,
		Args:      args,
		Content:   content,
		Truncated: truncated,
	}
	if err := s.store.AppendStep(ctx, step); err != nil {
		slog.Warn("transcript append failed", "session", sess.ID, "kind", kind, "error", err)
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventSessionStep, ws.SessionStepEvent{
		SessionID: sess.ID,
		Iteration: iteration,
		Kind:      string(kind),
		Tool:      tool,
	})
}

// windowed keeps the system prompt and first user message, plus the most
// recent window entries. Zero means no windowing.
func windowed(messages []completion.Message, window int) []completion.Message {
	if window <= 0 || len(messages) <= window+2 {
		return messages
	}
	head := messages[:2]
	tail := messages[len(messages)-window:]
	out := make([]completion.Message, 0, len(head)+len(tail))
	out = append(out, head...)
	return append(out, tail...)
}

// pseudoToolGrants splits the delegation pseudo-tools out of a tool list.
// Team chains get both regardless; any other run gets the ones its tool set
// names. The returned list is what the registry serves, since the pseudo-tools
// are dispatched by the loop itself.
func pseudoToolGrants(names []string, team bool) (domainTools []string, delegate, consult bool) {
	delegate, consult = team, team
	domainTools = make([]string, 0, len(names))
	for _, n := range names {
		switch n {
		case ToolDelegate:
			delegate = true
		case ToolConsult:
			consult = true
		default:
			domainTools = append(domainTools, n)
		}
	}
	return domainTools, delegate, consult
}

// withoutSideEffectTools strips tools a consulted agent must not have: it
// advises, it does not produce artifacts or run code.
func withoutSideEffectTools(names []string) []string {
	blocked := map[string]bool{
		ToolWriteFile:   true,
		ToolExecuteCode: true,
		ToolDelegate:    true,
		ToolConsult:     true,
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !blocked[n] {
			out = append(out, n)
		}
	}
	return out
}

func subAgentPrompt(def *agent.Definition, consult bool) string {
	prompt := def.SystemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are %s. %s", def.Name, def.Role)
	}
	if consult {
		prompt += "\n\nYou are being consulted for your expertise. Answer the question directly; do not produce files or artifacts."
	}
	return prompt
}

func delegateSchema(members []string) completion.ToolSchema {
	return pseudoToolSchema(ToolDelegate,
		"Hands a task to a specialist team member and returns their full result.", members)
}

func consultSchema(members []string) completion.ToolSchema {
	return pseudoToolSchema(ToolConsult,
		"Asks a specialist team member for advice without giving them side-effecting tools.", members)
}

func pseudoToolSchema(name, description string, members []string) completion.ToolSchema {
	agentDesc := "Id of the agent to involve."
	if len(members) > 0 {
		agentDesc += " One of: " + strings.Join(members, ", ") + "."
	}
	return completion.ToolSchema{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent_id": map[string]any{"type": "string", "description": agentDesc},
				"task":     map[string]any{"type": "string", "description": "The task or question."},
			},
			"required": []string{"agent_id", "task"},
		},
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
