package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ChainForge/internal/domain"
	"github.com/Strob0t/ChainForge/internal/domain/agent"
	"github.com/Strob0t/ChainForge/internal/domain/delegation"
	"github.com/Strob0t/ChainForge/internal/domain/session"
	"github.com/Strob0t/ChainForge/internal/domain/settings"
	"github.com/Strob0t/ChainForge/internal/port/database"
)

// Pseudo-tool names exposed to team chains. They are dispatched by the loop
// itself, not through the tool registry.
const (
	ToolDelegate = "delegate"
	ToolConsult  = "consult_team_member"
)

// SubAgentRunner executes a delegated sub-session to completion and returns
// its result. Implemented by LoopService; injected to break the cycle between
// delegation and the loop.
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, sub *session.Session, def *agent.Definition, snap settings.Snapshot, defaults delegation.Defaults, task string, consult bool) (*delegation.SubAgentResult, error)
}

// DelegationService hands work to registered sub-agents on behalf of a
// running session. Failures surface as unsuccessful results so the
// delegating agent can react; only infrastructure faults return an error.
type DelegationService struct {
	store  database.Store
	runner SubAgentRunner
}

// NewDelegationService creates a DelegationService. The runner is attached
// later via SetRunner once the loop exists.
func NewDelegationService(store database.Store) *DelegationService {
	return &DelegationService{store: store}
}

// SetRunner attaches the sub-session runner.
func (s *DelegationService) SetRunner(r SubAgentRunner) {
	s.runner = r
}

// Delegate runs the named agent on the task and returns its full result,
// including any artifacts it produced. The defaults are the caller's
// effective provider and model, applied when the agent has no override.
func (s *DelegationService) Delegate(ctx context.Context, parent *session.Session, snap settings.Snapshot, defaults delegation.Defaults, agentID, task string) (*delegation.SubAgentResult, error) {
	return s.run(ctx, parent, snap, defaults, agentID, task, false)
}

// Consult runs the named agent in advisory mode: it gets a reduced tool set
// and its result never carries artifacts.
func (s *DelegationService) Consult(ctx context.Context, parent *session.Session, snap settings.Snapshot, defaults delegation.Defaults, agentID, task string) (*delegation.SubAgentResult, error) {
	return s.run(ctx, parent, snap, defaults, agentID, task, true)
}

func (s *DelegationService) run(ctx context.Context, parent *session.Session, snap settings.Snapshot, defaults delegation.Defaults, agentID, task string, consult bool) (*delegation.SubAgentResult, error) {
	if s.runner == nil {
		return nil, fmt.Errorf("delegation runner not attached")
	}
	start := time.Now()

	def, err := s.store.GetAgent(ctx, agentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return failedResult(agentID, start, fmt.Sprintf("unknown agent %q", agentID)), nil
	case err != nil:
		return nil, err
	case !def.Enabled:
		return failedResult(agentID, start, fmt.Sprintf("agent %q is disabled: %v", agentID, domain.ErrAgentDisabled)), nil
	}

	// Depth is counted from the root session by walking parent ids in the
	// store, never from in-memory state.
	depth, err := s.store.SessionDepth(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve delegation depth: %w", err)
	}
	if depth+1 > snap.DelegationDepthCap {
		slog.Warn("delegation depth cap hit",
			"parent_session", parent.ID, "agent", agentID, "depth", depth, "cap", snap.DelegationDepthCap)
		return failedResult(agentID, start,
			fmt.Sprintf("%v: depth %d with cap %d", domain.ErrDelegationDepth, depth+1, snap.DelegationDepthCap)), nil
	}

	sub := &session.Session{
		ChainSlug:       parent.ChainSlug,
		ChainVersion:    parent.ChainVersion,
		AgentID:         def.ID,
		UserID:          parent.UserID,
		ParentSessionID: parent.ID,
		Depth:           depth + 1,
		Trigger:         session.TriggerDelegation,
		Status:          session.StatusRunning,
		StartedAt:       time.Now(),
	}
	if err := s.store.CreateSession(ctx, sub); err != nil {
		return nil, fmt.Errorf("create sub-session: %w", err)
	}

	mode := "delegate"
	if consult {
		mode = "consult"
	}
	slog.Info("sub-agent started",
		"mode", mode, "agent", def.ID, "session", sub.ID, "parent_session", parent.ID, "depth", sub.Depth)

	result, err := s.runner.RunSubAgent(ctx, sub, def, snap, defaults, task, consult)
	if err != nil {
		_ = s.store.CompleteSession(ctx, sub.ID, session.StatusFailed, session.ReasonProviderError, "", err.Error())
		return failedResult(agentID, start, err.Error()), nil
	}
	result.AgentID = def.ID
	result.AgentName = def.Name
	result.SessionID = sub.ID
	result.Duration = time.Since(start)
	if consult {
		// Advisory runs never hand artifacts back to the caller.
		result.Artifacts = nil
	}
	return result, nil
}

func failedResult(agentID string, start time.Time, msg string) *delegation.SubAgentResult {
	return &delegation.SubAgentResult{
		Success:  false,
		AgentID:  agentID,
		Error:    msg,
		Duration: time.Since(start),
	}
}
