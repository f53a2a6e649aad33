package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ChainForge/internal/domain"
	"github.com/Strob0t/ChainForge/internal/domain/agent"
	"github.com/Strob0t/ChainForge/internal/port/database"
)

// AgentService manages the sub-agent registry that delegation targets.
type AgentService struct {
	store database.Store
}

// NewAgentService creates an AgentService.
func NewAgentService(store database.Store) *AgentService {
	return &AgentService{store: store}
}

// List returns all agent definitions.
func (s *AgentService) List(ctx context.Context) ([]agent.Definition, error) {
	return s.store.ListAgents(ctx)
}

// Get returns one agent definition by id.
func (s *AgentService) Get(ctx context.Context, id string) (*agent.Definition, error) {
	return s.store.GetAgent(ctx, id)
}

// Upsert creates or updates an agent definition, appending a version snapshot.
func (s *AgentService) Upsert(ctx context.Context, req agent.UpsertRequest) (*agent.Definition, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	d := &agent.Definition{
		ID:             req.ID,
		Name:           req.Name,
		Role:           req.Role,
		DomainTools:    req.DomainTools,
		InheritCore:    req.InheritCore,
		CoreExclusions: req.CoreExclusions,
		Enabled:        enabled,
		Provider:       req.Provider,
		Model:          req.Model,
		SystemPrompt:   req.SystemPrompt,
	}

	saved, err := s.store.UpsertAgent(ctx, d, req.Author, req.Reason)
	if err != nil {
		return nil, err
	}
	slog.Info("agent saved", "agent", saved.ID, "version", saved.Version, "author", req.Author)
	return saved, nil
}

// Versions returns the version history of an agent, newest first.
func (s *AgentService) Versions(ctx context.Context, id string) ([]agent.Version, error) {
	if _, err := s.store.GetAgent(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAgentVersions(ctx, id)
}

// Rollback restores an agent to an earlier version by writing its snapshot as
// a new version.
func (s *AgentService) Rollback(ctx context.Context, id string, number int, author string) (*agent.Definition, error) {
	versions, err := s.store.ListAgentVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	var snapshot json.RawMessage
	for _, v := range versions {
		if v.Number == number {
			snapshot = v.Snapshot
			break
		}
	}
	if snapshot == nil {
		return nil, fmt.Errorf("agent version %s@%d: %w", id, number, domain.ErrNotFound)
	}

	var d agent.Definition
	if err := json.Unmarshal(snapshot, &d); err != nil {
		return nil, fmt.Errorf("decode agent snapshot %s@%d: %w", id, number, err)
	}
	d.ID = id

	saved, err := s.store.UpsertAgent(ctx, &d, author, fmt.Sprintf("rollback to version %d", number))
	if err != nil {
		return nil, err
	}
	slog.Info("agent rolled back", "agent", id, "to_version", number, "new_version", saved.Version)
	return saved, nil
}
