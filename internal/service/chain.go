package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ChainForge/internal/domain"
	"github.com/Strob0t/ChainForge/internal/domain/chain"
	"github.com/Strob0t/ChainForge/internal/port/database"
)

// ChainService manages chain definitions and their version history.
type ChainService struct {
	store database.Store
}

// NewChainService creates a ChainService.
func NewChainService(store database.Store) *ChainService {
	return &ChainService{store: store}
}

// List returns all chain definitions.
func (s *ChainService) List(ctx context.Context) ([]chain.Chain, error) {
	return s.store.ListChains(ctx)
}

// Get returns one chain by slug.
func (s *ChainService) Get(ctx context.Context, slug string) (*chain.Chain, error) {
	return s.store.GetChain(ctx, slug)
}

// Upsert creates or updates a chain. Every write appends an immutable version
// snapshot; the version number increments on each change.
func (s *ChainService) Upsert(ctx context.Context, req chain.UpsertRequest) (*chain.Chain, error) {
	if err := validateChainRequest(&req); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	c := &chain.Chain{
		Slug:         req.Slug,
		Name:         req.Name,
		Handler:      req.Handler,
		SystemPrompt: req.SystemPrompt,
		Tools:        req.Tools,
		Members:      req.Members,
		Provider:     req.Provider,
		Model:        req.Model,
		Exec:         req.Exec,
		Enabled:      enabled,
	}

	saved, err := s.store.UpsertChain(ctx, c, req.Author, req.Reason)
	if err != nil {
		return nil, err
	}
	slog.Info("chain saved", "chain", saved.Slug, "version", saved.Version, "author", req.Author)
	return saved, nil
}

// Versions returns the version history of a chain, newest first.
func (s *ChainService) Versions(ctx context.Context, slug string) ([]chain.Version, error) {
	if _, err := s.store.GetChain(ctx, slug); err != nil {
		return nil, err
	}
	return s.store.ListChainVersions(ctx, slug)
}

// Rollback restores the chain to an earlier version by writing its snapshot
// as a new version. History is never rewritten.
func (s *ChainService) Rollback(ctx context.Context, slug string, number int, author string) (*chain.Chain, error) {
	v, err := s.store.GetChainVersion(ctx, slug, number)
	if err != nil {
		return nil, fmt.Errorf("resolve chain version %s@%d: %w", slug, number, err)
	}

	var c chain.Chain
	if err := json.Unmarshal(v.Snapshot, &c); err != nil {
		return nil, fmt.Errorf("decode chain snapshot %s@%d: %w", slug, number, err)
	}
	c.Slug = slug

	saved, err := s.store.UpsertChain(ctx, &c, author, fmt.Sprintf("rollback to version %d", number))
	if err != nil {
		return nil, err
	}
	slog.Info("chain rolled back", "chain", slug, "to_version", number, "new_version", saved.Version)
	return saved, nil
}

func validateChainRequest(req *chain.UpsertRequest) error {
	if req.Slug == "" {
		return fmt.Errorf("slug is required: %w", domain.ErrValidation)
	}
	if req.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	switch req.Handler {
	case chain.HandlerAdaptive:
		if len(req.Members) > 0 {
			return fmt.Errorf("adaptive chains cannot have members: %w", domain.ErrValidation)
		}
	case chain.HandlerTeam:
		if len(req.Members) == 0 {
			return fmt.Errorf("team chains need at least one member: %w", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown handler %q: %w", req.Handler, domain.ErrValidation)
	}
	return nil
}
