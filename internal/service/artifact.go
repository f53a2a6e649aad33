package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ChainForge/internal/adapter/ws"
	"github.com/Strob0t/ChainForge/internal/domain/artifact"
	"github.com/Strob0t/ChainForge/internal/port/broadcast"
	"github.com/Strob0t/ChainForge/internal/port/database"
	"github.com/Strob0t/ChainForge/internal/port/messagequeue"
	"github.com/Strob0t/ChainForge/internal/port/objectstore"
)

// ArtifactService stores artifact content in the object store and metadata
// in the database, maintaining the per-lineage single-latest invariant.
type ArtifactService struct {
	store   database.Store
	objects objectstore.Store
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
}

// NewArtifactService creates an ArtifactService.
func NewArtifactService(store database.Store, objects objectstore.Store, queue messagequeue.Queue, hub broadcast.Broadcaster) *ArtifactService {
	return &ArtifactService{store: store, objects: objects, queue: queue, hub: hub}
}

// Create stores a brand-new artifact as version 1 of a fresh lineage.
func (s *ArtifactService) Create(ctx context.Context, req artifact.CreateRequest) (*artifact.Artifact, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	a := &artifact.Artifact{
		ID:        artifact.NewID(req.Type),
		Type:      req.Type,
		Name:      req.Name,
		SizeBytes: int64(len(req.Content)),
		MimeType:  req.MimeType,
		SessionID: req.SessionID,
		AgentID:   req.AgentID,
		Tool:      req.Tool,
		Source:    req.Source,
		Metadata:  req.Metadata,
		Status:    artifact.StatusActive,
	}

	path, err := s.objects.Put(ctx, storageKey(a), req.Content)
	if err != nil {
		return nil, fmt.Errorf("store artifact content: %w", err)
	}
	a.StoragePath = path

	if err := s.store.CreateArtifact(ctx, a); err != nil {
		// Best-effort blob cleanup; the row is the source of truth.
		_ = s.objects.Delete(ctx, path)
		return nil, err
	}

	s.announce(ctx, a)
	return a, nil
}

// CreateVersion stores new content as the next version of an existing
// lineage. The version number and latest flip are decided transactionally;
// a failure here is never retried.
func (s *ArtifactService) CreateVersion(ctx context.Context, lineageID string, req artifact.CreateRequest) (*artifact.Artifact, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	prior, err := s.store.GetArtifact(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	root := prior.LineageRoot()

	a := &artifact.Artifact{
		ID:        artifact.NewID(req.Type),
		Type:      req.Type,
		Name:      req.Name,
		SizeBytes: int64(len(req.Content)),
		MimeType:  req.MimeType,
		SessionID: req.SessionID,
		AgentID:   req.AgentID,
		Tool:      req.Tool,
		Source:    req.Source,
		Metadata:  req.Metadata,
		Status:    artifact.StatusActive,
	}

	path, err := s.objects.Put(ctx, storageKey(a), req.Content)
	if err != nil {
		return nil, fmt.Errorf("store artifact content: %w", err)
	}
	a.StoragePath = path

	if err := s.store.CreateArtifactVersion(ctx, root, a); err != nil {
		_ = s.objects.Delete(ctx, path)
		return nil, err
	}

	s.announce(ctx, a)
	return a, nil
}

// Get returns artifact metadata and bumps accessed_at best-effort.
func (s *ArtifactService) Get(ctx context.Context, id string) (*artifact.Artifact, error) {
	a, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}

	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.TouchArtifact(touchCtx, id, time.Now()); err != nil {
			slog.Debug("artifact touch failed", "artifact", id, "error", err)
		}
	}()

	return a, nil
}

// GetContent returns the artifact's raw bytes together with its metadata.
func (s *ArtifactService) GetContent(ctx context.Context, id string) (*artifact.Artifact, []byte, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.objects.Get(ctx, a.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact %s content: %w", id, err)
	}
	return a, data, nil
}

// List returns artifacts matching the filter.
func (s *ArtifactService) List(ctx context.Context, filter artifact.ListFilter) ([]artifact.Artifact, error) {
	return s.store.ListArtifacts(ctx, filter)
}

// Lineage returns all versions in the artifact's lineage, oldest first.
func (s *ArtifactService) Lineage(ctx context.Context, id string) ([]artifact.Artifact, error) {
	a, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListArtifactLineage(ctx, a.LineageRoot())
}

// SoftDelete marks the artifact deleted; the blob stays for recovery.
func (s *ArtifactService) SoftDelete(ctx context.Context, id string) error {
	return s.store.DeleteArtifact(ctx, id)
}

// HardDelete removes both the row's content blob and marks the row deleted.
func (s *ArtifactService) HardDelete(ctx context.Context, id string) error {
	a, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteArtifact(ctx, id); err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, a.StoragePath); err != nil {
		slog.Warn("artifact blob delete failed", "artifact", id, "error", err)
	}
	return nil
}

// announce publishes artifact creation to NATS and the WS hub.
func (s *ArtifactService) announce(ctx context.Context, a *artifact.Artifact) {
	if s.queue != nil {
		payload, err := json.Marshal(messagequeue.ArtifactCreatedPayload{
			ArtifactID: a.ID,
			SessionID:  a.SessionID,
			Type:       string(a.Type),
			Version:    a.Version,
		})
		if err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectArtifactCreated, payload); err != nil {
				slog.Warn("artifact event publish failed", "artifact", a.ID, "error", err)
			}
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventArtifactCreated, ws.ArtifactCreatedEvent{
			ArtifactID: a.ID,
			SessionID:  a.SessionID,
			Type:       string(a.Type),
			Name:       a.Name,
			Version:    a.Version,
		})
	}
}

// storageKey lays content out by type and id so the filesystem stays browsable.
func storageKey(a *artifact.Artifact) string {
	return fmt.Sprintf("%s/%s", a.Type, a.ID)
}
