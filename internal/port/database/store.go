// Package database defines the database store port (interface).
package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Strob0t/ChainForge/internal/domain/agent"
	"github.com/Strob0t/ChainForge/internal/domain/artifact"
	"github.com/Strob0t/ChainForge/internal/domain/chain"
	"github.com/Strob0t/ChainForge/internal/domain/sandbox"
	"github.com/Strob0t/ChainForge/internal/domain/session"
	"github.com/Strob0t/ChainForge/internal/domain/settings"
)

// Store is the port interface for database operations.
type Store interface {
	// Chains
	ListChains(ctx context.Context) ([]chain.Chain, error)
	GetChain(ctx context.Context, slug string) (*chain.Chain, error)
	// UpsertChain writes the chain row and appends a version snapshot in the
	// same transaction. The returned chain carries the new version number.
	UpsertChain(ctx context.Context, c *chain.Chain, author, reason string) (*chain.Chain, error)
	ListChainVersions(ctx context.Context, slug string) ([]chain.Version, error)
	GetChainVersion(ctx context.Context, slug string, number int) (*chain.Version, error)

	// Agent definitions
	ListAgents(ctx context.Context) ([]agent.Definition, error)
	GetAgent(ctx context.Context, id string) (*agent.Definition, error)
	UpsertAgent(ctx context.Context, d *agent.Definition, author, reason string) (*agent.Definition, error)
	ListAgentVersions(ctx context.Context, id string) ([]agent.Version, error)

	// Sessions
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]session.Session, error)
	UpdateSessionProgress(ctx context.Context, id string, iterations int, tokensIn, tokensOut int64, costUSD float64) error
	CompleteSession(ctx context.Context, id string, status session.Status, reason session.FailureReason, output, errMsg string) error
	AppendStep(ctx context.Context, step *session.Step) error
	GetTranscript(ctx context.Context, sessionID string) (*session.Transcript, error)
	// SessionDepth returns the number of delegation hops above the given
	// session by walking parent ids.
	SessionDepth(ctx context.Context, id string) (int, error)

	// Artifacts
	CreateArtifact(ctx context.Context, a *artifact.Artifact) error
	// CreateArtifactVersion inserts the new row with version = max(siblings)+1
	// and is_latest = true, flipping every other lineage member to
	// is_latest = false in the same transaction.
	CreateArtifactVersion(ctx context.Context, lineageRoot string, a *artifact.Artifact) error
	GetArtifact(ctx context.Context, id string) (*artifact.Artifact, error)
	ListArtifacts(ctx context.Context, filter artifact.ListFilter) ([]artifact.Artifact, error)
	ListArtifactLineage(ctx context.Context, lineageRoot string) ([]artifact.Artifact, error)
	TouchArtifact(ctx context.Context, id string, at time.Time) error
	UpdateArtifactStatus(ctx context.Context, id string, status artifact.Status) error
	DeleteArtifact(ctx context.Context, id string) error

	// Sandboxes
	GetSandboxByUser(ctx context.Context, userID string) (*sandbox.UserSandbox, error)
	CreateSandbox(ctx context.Context, sb *sandbox.UserSandbox) error
	UpdateSandboxStatus(ctx context.Context, id string, status sandbox.Status) error
	TouchSandbox(ctx context.Context, id string, at time.Time) error
	ListIdleSandboxes(ctx context.Context, olderThan time.Time) ([]sandbox.UserSandbox, error)

	// Settings
	ListSettings(ctx context.Context) ([]settings.Setting, error)
	GetSetting(ctx context.Context, key string) (*settings.Setting, error)
	UpsertSetting(ctx context.Context, key string, value json.RawMessage) error
}
