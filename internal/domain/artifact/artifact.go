// Package artifact defines the versioned artifact entity: a durably stored
// output file with lineage and a single-latest invariant.
package artifact

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ChainForge/internal/domain"
)

// Type is the closed set of artifact kinds.
type Type string

const (
	TypeImage        Type = "image"
	TypeVideo        Type = "video"
	TypePresentation Type = "presentation"
	TypeCode         Type = "code"
	TypeDocument     Type = "document"
	TypeHTML         Type = "html"
	TypeAudio        Type = "audio"
	TypeFile         Type = "file"
	TypeSpreadsheet  Type = "spreadsheet"
)

// validTypes enumerates all valid artifact types.
var validTypes = map[Type]bool{
	TypeImage: true, TypeVideo: true, TypePresentation: true,
	TypeCode: true, TypeDocument: true, TypeHTML: true,
	TypeAudio: true, TypeFile: true, TypeSpreadsheet: true,
}

// ValidType reports whether t is a known artifact type.
func ValidType(t string) bool {
	return validTypes[Type(t)]
}

// Source identifies how an artifact came into existence.
type Source string

const (
	SourceToolExecution Source = "tool_execution"
	SourceUserUpload    Source = "user_upload"
	SourceCodeExecution Source = "code_execution"
	SourceImported      Source = "imported"
)

// Status is the artifact lifecycle state. Deletes are soft by default.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Artifact is a generated or uploaded file. Rows sharing a lineage (linked by
// ParentID to the lineage root) carry strictly increasing versions, and
// exactly one row per lineage has IsLatest=true at any time.
type Artifact struct {
	ID          string          `json:"id"` // External-facing: art_<type>_<random>
	Type        Type            `json:"type"`
	Name        string          `json:"name"`
	StoragePath string          `json:"storage_path"`
	SizeBytes   int64           `json:"size_bytes"`
	MimeType    string          `json:"mime_type"`
	SessionID   string          `json:"session_id,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
	Tool        string          `json:"tool,omitempty"`
	Source      Source          `json:"source"`
	Metadata    json.RawMessage `json:"metadata,omitempty"` // Per-type structured metadata
	Version     int             `json:"version"`
	IsLatest    bool            `json:"is_latest"`
	ParentID    string          `json:"parent_id,omitempty"` // Lineage root; empty for version 1
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	AccessedAt  time.Time       `json:"accessed_at"`
}

// LineageRoot returns the id identifying this artifact's lineage.
func (a *Artifact) LineageRoot() string {
	if a.ParentID != "" {
		return a.ParentID
	}
	return a.ID
}

// NewID generates an external-facing artifact id with a human-legible type
// prefix and a random suffix, e.g. "art_image_1f2e3d4c5b6a".
func NewID(t Type) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("art_%s_%s", t, suffix)
}

// CreateRequest holds the fields needed to record a new artifact.
type CreateRequest struct {
	Type      Type            `json:"type"`
	Name      string          `json:"name"`
	MimeType  string          `json:"mime_type"`
	SessionID string          `json:"session_id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Source    Source          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Content   []byte          `json:"-"`
}

// validSources enumerates all valid artifact sources.
var validSources = map[Source]bool{
	SourceToolExecution: true,
	SourceUserUpload:    true,
	SourceCodeExecution: true,
	SourceImported:      true,
}

// Validate checks that a CreateRequest has all required fields and valid values.
func (r *CreateRequest) Validate() error {
	if !validTypes[r.Type] {
		return fmt.Errorf("invalid artifact type %q: %w", r.Type, domain.ErrValidation)
	}
	if r.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if !validSources[r.Source] {
		return fmt.Errorf("invalid source %q: %w", r.Source, domain.ErrValidation)
	}
	if len(r.Content) == 0 {
		return fmt.Errorf("content is required: %w", domain.ErrValidation)
	}
	return nil
}

// ListFilter narrows artifact listings.
type ListFilter struct {
	SessionID  string
	AgentID    string
	Type       Type
	Source     Source
	LatestOnly bool
	Limit      int
}
