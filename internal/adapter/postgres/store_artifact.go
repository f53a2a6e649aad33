package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Strob0t/ChainForge/internal/domain/artifact"
)

const artifactCols = `id, type, name, storage_path, size_bytes, mime_type, session_id, agent_id, tool, source, metadata, version, is_latest, parent_id, status, created_at, updated_at, accessed_at`

func scanArtifact(row scannable) (artifact.Artifact, error) {
	var a artifact.Artifact
	var sessionID, agentID, tool, parentID *string
	err := row.Scan(&a.ID, &a.Type, &a.Name, &a.StoragePath, &a.SizeBytes, &a.MimeType,
		&sessionID, &agentID, &tool, &a.Source, &a.Metadata, &a.Version, &a.IsLatest,
		&parentID, &a.Status, &a.CreatedAt, &a.UpdatedAt, &a.AccessedAt)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if sessionID != nil {
		a.SessionID = *sessionID
	}
	if agentID != nil {
		a.AgentID = *agentID
	}
	if tool != nil {
		a.Tool = *tool
	}
	if parentID != nil {
		a.ParentID = *parentID
	}
	return a, nil
}

func (s *Store) CreateArtifact(ctx context.Context, a *artifact.Artifact) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO artifacts (id, type, name, storage_path, size_bytes, mime_type, session_id, agent_id, tool, source, metadata, version, is_latest, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, true, $12)
		 RETURNING version, is_latest, created_at, updated_at, accessed_at`,
		a.ID, string(a.Type), a.Name, a.StoragePath, a.SizeBytes, a.MimeType,
		nullIfEmpty(a.SessionID), nullIfEmpty(a.AgentID), nullIfEmpty(a.Tool),
		string(a.Source), a.Metadata, string(a.Status)).
		Scan(&a.Version, &a.IsLatest, &a.CreatedAt, &a.UpdatedAt, &a.AccessedAt)
	if err != nil {
		return fmt.Errorf("create artifact %s: %w", a.ID, err)
	}
	return nil
}

// CreateArtifactVersion inserts a new row for an existing lineage. The previous
// latest is flipped off and the new row takes max(version)+1 in one transaction,
// so exactly one row per lineage carries is_latest at any time.
func (s *Store) CreateArtifactVersion(ctx context.Context, lineageRoot string, a *artifact.Artifact) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Lock the lineage rows so concurrent versioning serializes.
	var maxVersion int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM (
		   SELECT version FROM artifacts WHERE id = $1 OR parent_id = $1 FOR UPDATE
		 ) lineage`, lineageRoot).
		Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("lock lineage %s: %w", lineageRoot, err)
	}
	if maxVersion == 0 {
		return notFoundWrap(fmt.Errorf("empty lineage"), "version artifact %s", lineageRoot)
	}

	_, err = tx.Exec(ctx,
		`UPDATE artifacts SET is_latest = false, updated_at = now()
		 WHERE (id = $1 OR parent_id = $1) AND is_latest`, lineageRoot)
	if err != nil {
		return fmt.Errorf("clear latest for %s: %w", lineageRoot, err)
	}

	a.Version = maxVersion + 1
	a.IsLatest = true
	a.ParentID = lineageRoot
	err = tx.QueryRow(ctx,
		`INSERT INTO artifacts (id, type, name, storage_path, size_bytes, mime_type, session_id, agent_id, tool, source, metadata, version, is_latest, parent_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, true, $13, $14)
		 RETURNING created_at, updated_at, accessed_at`,
		a.ID, string(a.Type), a.Name, a.StoragePath, a.SizeBytes, a.MimeType,
		nullIfEmpty(a.SessionID), nullIfEmpty(a.AgentID), nullIfEmpty(a.Tool),
		string(a.Source), a.Metadata, a.Version, lineageRoot, string(a.Status)).
		Scan(&a.CreatedAt, &a.UpdatedAt, &a.AccessedAt)
	if err != nil {
		return fmt.Errorf("insert artifact version %s: %w", a.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit artifact version: %w", err)
	}
	return nil
}

func (s *Store) GetArtifact(ctx context.Context, id string) (*artifact.Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+artifactCols+` FROM artifacts WHERE id = $1`, id)

	a, err := scanArtifact(row)
	if err != nil {
		return nil, notFoundWrap(err, "get artifact %s", id)
	}
	return &a, nil
}

func (s *Store) ListArtifacts(ctx context.Context, filter artifact.ListFilter) ([]artifact.Artifact, error) {
	query := `SELECT ` + artifactCols + ` FROM artifacts WHERE status != 'deleted'`
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		query += " AND " + cond + "$" + strconv.Itoa(len(args))
	}
	if filter.SessionID != "" {
		add("session_id = ", filter.SessionID)
	}
	if filter.AgentID != "" {
		add("agent_id = ", filter.AgentID)
	}
	if filter.Type != "" {
		add("type = ", string(filter.Type))
	}
	if filter.Source != "" {
		add("source = ", string(filter.Source))
	}
	if filter.LatestOnly {
		query += " AND is_latest"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func (s *Store) ListArtifactLineage(ctx context.Context, lineageRoot string) ([]artifact.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+artifactCols+` FROM artifacts
		 WHERE id = $1 OR parent_id = $1 ORDER BY version`, lineageRoot)
	if err != nil {
		return nil, fmt.Errorf("list lineage %s: %w", lineageRoot, err)
	}
	defer rows.Close()

	var artifacts []artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func (s *Store) TouchArtifact(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET accessed_at = $2 WHERE id = $1`, id, at)
	return execExpectOne(tag, err, "touch artifact %s", id)
}

func (s *Store) UpdateArtifactStatus(ctx context.Context, id string, status artifact.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return execExpectOne(tag, err, "update artifact status %s", id)
}

func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET status = 'deleted', updated_at = now() WHERE id = $1 AND status != 'deleted'`, id)
	return execExpectOne(tag, err, "delete artifact %s", id)
}
