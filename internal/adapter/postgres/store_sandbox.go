package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/ChainForge/internal/domain/sandbox"
)

const sandboxCols = `id, user_id, container_name, container_id, status, resource_limits, last_accessed_at, created_at, updated_at`

func scanSandbox(row scannable) (sandbox.UserSandbox, error) {
	var sb sandbox.UserSandbox
	var containerID *string
	var limitsJSON []byte
	err := row.Scan(&sb.ID, &sb.UserID, &sb.ContainerName, &containerID, &sb.Status,
		&limitsJSON, &sb.LastAccessed, &sb.CreatedAt, &sb.UpdatedAt)
	if err != nil {
		return sandbox.UserSandbox{}, err
	}
	if containerID != nil {
		sb.ContainerID = *containerID
	}
	if len(limitsJSON) > 0 {
		if err := json.Unmarshal(limitsJSON, &sb.Limits); err != nil {
			return sandbox.UserSandbox{}, fmt.Errorf("unmarshal resource_limits: %w", err)
		}
	}
	return sb, nil
}

// GetSandboxByUser returns the user's live sandbox row, if any. Removed
// sandboxes are not returned; a new one may be provisioned in their place.
func (s *Store) GetSandboxByUser(ctx context.Context, userID string) (*sandbox.UserSandbox, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sandboxCols+` FROM user_sandboxes
		 WHERE user_id = $1 AND status != 'removed'`, userID)

	sb, err := scanSandbox(row)
	if err != nil {
		return nil, notFoundWrap(err, "get sandbox for user %s", userID)
	}
	return &sb, nil
}

func (s *Store) CreateSandbox(ctx context.Context, sb *sandbox.UserSandbox) error {
	limitsJSON, err := json.Marshal(sb.Limits)
	if err != nil {
		return fmt.Errorf("marshal resource_limits: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO user_sandboxes (user_id, container_name, container_id, status, resource_limits, last_accessed_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING id, last_accessed_at, created_at, updated_at`,
		sb.UserID, sb.ContainerName, nullIfEmpty(sb.ContainerID), string(sb.Status), limitsJSON).
		Scan(&sb.ID, &sb.LastAccessed, &sb.CreatedAt, &sb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create sandbox for user %s: %w", sb.UserID, err)
	}
	return nil
}

func (s *Store) UpdateSandboxStatus(ctx context.Context, id string, status sandbox.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sandboxes SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return execExpectOne(tag, err, "update sandbox status %s", id)
}

func (s *Store) TouchSandbox(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sandboxes SET last_accessed_at = $2 WHERE id = $1`, id, at)
	return execExpectOne(tag, err, "touch sandbox %s", id)
}

// ListIdleSandboxes returns running sandboxes whose last access predates the
// given cutoff. Used by the idle reaper.
func (s *Store) ListIdleSandboxes(ctx context.Context, olderThan time.Time) ([]sandbox.UserSandbox, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sandboxCols+` FROM user_sandboxes
		 WHERE status = 'running' AND last_accessed_at < $1 ORDER BY last_accessed_at`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list idle sandboxes: %w", err)
	}
	defer rows.Close()

	var sandboxes []sandbox.UserSandbox
	for rows.Next() {
		sb, err := scanSandbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sandbox: %w", err)
		}
		sandboxes = append(sandboxes, sb)
	}
	return sandboxes, rows.Err()
}
