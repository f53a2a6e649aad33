package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/ChainForge/internal/domain/session"
)

const sessionCols = `id, chain_slug, chain_version, agent_id, user_id, parent_session_id, depth, trigger_kind, status, iterations, failure_reason, tokens_in, tokens_out, cost_usd, output, error, started_at, completed_at, created_at, updated_at`

func scanSession(row scannable) (session.Session, error) {
	var s session.Session
	var agentID, parentID, reason, output, errMsg *string
	err := row.Scan(&s.ID, &s.ChainSlug, &s.ChainVersion, &agentID, &s.UserID, &parentID,
		&s.Depth, &s.Trigger, &s.Status, &s.Iterations, &reason, &s.TokensIn, &s.TokensOut,
		&s.CostUSD, &output, &errMsg, &s.StartedAt, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return session.Session{}, err
	}
	if agentID != nil {
		s.AgentID = *agentID
	}
	if parentID != nil {
		s.ParentSessionID = *parentID
	}
	if reason != nil {
		s.FailureReason = session.FailureReason(*reason)
	}
	if output != nil {
		s.Output = *output
	}
	if errMsg != nil {
		s.Error = *errMsg
	}
	return s, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (chain_slug, chain_version, agent_id, user_id, parent_session_id, depth, trigger_kind, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		sess.ChainSlug, sess.ChainVersion, nullIfEmpty(sess.AgentID), sess.UserID,
		nullIfEmpty(sess.ParentSessionID), sess.Depth, string(sess.Trigger), string(sess.Status),
		sess.StartedAt).
		Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if err != nil {
		return nil, notFoundWrap(err, "get session %s", id)
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]session.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) UpdateSessionProgress(ctx context.Context, id string, iterations int, tokensIn, tokensOut int64, costUSD float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET iterations = $2, tokens_in = $3, tokens_out = $4, cost_usd = $5, updated_at = now()
		 WHERE id = $1`,
		id, iterations, tokensIn, tokensOut, costUSD)
	return execExpectOne(tag, err, "update session progress %s", id)
}

func (s *Store) CompleteSession(ctx context.Context, id string, status session.Status, reason session.FailureReason, output, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, failure_reason = $3, output = $4, error = $5, completed_at = now(), updated_at = now()
		 WHERE id = $1 AND completed_at IS NULL`,
		id, string(status), nullIfEmpty(string(reason)), nullIfEmpty(output), nullIfEmpty(errMsg))
	return execExpectOne(tag, err, "complete session %s", id)
}

func (s *Store) AppendStep(ctx context.Context, step *session.Step) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO session_steps (session_id, iteration, kind, tool, args, content, truncated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		step.SessionID, step.Iteration, string(step.Kind), nullIfEmpty(step.Tool),
		nullIfEmpty(step.Args), step.Content, step.Truncated).
		Scan(&step.ID, &step.CreatedAt)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

func (s *Store) GetTranscript(ctx context.Context, sessionID string) (*session.Transcript, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, iteration, kind, COALESCE(tool, ''), COALESCE(args, ''), content, truncated, created_at
		 FROM session_steps WHERE session_id = $1 ORDER BY iteration, created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	defer rows.Close()

	t := &session.Transcript{SessionID: sessionID}
	for rows.Next() {
		var st session.Step
		if err := rows.Scan(&st.ID, &st.SessionID, &st.Iteration, &st.Kind, &st.Tool, &st.Args, &st.Content, &st.Truncated, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		t.Steps = append(t.Steps, st)
	}
	return t, rows.Err()
}

// SessionDepth walks parent ids with a recursive query and returns the number
// of delegation hops above the given session.
func (s *Store) SessionDepth(ctx context.Context, id string) (int, error) {
	var depth int
	err := s.pool.QueryRow(ctx,
		`WITH RECURSIVE ancestry AS (
		   SELECT id, parent_session_id, 0 AS hops FROM sessions WHERE id = $1
		   UNION ALL
		   SELECT s.id, s.parent_session_id, a.hops + 1
		   FROM sessions s JOIN ancestry a ON s.id = a.parent_session_id
		 )
		 SELECT COALESCE(MAX(hops), 0) FROM ancestry`, id).
		Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("session depth %s: %w", id, err)
	}
	return depth, nil
}
