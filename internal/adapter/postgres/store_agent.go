package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/ChainForge/internal/domain/agent"
)

const agentCols = `id, name, role, domain_tools, inherit_core, core_exclusions, enabled, provider, model, system_prompt, version, created_at, updated_at`

func scanAgent(row scannable) (agent.Definition, error) {
	var d agent.Definition
	var provider, model, prompt *string
	err := row.Scan(&d.ID, &d.Name, &d.Role, &d.DomainTools, &d.InheritCore, &d.CoreExclusions,
		&d.Enabled, &provider, &model, &prompt, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return agent.Definition{}, err
	}
	if provider != nil {
		d.Provider = *provider
	}
	if model != nil {
		d.Model = *model
	}
	if prompt != nil {
		d.SystemPrompt = *prompt
	}
	d.DomainTools = orEmpty(d.DomainTools)
	d.CoreExclusions = orEmpty(d.CoreExclusions)
	return d, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]agent.Definition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentCols+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Definition
	for rows.Next() {
		d, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, d)
	}
	return agents, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Definition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentCols+` FROM agents WHERE id = $1`, id)

	d, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &d, nil
}

func (s *Store) UpsertAgent(ctx context.Context, d *agent.Definition, author, reason string) (*agent.Definition, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		`INSERT INTO agents (id, name, role, domain_tools, inherit_core, core_exclusions, enabled, provider, model, system_prompt)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, role = EXCLUDED.role, domain_tools = EXCLUDED.domain_tools,
		   inherit_core = EXCLUDED.inherit_core, core_exclusions = EXCLUDED.core_exclusions,
		   enabled = EXCLUDED.enabled, provider = EXCLUDED.provider, model = EXCLUDED.model,
		   system_prompt = EXCLUDED.system_prompt,
		   version = agents.version + 1, updated_at = now()
		 RETURNING `+agentCols,
		d.ID, d.Name, d.Role, pgTextArray(d.DomainTools), d.InheritCore, pgTextArray(d.CoreExclusions),
		d.Enabled, nullIfEmpty(d.Provider), nullIfEmpty(d.Model), nullIfEmpty(d.SystemPrompt))

	saved, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("upsert agent %s: %w", d.ID, err)
	}

	snapshot, err := json.Marshal(saved)
	if err != nil {
		return nil, fmt.Errorf("marshal agent snapshot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO agent_versions (agent_id, number, snapshot, author, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		saved.ID, saved.Version, snapshot, author, reason)
	if err != nil {
		return nil, fmt.Errorf("insert agent version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit agent upsert: %w", err)
	}
	return &saved, nil
}

func (s *Store) ListAgentVersions(ctx context.Context, id string) ([]agent.Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, number, snapshot, author, reason, created_at
		 FROM agent_versions WHERE agent_id = $1 ORDER BY number DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list agent versions: %w", err)
	}
	defer rows.Close()

	var versions []agent.Version
	for rows.Next() {
		var v agent.Version
		if err := rows.Scan(&v.ID, &v.AgentID, &v.Number, &v.Snapshot, &v.Author, &v.Reason, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
