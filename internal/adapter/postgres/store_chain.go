package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/ChainForge/internal/domain/chain"
)

const chainCols = `slug, name, handler, system_prompt, tools, members, provider, model, exec_config, enabled, version, created_at, updated_at`

func scanChain(row scannable) (chain.Chain, error) {
	var c chain.Chain
	var execJSON []byte
	err := row.Scan(&c.Slug, &c.Name, &c.Handler, &c.SystemPrompt, &c.Tools, &c.Members,
		&c.Provider, &c.Model, &execJSON, &c.Enabled, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return chain.Chain{}, err
	}
	if len(execJSON) > 0 {
		if err := json.Unmarshal(execJSON, &c.Exec); err != nil {
			return chain.Chain{}, fmt.Errorf("unmarshal exec_config: %w", err)
		}
	}
	c.Tools = orEmpty(c.Tools)
	c.Members = orEmpty(c.Members)
	return c, nil
}

func (s *Store) ListChains(ctx context.Context) ([]chain.Chain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chainCols+` FROM chains ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var chains []chain.Chain
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		chains = append(chains, c)
	}
	return chains, rows.Err()
}

func (s *Store) GetChain(ctx context.Context, slug string) (*chain.Chain, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+chainCols+` FROM chains WHERE slug = $1`, slug)

	c, err := scanChain(row)
	if err != nil {
		return nil, notFoundWrap(err, "get chain %s", slug)
	}
	return &c, nil
}

func (s *Store) UpsertChain(ctx context.Context, c *chain.Chain, author, reason string) (*chain.Chain, error) {
	execJSON, err := json.Marshal(c.Exec)
	if err != nil {
		return nil, fmt.Errorf("marshal exec_config: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		`INSERT INTO chains (slug, name, handler, system_prompt, tools, members, provider, model, exec_config, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (slug) DO UPDATE SET
		   name = EXCLUDED.name, handler = EXCLUDED.handler, system_prompt = EXCLUDED.system_prompt,
		   tools = EXCLUDED.tools, members = EXCLUDED.members, provider = EXCLUDED.provider,
		   model = EXCLUDED.model, exec_config = EXCLUDED.exec_config, enabled = EXCLUDED.enabled,
		   version = chains.version + 1, updated_at = now()
		 RETURNING `+chainCols,
		c.Slug, c.Name, string(c.Handler), c.SystemPrompt, pgTextArray(c.Tools), pgTextArray(c.Members),
		c.Provider, c.Model, execJSON, c.Enabled)

	saved, err := scanChain(row)
	if err != nil {
		return nil, fmt.Errorf("upsert chain %s: %w", c.Slug, err)
	}

	snapshot, err := json.Marshal(saved)
	if err != nil {
		return nil, fmt.Errorf("marshal chain snapshot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO chain_versions (chain_slug, number, snapshot, author, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		saved.Slug, saved.Version, snapshot, author, reason)
	if err != nil {
		return nil, fmt.Errorf("insert chain version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chain upsert: %w", err)
	}
	return &saved, nil
}

func (s *Store) ListChainVersions(ctx context.Context, slug string) ([]chain.Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chain_slug, number, snapshot, author, reason, created_at
		 FROM chain_versions WHERE chain_slug = $1 ORDER BY number DESC`, slug)
	if err != nil {
		return nil, fmt.Errorf("list chain versions: %w", err)
	}
	defer rows.Close()

	var versions []chain.Version
	for rows.Next() {
		var v chain.Version
		if err := rows.Scan(&v.ID, &v.ChainSlug, &v.Number, &v.Snapshot, &v.Author, &v.Reason, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chain version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) GetChainVersion(ctx context.Context, slug string, number int) (*chain.Version, error) {
	var v chain.Version
	err := s.pool.QueryRow(ctx,
		`SELECT id, chain_slug, number, snapshot, author, reason, created_at
		 FROM chain_versions WHERE chain_slug = $1 AND number = $2`, slug, number).
		Scan(&v.ID, &v.ChainSlug, &v.Number, &v.Snapshot, &v.Author, &v.Reason, &v.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get chain version %s/%d", slug, number)
	}
	return &v, nil
}
