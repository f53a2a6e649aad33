package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/ChainForge/internal/domain/settings"
)

func (s *Store) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []settings.Setting
	for rows.Next() {
		var st settings.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) GetSetting(ctx context.Context, key string) (*settings.Setting, error) {
	var st settings.Setting
	err := s.pool.QueryRow(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = $1`, key).
		Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get setting %s", key)
	}
	return &st, nil
}

func (s *Store) UpsertSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
