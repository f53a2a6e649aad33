package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ChainForge/internal/domain/settings"
	"github.com/Strob0t/ChainForge/internal/port/cache"
	"github.com/Strob0t/ChainForge/internal/port/database"
)

const settingsSnapshotKey = "settings:snapshot"

// SettingsService serves the runtime settings surface. Snapshots are cached
// in-process; a session reads one snapshot at start and never re-reads.
type SettingsService struct {
	store database.Store
	cache cache.Cache
	ttl   time.Duration
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(store database.Store, c cache.Cache, ttl time.Duration) *SettingsService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SettingsService{store: store, cache: c, ttl: ttl}
}

// List returns all stored settings.
func (s *SettingsService) List(ctx context.Context) ([]settings.Setting, error) {
	return s.store.ListSettings(ctx)
}

// Snapshot returns the effective engine settings: defaults overlaid with
// stored values. Malformed stored values keep the default in effect.
func (s *SettingsService) Snapshot(ctx context.Context) settings.Snapshot {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, settingsSnapshotKey); err == nil && ok {
			var snap settings.Snapshot
			if err := json.Unmarshal(data, &snap); err == nil {
				return snap
			}
		}
	}

	snap := settings.DefaultSnapshot()
	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		// Defaults keep the engine usable when the settings table is unreachable.
		slog.Warn("settings load failed, using defaults", "error", err)
		return snap
	}
	for _, st := range stored {
		snap.Apply(st.Key, st.Value)
	}

	if s.cache != nil {
		if data, err := json.Marshal(snap); err == nil {
			_ = s.cache.Set(ctx, settingsSnapshotKey, data, s.ttl)
		}
	}
	return snap
}

// Update upserts the given settings and invalidates the cached snapshot.
// Running sessions keep the snapshot they started with.
func (s *SettingsService) Update(ctx context.Context, req settings.UpdateRequest) error {
	for key, value := range req.Settings {
		if !json.Valid(value) {
			return fmt.Errorf("setting %s: invalid JSON value", key)
		}
		if err := s.store.UpsertSetting(ctx, key, value); err != nil {
			return err
		}
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, settingsSnapshotKey)
	}
	return nil
}
