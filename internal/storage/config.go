// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/rs/zerolog"
)

// MigrationState is the lifecycle of a backend migration.
type MigrationState string

const (
	StateNotStarted MigrationState = "not-started"
	StateInProgress MigrationState = "in-progress"
	StateCompleted  MigrationState = "completed"
	StateFailed     MigrationState = "failed"
	StateRolledBack MigrationState = "rolled-back"
)

func parseMigrationState(s string) (MigrationState, bool) {
	switch st := MigrationState(s); st {
	case StateNotStarted, StateInProgress, StateCompleted, StateFailed, StateRolledBack:
		return st, true
	}
	return "", false
}

// DefaultStorageVersion is the data layout version of a fresh legacy store.
const DefaultStorageVersion = "1.0.0"

// validVersion accepts dotted numeric versions such as "2.0.0".
func validVersion(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) < 1 || len(parts) > 4 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := strconv.Atoi(p); err != nil {
			return false
		}
	}
	return true
}

// Config is the persisted record describing the active backend and the
// backend migration state.
type Config struct {
	Mode                  Mode
	Version               string
	MigrationState        MigrationState
	ForceMode             *Mode
	LastMigrationAttempt  *time.Time
	MigrationFailureCount int
}

// DefaultConfig is what a first run starts with and what any unreadable
// field degrades to.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeLegacy,
		Version:        DefaultStorageVersion,
		MigrationState: StateNotStarted,
	}
}

// Each field lives under its own key so that one corrupt value only resets
// that field.
const (
	configKeyMode         = ReservedPrefix + "config:mode"
	configKeyVersion      = ReservedPrefix + "config:version"
	configKeyState        = ReservedPrefix + "config:migrationState"
	configKeyForceMode    = ReservedPrefix + "config:forceMode"
	configKeyLastAttempt  = ReservedPrefix + "config:lastMigrationAttempt"
	configKeyFailureCount = ReservedPrefix + "config:migrationFailureCount"
)

// ConfigKeys lists every key the config record occupies.
func ConfigKeys() []string {
	return []string{configKeyMode, configKeyVersion, configKeyState, configKeyForceMode, configKeyLastAttempt, configKeyFailureCount}
}

// ConfigStore reads and writes Config on the legacy adapter, which is always
// reachable before any backend decision has been made.
type ConfigStore struct {
	adapter Adapter
	mu      sync.Mutex
	logger  zerolog.Logger
}

// NewConfigStore binds a ConfigStore to adapter.
func NewConfigStore(adapter Adapter) *ConfigStore {
	return &ConfigStore{adapter: adapter, logger: xglog.WithComponent("storage.config")}
}

// Load returns the persisted config. It never fails: unreadable or invalid
// fields are replaced by their defaults and reported in the warning log.
func (s *ConfigStore) Load(ctx context.Context) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, _ := s.load(ctx)
	return cfg
}

// Exists reports whether a config has ever been written.
func (s *ConfigStore) Exists(ctx context.Context) bool {
	_, ok, err := s.adapter.GetItem(ctx, configKeyMode)
	return err == nil && ok
}

func (s *ConfigStore) load(ctx context.Context) (Config, []string) {
	cfg := DefaultConfig()
	var degraded []string

	read := func(key string) (string, bool) {
		v, ok, err := s.adapter.GetItem(ctx, key)
		if err != nil {
			degraded = append(degraded, key)
			return "", false
		}
		return v, ok
	}

	if v, ok := read(configKeyMode); ok {
		if m, err := ParseMode(v); err == nil {
			cfg.Mode = m
		} else {
			degraded = append(degraded, configKeyMode)
		}
	}
	if v, ok := read(configKeyVersion); ok {
		if validVersion(v) {
			cfg.Version = v
		} else {
			degraded = append(degraded, configKeyVersion)
		}
	}
	if v, ok := read(configKeyState); ok {
		if st, valid := parseMigrationState(v); valid {
			cfg.MigrationState = st
		} else {
			degraded = append(degraded, configKeyState)
		}
	}
	if v, ok := read(configKeyForceMode); ok {
		if m, err := ParseMode(v); err == nil {
			cfg.ForceMode = &m
		} else {
			degraded = append(degraded, configKeyForceMode)
		}
	}
	if v, ok := read(configKeyLastAttempt); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			ts := time.UnixMilli(ms).UTC()
			cfg.LastMigrationAttempt = &ts
		} else {
			degraded = append(degraded, configKeyLastAttempt)
		}
	}
	if v, ok := read(configKeyFailureCount); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MigrationFailureCount = n
		} else {
			degraded = append(degraded, configKeyFailureCount)
		}
	}

	if len(degraded) > 0 {
		s.logger.Warn().
			Str(xglog.FieldEvent, "storage.config.degraded").
			Strs("fields", degraded).
			Msg("storage config fields unreadable, using defaults for them")
	}
	return cfg, degraded
}

// Save persists every field of cfg.
func (s *ConfigStore) Save(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, cfg)
}

func (s *ConfigStore) save(ctx context.Context, cfg Config) error {
	writes := []struct{ key, value string }{
		{configKeyMode, string(cfg.Mode)},
		{configKeyVersion, cfg.Version},
		{configKeyState, string(cfg.MigrationState)},
		{configKeyFailureCount, strconv.Itoa(cfg.MigrationFailureCount)},
	}
	for _, w := range writes {
		if err := s.adapter.SetItem(ctx, w.key, w.value); err != nil {
			return fmt.Errorf("save storage config: %w", err)
		}
	}

	if cfg.ForceMode != nil {
		if err := s.adapter.SetItem(ctx, configKeyForceMode, string(*cfg.ForceMode)); err != nil {
			return fmt.Errorf("save storage config: %w", err)
		}
	} else if err := s.adapter.RemoveItem(ctx, configKeyForceMode); err != nil {
		return fmt.Errorf("save storage config: %w", err)
	}

	if cfg.LastMigrationAttempt != nil {
		ms := strconv.FormatInt(cfg.LastMigrationAttempt.UnixMilli(), 10)
		if err := s.adapter.SetItem(ctx, configKeyLastAttempt, ms); err != nil {
			return fmt.Errorf("save storage config: %w", err)
		}
	} else if err := s.adapter.RemoveItem(ctx, configKeyLastAttempt); err != nil {
		return fmt.Errorf("save storage config: %w", err)
	}
	return nil
}

// Update runs a read-modify-write of the config under the store's lock.
func (s *ConfigStore) Update(ctx context.Context, fn func(*Config)) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, _ := s.load(ctx)
	old := cfg
	fn(&cfg)
	if err := s.save(ctx, cfg); err != nil {
		return old, err
	}
	if old.Mode != cfg.Mode || old.MigrationState != cfg.MigrationState {
		s.logger.Info().
			Str(xglog.FieldEvent, "storage.config.updated").
			Str(xglog.FieldMode, string(cfg.Mode)).
			Str(xglog.FieldOldState, string(old.MigrationState)).
			Str(xglog.FieldNewState, string(cfg.MigrationState)).
			Int("failure_count", cfg.MigrationFailureCount).
			Msg("storage config changed")
	}
	return cfg, nil
}

// Reset removes the persisted record; only a full app reset does this.
func (s *ConfigStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range ConfigKeys() {
		if err := s.adapter.RemoveItem(ctx, k); err != nil {
			return fmt.Errorf("reset storage config: %w", err)
		}
	}
	return nil
}
