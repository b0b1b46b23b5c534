// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/metrics"
	"github.com/ManuGH/matchvault/internal/model"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/rs/zerolog"
)

// AdapterSource resolves the active adapter; *storage.Factory satisfies it.
type AdapterSource interface {
	GetAdapter(ctx context.Context) (storage.Adapter, error)
}

// StaticSource serves one adapter.
type StaticSource struct{ Adapter storage.Adapter }

// GetAdapter returns the wrapped adapter.
func (s StaticSource) GetAdapter(context.Context) (storage.Adapter, error) { return s.Adapter, nil }

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithWriteGate holds gate around every write so a backend migration can
// exclude writers while it copies. Pass the read side of an RWMutex.
func WithWriteGate(gate sync.Locker) StoreOption {
	return func(s *Store) { s.gate = gate }
}

type noGate struct{}

func (noGate) Lock()   {}
func (noGate) Unlock() {}

// Store reads and merges the settings record.
type Store struct {
	source AdapterSource
	key    string
	logger zerolog.Logger
	gate   sync.Locker

	locks sync.Map // map[string]*sync.Mutex

	mu       sync.RWMutex
	lastGood Settings
}

// NewStore creates a settings store over source.
func NewStore(source AdapterSource, opts ...StoreOption) *Store {
	s := &Store{
		source:   source,
		key:      model.KeyAppSettings,
		logger:   xglog.WithComponent("settings"),
		gate:     noGate{},
		lastGood: Defaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lock takes the write gate and serialises the read-merge-write of one
// record.
func (s *Store) lock(key string) func() {
	s.gate.Lock()
	m, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return func() {
		mu.Unlock()
		s.gate.Unlock()
	}
}

// GetSettings returns the stored settings. Read failures degrade to the
// last known-good value, or to defaults after an auth loss.
func (s *Store) GetSettings(ctx context.Context) Settings {
	fields, err := s.read(ctx)
	if err != nil {
		return s.degrade(ctx, "get", err)
	}
	cur, bad := decode(fields)
	if len(bad) > 0 {
		s.warnBadFields(ctx, bad)
	}
	s.remember(cur)
	return cur
}

// SaveSettings writes every field of next, keeping stored keys this
// version does not know. It reports whether the write succeeded.
func (s *Store) SaveSettings(ctx context.Context, next Settings) bool {
	full, err := encodeFull(next)
	if err != nil {
		return false
	}
	if _, err := s.merge(ctx, full); err != nil {
		s.degrade(ctx, "save", err)
		metrics.RecordSettingsUpdate("failed")
		return false
	}
	metrics.RecordSettingsUpdate("success")
	return true
}

// UpdateSettings merges p over the stored record and returns the result.
// An empty or invalid patch fails with *ValidationError before storage is
// touched. Storage failures are logged and answered with the last
// known-good settings; an auth loss is answered with defaults.
func (s *Store) UpdateSettings(ctx context.Context, p Patch) (Settings, error) {
	if err := p.Validate(); err != nil {
		metrics.RecordSettingsUpdate("invalid")
		return Settings{}, err
	}
	fields, err := p.fields()
	if err != nil {
		return Settings{}, fmt.Errorf("encode patch: %w", err)
	}
	merged, err := s.merge(ctx, fields)
	if err != nil {
		metrics.RecordSettingsUpdate("failed")
		return s.degrade(ctx, "update", err), nil
	}
	metrics.RecordSettingsUpdate("success")
	return merged, nil
}

// ResetSettings removes the stored record.
func (s *Store) ResetSettings(ctx context.Context) error {
	unlock := s.lock(s.key)
	defer unlock()

	a, err := s.source.GetAdapter(ctx)
	if err != nil {
		return err
	}
	if err := a.RemoveItem(ctx, s.key); err != nil {
		return fmt.Errorf("reset settings: %w", err)
	}
	s.remember(Defaults())
	return nil
}

// merge runs the critical section: read, overlay, write.
func (s *Store) merge(ctx context.Context, patch map[string]json.RawMessage) (Settings, error) {
	unlock := s.lock(s.key)
	defer unlock()

	current, err := s.read(ctx)
	if err != nil {
		return Settings{}, err
	}
	if current == nil {
		current = map[string]json.RawMessage{}
	}
	for k, v := range patch {
		current[k] = v
	}
	merged, bad := decode(current)
	if len(bad) > 0 {
		s.warnBadFields(ctx, bad)
		for _, k := range bad {
			delete(current, k)
		}
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return Settings{}, err
	}

	a, err := s.source.GetAdapter(ctx)
	if err != nil {
		return Settings{}, err
	}
	if err := a.SetItem(ctx, s.key, string(raw)); err != nil {
		return Settings{}, err
	}
	s.remember(merged)
	return merged, nil
}

// read returns the stored fields; nil when absent. A corrupt record reads
// as absent so the next write repairs it.
func (s *Store) read(ctx context.Context) (map[string]json.RawMessage, error) {
	a, err := s.source.GetAdapter(ctx)
	if err != nil {
		return nil, err
	}
	raw, ok, err := a.GetItem(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		s.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "settings.corrupt").
			Msg("stored settings record is corrupt, treating as empty")
		return nil, nil
	}
	return fields, nil
}

// warnBadFields reports stored keys that no longer fit their field. They
// read as defaults and are dropped on the next write.
func (s *Store) warnBadFields(ctx context.Context, keys []string) {
	logger := xglog.WithContext(ctx, s.logger)
	logger.Warn().
		Str(xglog.FieldEvent, "settings.field_corrupt").
		Strs("fields", keys).
		Msg("stored settings fields unreadable, using defaults for them")
}

func (s *Store) degrade(ctx context.Context, op string, err error) Settings {
	logger := xglog.WithContext(ctx, s.logger)
	if errors.Is(err, storage.ErrAuthLost) {
		logger.Info().Err(err).
			Str(xglog.FieldEvent, "settings.auth_lost").
			Str("op", op).
			Msg("session ended during settings access, using defaults")
		return Defaults()
	}
	logger.Error().Err(err).
		Str(xglog.FieldEvent, "settings.storage_failed").
		Str("op", op).
		Str(xglog.FieldKind, string(storage.KindOf(err))).
		Msg("settings storage failed, returning last known-good settings")
	return s.last()
}

func (s *Store) remember(v Settings) {
	s.mu.Lock()
	s.lastGood = v
	s.mu.Unlock()
}

func (s *Store) last() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastGood
}
