// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package backup snapshots the application data before a destructive
// migration and restores it verbatim when the migration fails.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/rs/zerolog"
)

// Key holds the pre-migration snapshot.
const Key = storage.ReservedPrefix + "migration:backup"

var (
	// ErrNoBackup is returned by Restore when no snapshot is stored.
	ErrNoBackup = errors.New("no migration backup present")
	// ErrCorruptBackup is returned when the stored snapshot cannot be decoded.
	ErrCorruptBackup = errors.New("migration backup is corrupt")
)

// Snapshot is the full pre-migration payload.
type Snapshot struct {
	Version   int               `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

// Manager owns the backup record of one adapter.
type Manager struct {
	adapter storage.Adapter
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a backup manager over adapter.
func NewManager(adapter storage.Adapter, opts ...Option) *Manager {
	m := &Manager{
		adapter: adapter,
		now:     time.Now,
		logger:  xglog.WithComponent("backup"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create snapshots every non-reserved key and stores it under Key,
// replacing any earlier snapshot.
func (m *Manager) Create(ctx context.Context, version int) (*Snapshot, error) {
	data, err := storage.Snapshot(ctx, m.adapter)
	if err != nil {
		return nil, fmt.Errorf("snapshot data: %w", err)
	}
	snap := &Snapshot{Version: version, Timestamp: m.now().UTC(), Data: data}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	if err := m.adapter.SetItem(ctx, Key, string(raw)); err != nil {
		return nil, fmt.Errorf("store backup: %w", err)
	}

	logger := xglog.WithContext(ctx, m.logger)
	logger.Info().
		Str(xglog.FieldEvent, "backup.created").
		Str(xglog.FieldBackend, m.adapter.BackendName()).
		Int(xglog.FieldToVer, version).
		Int("keys", len(data)).
		Msg("migration backup created")
	return snap, nil
}

// Load returns the stored snapshot; ok is false when none exists.
func (m *Manager) Load(ctx context.Context) (*Snapshot, bool, error) {
	raw, ok, err := m.adapter.GetItem(ctx, Key)
	if err != nil {
		return nil, false, fmt.Errorf("read backup: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrCorruptBackup, err)
	}
	if snap.Data == nil {
		snap.Data = map[string]string{}
	}
	return &snap, true, nil
}

// Has reports whether a snapshot is stored.
func (m *Manager) Has(ctx context.Context) (bool, error) {
	_, ok, err := m.adapter.GetItem(ctx, Key)
	if err != nil {
		return false, fmt.Errorf("read backup: %w", err)
	}
	return ok, nil
}

// Restore replays the stored snapshot: keys absent from it are removed and
// every snapshot key is rewritten. Running it twice yields the same state.
// The snapshot itself is left in place.
func (m *Manager) Restore(ctx context.Context) error {
	snap, ok, err := m.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoBackup
	}
	if err := m.apply(ctx, snap.Data); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	logger := xglog.WithContext(ctx, m.logger)
	logger.Warn().
		Str(xglog.FieldEvent, "backup.restored").
		Str(xglog.FieldBackend, m.adapter.BackendName()).
		Int(xglog.FieldFromVer, snap.Version).
		Int("keys", len(snap.Data)).
		Msg("migration backup restored")
	return nil
}

// Clear removes the stored snapshot.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.adapter.RemoveItem(ctx, Key); err != nil {
		return fmt.Errorf("clear backup: %w", err)
	}
	return nil
}

// apply makes the non-reserved key space equal to data.
func (m *Manager) apply(ctx context.Context, data map[string]string) error {
	current, err := storage.Snapshot(ctx, m.adapter)
	if err != nil {
		return err
	}
	for key := range current {
		if _, keep := data[key]; !keep {
			if err := m.adapter.RemoveItem(ctx, key); err != nil {
				return err
			}
		}
	}
	for key, value := range data {
		if storage.IsReserved(key) {
			continue
		}
		if cur, ok := current[key]; ok && cur == value {
			continue
		}
		if err := m.adapter.SetItem(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}
