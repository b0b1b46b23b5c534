// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/storage"
)

// Export writes every non-reserved key to path as a Snapshot document.
// The file is replaced atomically.
func (m *Manager) Export(ctx context.Context, path string, version int) (*Snapshot, error) {
	data, err := storage.Snapshot(ctx, m.adapter)
	if err != nil {
		return nil, fmt.Errorf("snapshot data: %w", err)
	}
	snap := &Snapshot{Version: version, Timestamp: m.now().UTC(), Data: data}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	if err := writeFile(ctx, path, raw); err != nil {
		return nil, err
	}

	logger := xglog.WithContext(ctx, m.logger)
	logger.Info().
		Str(xglog.FieldEvent, "backup.exported").
		Str(xglog.FieldPath, path).
		Int("keys", len(data)).
		Msg("data exported")
	return snap, nil
}

// Import replaces the application data with the contents of an exported
// file. The current data is snapshotted first and put back if the replay
// fails part way.
func (m *Manager) Import(ctx context.Context, path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBackup, err)
	}
	if snap.Data == nil {
		return nil, fmt.Errorf("%w: no data section", ErrCorruptBackup)
	}

	if _, err := m.Create(ctx, snap.Version); err != nil {
		return nil, err
	}
	if err := m.apply(ctx, snap.Data); err != nil {
		if rerr := m.Restore(ctx); rerr != nil {
			logger := xglog.WithContext(ctx, m.logger)
			logger.Error().Err(rerr).
				Str(xglog.FieldEvent, "backup.import.restore_failed").
				Msg("could not restore data after failed import, backup retained")
			return nil, fmt.Errorf("import: %w (restore failed: %v)", err, rerr)
		}
		_ = m.Clear(ctx)
		return nil, fmt.Errorf("import: %w", err)
	}
	if err := m.Clear(ctx); err != nil {
		return nil, err
	}

	logger := xglog.WithContext(ctx, m.logger)
	logger.Info().
		Str(xglog.FieldEvent, "backup.imported").
		Str(xglog.FieldPath, path).
		Int("keys", len(snap.Data)).
		Msg("data imported")
	return &snap, nil
}
