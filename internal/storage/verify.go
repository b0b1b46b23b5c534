// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"

	"github.com/ManuGH/matchvault/internal/persistence/sqlite"
)

// Verifier is implemented by backends that can check their files for
// structural corruption. Verify returns diagnostic lines, or nil when healthy.
type Verifier interface {
	Verify(ctx context.Context, full bool) ([]string, error)
}

// Verify runs quick_check, or integrity_check when full.
func (a *SQLiteAdapter) Verify(ctx context.Context, full bool) ([]string, error) {
	mode := sqlite.VerifyQuick
	if full {
		mode = sqlite.VerifyFull
	}
	return sqlite.VerifyIntegrity(ctx, a.path, mode)
}

// Verify checks block checksums of every table. badger has no cheaper mode.
func (b *BadgerAdapter) Verify(_ context.Context, _ bool) ([]string, error) {
	if err := b.db.VerifyChecksum(); err != nil {
		return []string{err.Error()}, nil
	}
	return nil, nil
}
