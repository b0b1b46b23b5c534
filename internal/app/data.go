// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ManuGH/matchvault/internal/backup"
	"github.com/ManuGH/matchvault/internal/storage"
)

// ErrNoPrimary is returned by VerifyPrimary before the primary was created.
var ErrNoPrimary = errors.New("primary backend has not been created")

// Export writes every user key of the active backend to path.
func (a *App) Export(ctx context.Context, path string) (*backup.Snapshot, error) {
	adapter, err := a.factory.GetAdapter(ctx)
	if err != nil {
		return nil, err
	}
	version, err := a.migrator(adapter).CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	return backup.NewManager(adapter).Export(ctx, path, version)
}

// Import replaces the user data of the active backend with the file at path.
// The import runs under the boot lock and excludes settings writes; a
// failed import leaves the data as it was.
func (a *App) Import(ctx context.Context, path string) (*backup.Snapshot, error) {
	a.bootMu.Lock()
	defer a.bootMu.Unlock()
	a.dataMu.Lock()
	defer a.dataMu.Unlock()

	adapter, err := a.factory.GetAdapter(ctx)
	if err != nil {
		return nil, err
	}
	return backup.NewManager(adapter).Import(ctx, path)
}

// VerifyPrimary checks the primary backend's files for corruption. It uses
// the live adapter when the primary is active and opens the files directly
// otherwise.
func (a *App) VerifyPrimary(ctx context.Context, full bool) ([]string, error) {
	var adapter storage.Adapter
	if a.factory.ActiveMode() == storage.ModePrimary {
		active, err := a.factory.GetAdapter(ctx)
		if err != nil {
			return nil, err
		}
		adapter = active
	} else {
		if a.engine.path != "" {
			if _, err := os.Stat(a.engine.path); errors.Is(err, os.ErrNotExist) {
				return nil, ErrNoPrimary
			}
		}
		if a.engine.build == nil {
			return nil, ErrNoPrimary
		}
		opened, err := a.engine.build(ctx)
		if err != nil {
			return nil, fmt.Errorf("open primary backend: %w", err)
		}
		defer opened.Close()
		adapter = opened
	}

	v, ok := adapter.(storage.Verifier)
	if !ok {
		return nil, fmt.Errorf("%s backend does not support verification", adapter.BackendName())
	}
	return v.Verify(ctx, full)
}
