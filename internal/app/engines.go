// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ManuGH/matchvault/internal/config"
	"github.com/ManuGH/matchvault/internal/storage"
)

// On-disk layout below the data directory.
const (
	legacyFile  = "legacy.db"
	primaryDir  = "primary"
	sqliteFile  = "matchvault.sqlite"
	badgerDir   = "badger"
	probeSubdir = ".probe"
)

// engine describes how to open and probe the configured primary backend.
type engine struct {
	name  string
	path  string
	build storage.PrimaryBuilder
	probe storage.Probe
}

func primaryEngine(dataDir string, cfg config.StorageConfig) (engine, error) {
	root := filepath.Join(dataDir, primaryDir)
	probeDir := filepath.Join(root, probeSubdir)

	switch cfg.PrimaryEngine {
	case config.EngineSQLite, "":
		path := filepath.Join(root, sqliteFile)
		return engine{
			name: config.EngineSQLite,
			path: path,
			build: func(ctx context.Context) (storage.Adapter, error) {
				return storage.OpenSQLite(ctx, path)
			},
			probe: storage.SQLiteProbe(probeDir),
		}, nil
	case config.EngineBadger:
		dir := filepath.Join(root, badgerDir)
		return engine{
			name: config.EngineBadger,
			path: dir,
			build: func(context.Context) (storage.Adapter, error) {
				return storage.OpenBadger(dir)
			},
			probe: storage.BadgerProbe(probeDir),
		}, nil
	}
	return engine{}, fmt.Errorf("unknown primary engine %q", cfg.PrimaryEngine)
}
