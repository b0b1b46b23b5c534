// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/matchvault/internal/model"
	"github.com/ManuGH/matchvault/internal/storage"
)

// AdapterSource resolves the active adapter.
type AdapterSource interface {
	GetAdapter(ctx context.Context) (storage.Adapter, error)
}

// StorageChecker reads the data version key from the active adapter.
type StorageChecker struct {
	source AdapterSource
}

func NewStorageChecker(source AdapterSource) *StorageChecker {
	return &StorageChecker{source: source}
}

func (c *StorageChecker) Name() string { return "storage" }

func (c *StorageChecker) Check(ctx context.Context) CheckResult {
	a, err := c.source.GetAdapter(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "no usable backend"}
	}
	if _, _, err := a.GetItem(ctx, model.KeyAppDataVersion); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: a.BackendName()}
	}
	return CheckResult{Status: StatusHealthy, Message: a.BackendName()}
}

// MigrationStateSource exposes the persisted storage config.
type MigrationStateSource interface {
	GetStorageConfig(ctx context.Context) storage.Config
	FailureCeiling() int
}

// MigrationChecker reports the backend migration lifecycle. A migration in
// progress is unhealthy; a failed, rolled-back or pinned state is degraded
// since the legacy backend keeps serving.
type MigrationChecker struct {
	source MigrationStateSource
}

func NewMigrationChecker(source MigrationStateSource) *MigrationChecker {
	return &MigrationChecker{source: source}
}

func (c *MigrationChecker) Name() string { return "migration" }

func (c *MigrationChecker) Check(ctx context.Context) CheckResult {
	cfg := c.source.GetStorageConfig(ctx)
	switch {
	case cfg.MigrationState == storage.StateInProgress:
		return CheckResult{Status: StatusUnhealthy, Message: "backend migration in progress"}
	case cfg.MigrationFailureCount >= c.source.FailureCeiling():
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("pinned to %s after %d failed attempts", storage.ModeLegacy, cfg.MigrationFailureCount),
		}
	case cfg.MigrationState == storage.StateFailed, cfg.MigrationState == storage.StateRolledBack:
		return CheckResult{Status: StatusDegraded, Message: "last backend migration " + string(cfg.MigrationState)}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("mode %s, %s", cfg.Mode, cfg.MigrationState)}
}

// DataDirChecker verifies the data directory is a writable directory.
type DataDirChecker struct {
	path string
}

func NewDataDirChecker(path string) *DataDirChecker {
	return &DataDirChecker{path: path}
}

func (c *DataDirChecker) Name() string { return "data_dir" }

func (c *DataDirChecker) Check(_ context.Context) CheckResult {
	if err := checkWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: c.path}
}

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	f, err := os.CreateTemp(path, ".write_test-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(filepath.Clean(name))
	return nil
}
