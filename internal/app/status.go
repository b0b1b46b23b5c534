// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"

	"github.com/ManuGH/matchvault/internal/backup"
	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/storage"
)

// MigrationStatus is the read-only view that drives first-run banners and
// diagnostics.
type MigrationStatus struct {
	CurrentSchemaVersion   int                    `json:"currentSchemaVersion"`
	TargetSchemaVersion    int                    `json:"targetSchemaVersion"`
	SchemaMigrationNeeded  bool                   `json:"schemaMigrationNeeded"`
	BackendMigrationNeeded bool                   `json:"backendMigrationNeeded"`
	HasBackup              bool                   `json:"hasBackup"`
	ActiveBackend          string                 `json:"activeBackend"`
	ActiveVersion          string                 `json:"activeVersion"`
	Mode                   storage.Mode           `json:"mode"`
	MigrationState         storage.MigrationState `json:"migrationState"`
	MigrationFailureCount  int                    `json:"migrationFailureCount"`
	Pinned                 bool                   `json:"pinned"`
}

// Status reads the migration status without writing anything beyond what
// adapter resolution itself persists. Unreadable parts keep their zero value.
func (a *App) Status(ctx context.Context) MigrationStatus {
	logger := a.ctxLogger(ctx)
	cfg := a.factory.GetStorageConfig(ctx)

	st := MigrationStatus{
		ActiveVersion:         cfg.Version,
		Mode:                  cfg.Mode,
		MigrationState:        cfg.MigrationState,
		MigrationFailureCount: cfg.MigrationFailureCount,
		Pinned:                cfg.MigrationFailureCount >= a.factory.FailureCeiling() || cfg.ForceMode != nil,
	}
	st.BackendMigrationNeeded = a.orchestrator(MigrateOptions{}).Needed(cfg)

	adapter, err := a.factory.GetAdapter(ctx)
	if err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "app.status.adapter_failed").
			Msg("no usable backend for status")
		return st
	}
	st.ActiveBackend = adapter.BackendName()

	m := a.migrator(adapter)
	st.TargetSchemaVersion = m.TargetVersion()
	if v, err := m.CurrentVersion(ctx); err == nil {
		st.CurrentSchemaVersion = v
	} else {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "app.status.version_failed").Msg("read schema version")
	}
	if needed, err := m.NeedsMigration(ctx); err == nil {
		st.SchemaMigrationNeeded = needed
	}
	if has, err := backup.NewManager(adapter).Has(ctx); err == nil {
		st.HasBackup = has
	}
	return st
}
