// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"errors"
	"fmt"

	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/migration"
	"github.com/ManuGH/matchvault/internal/schema"
	"github.com/google/uuid"
)

// BootReport describes one Boot.
type BootReport struct {
	Schema  schema.Result     `json:"schema"`
	Backend *migration.Report `json:"backend,omitempty"`
	Status  MigrationStatus   `json:"status"`
}

// Boot resolves the adapter, brings the data schema up to date and moves the
// data to the target backend. A schema migration failure is returned after
// the pre-migration state was restored: the caller must not serve data. A
// backend migration failure is not returned; the source backend keeps
// serving and Status reports the state.
func (a *App) Boot(ctx context.Context) (BootReport, error) {
	a.bootMu.Lock()
	defer a.bootMu.Unlock()
	a.dataMu.Lock()
	defer a.dataMu.Unlock()

	ctx = xglog.ContextWithMigrationID(ctx, uuid.NewString())
	logger := a.ctxLogger(ctx)

	var rep BootReport
	adapter, err := a.factory.GetAdapter(ctx)
	if err != nil {
		return rep, fmt.Errorf("resolve storage adapter: %w", err)
	}

	rep.Schema, err = a.migrator(adapter).Run(ctx)
	if err != nil {
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "app.boot.schema_failed").
			Msg("schema migration failed, data restored to pre-migration state")
		return rep, err
	}

	orch := a.orchestrator(MigrateOptions{})
	if orch.Needed(a.factory.GetStorageConfig(ctx)) {
		br, err := orch.Run(ctx)
		switch {
		case err == nil:
			rep.Backend = &br
		case errors.Is(err, migration.ErrPinned):
			logger.Info().
				Str(xglog.FieldEvent, "app.boot.backend_pinned").
				Msg("backend migration skipped, legacy backend pinned")
		default:
			rep.Backend = &br
			logger.Warn().Err(err).
				Str(xglog.FieldEvent, "app.boot.backend_failed").
				Str("state", string(br.State)).
				Msg("backend migration failed, continuing on source backend")
		}
	}

	rep.Status = a.Status(ctx)
	logger.Info().
		Str(xglog.FieldEvent, "app.boot.done").
		Str(xglog.FieldBackend, rep.Status.ActiveBackend).
		Int("schema_version", rep.Status.CurrentSchemaVersion).
		Str("migration_state", string(rep.Status.MigrationState)).
		Msg("boot complete")
	return rep, nil
}

// MigrateBackend runs the backend migration on demand. Settings writes wait
// until it returns.
func (a *App) MigrateBackend(ctx context.Context, o MigrateOptions) (migration.Report, error) {
	a.bootMu.Lock()
	defer a.bootMu.Unlock()
	a.dataMu.Lock()
	defer a.dataMu.Unlock()
	ctx = xglog.ContextWithMigrationID(ctx, uuid.NewString())
	return a.orchestrator(o).Run(ctx)
}

// RetryBackend is the operator retry: it lifts the failure pin and runs the
// backend migration again.
func (a *App) RetryBackend(ctx context.Context) (migration.Report, error) {
	if _, err := a.factory.ResetMigrationFailures(ctx); err != nil {
		return migration.Report{}, fmt.Errorf("reset migration failures: %w", err)
	}
	return a.MigrateBackend(ctx, MigrateOptions{})
}
