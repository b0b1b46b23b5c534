// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package schema upgrades stored application data from older logical models
// to the current one. Every run is guarded by a backup snapshot: a failed
// transform leaves the data exactly as it was before the run.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/matchvault/internal/backup"
	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/metrics"
	"github.com/ManuGH/matchvault/internal/model"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/ManuGH/matchvault/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CurrentVersion is the data version this build reads and writes.
const CurrentVersion = 2

// legacyVersion is assumed for data written before versions were stored.
const legacyVersion = 1

var (
	// ErrMigrationFailed is returned after a failed transform was rolled back.
	ErrMigrationFailed = errors.New("schema migration failed")
	// ErrNoPath is returned when no chain of steps reaches the target version.
	ErrNoPath = errors.New("no schema migration path")
	// ErrFutureVersion is returned when the stored version is newer than this build.
	ErrFutureVersion = errors.New("stored data version is newer than supported")
)

// inflight collapses concurrent runs against the same adapter.
var inflight singleflight.Group

// Step transforms data from version From to version To.
type Step struct {
	From  int
	To    int
	Name  string
	Apply func(ctx context.Context, a storage.Adapter) error
}

// Result describes a completed Run.
type Result struct {
	FromVersion  int      `json:"fromVersion"`
	ToVersion    int      `json:"toVersion"`
	FreshInstall bool     `json:"freshInstall"`
	Migrated     bool     `json:"migrated"`
	Steps        []string `json:"steps,omitempty"`
}

// Options configures a Migrator.
type Options struct {
	// Target defaults to CurrentVersion.
	Target int
	// Steps defaults to DefaultSteps().
	Steps []Step
}

// Migrator runs schema migrations against one adapter.
type Migrator struct {
	adapter storage.Adapter
	backups *backup.Manager
	target  int
	steps   []Step
	logger  zerolog.Logger
}

// NewMigrator creates a migrator over adapter.
func NewMigrator(a storage.Adapter, backups *backup.Manager, opts Options) *Migrator {
	if opts.Target <= 0 {
		opts.Target = CurrentVersion
	}
	if opts.Steps == nil {
		opts.Steps = DefaultSteps()
	}
	if backups == nil {
		backups = backup.NewManager(a)
	}
	return &Migrator{
		adapter: a,
		backups: backups,
		target:  opts.Target,
		steps:   opts.Steps,
		logger:  xglog.WithComponent("schema"),
	}
}

// TargetVersion returns the version Run migrates to.
func (m *Migrator) TargetVersion() int { return m.target }

// StoredVersion reads the version marker without writing. ok is false when
// none is stored.
func (m *Migrator) StoredVersion(ctx context.Context) (int, bool, error) {
	raw, ok, err := m.adapter.GetItem(ctx, model.KeyAppDataVersion)
	if err != nil {
		return 0, false, fmt.Errorf("read data version: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return 0, true, storage.Wrap(m.adapter.BackendName(), "get", model.KeyAppDataVersion, storage.KindCorrupt,
			fmt.Errorf("invalid data version %q", raw))
	}
	return v, true, nil
}

// GetAppDataVersion returns the effective data version. A fresh install has
// the target version written immediately; unversioned data that predates
// version tracking reports the legacy version.
func (m *Migrator) GetAppDataVersion(ctx context.Context) (int, error) {
	v, ok, err := m.StoredVersion(ctx)
	if err != nil || ok {
		return v, err
	}
	legacy, err := m.hasLegacyData(ctx)
	if err != nil {
		return 0, err
	}
	if legacy {
		return legacyVersion, nil
	}
	if err := m.writeVersion(ctx, m.target); err != nil {
		return 0, err
	}
	return m.target, nil
}

// NeedsMigration reports whether Run would transform data. It never writes.
func (m *Migrator) NeedsMigration(ctx context.Context) (bool, error) {
	v, ok, err := m.StoredVersion(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		return v < m.target, nil
	}
	return m.hasLegacyData(ctx)
}

// CurrentVersion returns the effective version without writing: the stored
// version, the legacy version for unversioned data, or the target for an
// empty store.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	v, ok, err := m.StoredVersion(ctx)
	if err != nil || ok {
		return v, err
	}
	legacy, err := m.hasLegacyData(ctx)
	if err != nil {
		return 0, err
	}
	if legacy {
		return legacyVersion, nil
	}
	return m.target, nil
}

// Run migrates the data to the target version. Concurrent calls against the
// same adapter share one execution and observe the same outcome. Once
// started, a run completes even if ctx is cancelled.
func (m *Migrator) Run(ctx context.Context) (Result, error) {
	key := fmt.Sprintf("%p", m.adapter)
	v, err, shared := inflight.Do(key, func() (any, error) {
		return m.run(context.WithoutCancel(ctx))
	})
	if shared {
		m.logger.Debug().
			Str(xglog.FieldEvent, "schema.migration.shared").
			Msg("joined in-flight schema migration")
	}
	res, _ := v.(Result)
	return res, err
}

func (m *Migrator) run(ctx context.Context) (res Result, err error) {
	logger := xglog.WithContext(ctx, m.logger)

	stored, ok, err := m.StoredVersion(ctx)
	if err != nil {
		metrics.RecordSchemaMigration("error")
		return Result{}, err
	}
	if !ok {
		legacy, lerr := m.hasLegacyData(ctx)
		if lerr != nil {
			metrics.RecordSchemaMigration("error")
			return Result{}, lerr
		}
		if !legacy {
			if werr := m.writeVersion(ctx, m.target); werr != nil {
				metrics.RecordSchemaMigration("error")
				return Result{}, werr
			}
			metrics.RecordSchemaMigration("fresh")
			logger.Info().
				Str(xglog.FieldEvent, "schema.fresh_install").
				Int(xglog.FieldToVer, m.target).
				Msg("fresh install, data version initialised")
			return Result{FromVersion: m.target, ToVersion: m.target, FreshInstall: true}, nil
		}
		stored = legacyVersion
	}

	switch {
	case stored == m.target:
		metrics.RecordSchemaMigration("noop")
		return Result{FromVersion: stored, ToVersion: stored}, nil
	case stored > m.target:
		metrics.RecordSchemaMigration("error")
		return Result{}, fmt.Errorf("%w: stored %d, supported %d", ErrFutureVersion, stored, m.target)
	}

	plan, err := m.plan(stored)
	if err != nil {
		metrics.RecordSchemaMigration("error")
		return Result{}, err
	}

	ctx, span := telemetry.Tracer("matchvault/schema").Start(ctx, "schema.migrate")
	span.SetAttributes(telemetry.SchemaAttributes(m.adapter.BackendName(), stored, m.target)...)
	defer func() { telemetry.EndSpan(span, err) }()

	logger.Info().
		Str(xglog.FieldEvent, "schema.migration.started").
		Int(xglog.FieldFromVer, stored).
		Int(xglog.FieldToVer, m.target).
		Msg("schema migration started")

	if _, err := m.backups.Create(ctx, m.target); err != nil {
		metrics.RecordSchemaMigration("failed")
		return Result{}, fmt.Errorf("%w: create backup: %w", ErrMigrationFailed, err)
	}

	res = Result{FromVersion: stored, ToVersion: m.target, Migrated: true}
	for _, step := range plan {
		if err := step.Apply(ctx, m.adapter); err != nil {
			return Result{}, m.rollback(ctx, fmt.Errorf("step %s: %w", step.Name, err))
		}
		res.Steps = append(res.Steps, step.Name)
	}
	if err := m.writeVersion(ctx, m.target); err != nil {
		return Result{}, m.rollback(ctx, err)
	}

	if err := m.backups.Clear(ctx); err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "schema.backup.clear_failed").
			Msg("migration succeeded but backup could not be cleared")
	}
	metrics.RecordSchemaMigration("success")
	logger.Info().
		Str(xglog.FieldEvent, "schema.migration.completed").
		Int(xglog.FieldFromVer, stored).
		Int(xglog.FieldToVer, m.target).
		Strs("steps", res.Steps).
		Msg("schema migration completed")
	return res, nil
}

// rollback restores the pre-migration snapshot and returns the error to
// surface. The backup is kept when the restore itself fails.
func (m *Migrator) rollback(ctx context.Context, cause error) error {
	logger := xglog.WithContext(ctx, m.logger)
	metrics.RecordSchemaMigration("rolled_back")

	if err := m.backups.Restore(ctx); err != nil {
		logger.Error().Err(err).AnErr("cause", cause).
			Str(xglog.FieldEvent, "schema.migration.restore_failed").
			Msg("schema migration failed and restore failed, backup retained")
		return fmt.Errorf("%w: %w (restore failed: %v)", ErrMigrationFailed, cause, err)
	}
	if err := m.backups.Clear(ctx); err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "schema.backup.clear_failed").
			Msg("could not clear backup after rollback")
	}
	logger.Error().Err(cause).
		Str(xglog.FieldEvent, "schema.migration.rolled_back").
		Msg("schema migration failed, data restored")
	return fmt.Errorf("%w: %w", ErrMigrationFailed, cause)
}

func (m *Migrator) plan(from int) ([]Step, error) {
	var plan []Step
	for v := from; v < m.target; {
		next, ok := m.stepFrom(v)
		if !ok {
			return nil, fmt.Errorf("%w: from version %d", ErrNoPath, v)
		}
		plan = append(plan, next)
		v = next.To
	}
	return plan, nil
}

func (m *Migrator) stepFrom(v int) (Step, bool) {
	for _, s := range m.steps {
		if s.From == v && s.To > v && s.To <= m.target {
			return s, true
		}
	}
	return Step{}, false
}

func (m *Migrator) hasLegacyData(ctx context.Context) (bool, error) {
	for _, key := range model.DataKeys() {
		_, ok, err := m.adapter.GetItem(ctx, key)
		if err != nil {
			return false, fmt.Errorf("probe legacy data: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *Migrator) writeVersion(ctx context.Context, v int) error {
	if err := m.adapter.SetItem(ctx, model.KeyAppDataVersion, strconv.Itoa(v)); err != nil {
		return fmt.Errorf("write data version: %w", err)
	}
	return nil
}
