// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package migration copies application data from the active storage backend
// to the target backend. The source is left untouched until the copy has
// fully succeeded, so an interrupted run never loses data.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/metrics"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/ManuGH/matchvault/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrPinned is returned when the failure ceiling or a forced mode keeps
	// the source backend. Only an operator retry lifts it.
	ErrPinned = errors.New("backend migration pinned to source")
	// ErrPartial is returned when some keys could not be migrated. Migrated
	// keys are kept; the failed ones are listed in the report.
	ErrPartial = errors.New("backend migration partially failed")
	// ErrRolledBack is returned when the migration was abandoned and the
	// source backend stays active.
	ErrRolledBack = errors.New("backend migration rolled back")
	// ErrVerification marks a key whose read-back differs from the source.
	ErrVerification = errors.New("verification mismatch")
)

const defaultVerifyConcurrency = 8

// Options configures an Orchestrator.
type Options struct {
	// Target defaults to storage.ModePrimary.
	Target storage.Mode
	// TargetVersion is written to the config on success; defaults to
	// storage.DefaultStorageVersion.
	TargetVersion string
	// Verify reads every copied key back from the target.
	Verify bool
	// KeepBackup leaves the source data in place after a successful switch.
	KeepBackup bool
	// DryRun snapshots and checksums the source without writing anything.
	DryRun            bool
	VerifyConcurrency int
	Now               func() time.Time
}

// KeyFailure is one key that could not be migrated.
type KeyFailure struct {
	Key  string       `json:"key"`
	Kind storage.Kind `json:"kind"`
	Err  string       `json:"error"`
}

// Report describes a Run.
type Report struct {
	MigrationID string                 `json:"migrationId"`
	Source      string                 `json:"source"`
	Target      string                 `json:"target"`
	Keys        int                    `json:"keys"`
	Copied      int                    `json:"copied"`
	Verified    bool                   `json:"verified"`
	Checksum    string                 `json:"checksum,omitempty"`
	DryRun      bool                   `json:"dryRun"`
	Skipped     bool                   `json:"skipped"`
	State       storage.MigrationState `json:"state"`
	Failures    []KeyFailure           `json:"failures,omitempty"`
	Duration    time.Duration          `json:"duration"`
}

// Orchestrator runs backend migrations through a storage Factory.
type Orchestrator struct {
	factory *storage.Factory
	opts    Options
	logger  zerolog.Logger
	mu      sync.Mutex
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(factory *storage.Factory, opts Options) *Orchestrator {
	if opts.Target == "" {
		opts.Target = storage.ModePrimary
	}
	if opts.TargetVersion == "" {
		opts.TargetVersion = storage.DefaultStorageVersion
	}
	if opts.VerifyConcurrency <= 0 {
		opts.VerifyConcurrency = defaultVerifyConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		factory: factory,
		opts:    opts,
		logger:  xglog.WithComponent("migration"),
	}
}

// Needed reports whether the configured backend differs from the target.
func (o *Orchestrator) Needed(cfg storage.Config) bool {
	return cfg.Mode != o.opts.Target || cfg.MigrationState != storage.StateCompleted
}

// fatalError carries whether the factory already counted the failure.
type fatalError struct {
	err     error
	counted bool
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Run migrates all data to the target backend. Runs are serialised.
func (o *Orchestrator) Run(ctx context.Context) (rep Report, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := o.opts.Now()
	rep = Report{MigrationID: uuid.NewString(), DryRun: o.opts.DryRun, Target: string(o.opts.Target)}
	ctx = xglog.ContextWithMigrationID(ctx, rep.MigrationID)
	logger := xglog.WithContext(ctx, o.logger)
	defer func() { rep.Duration = o.opts.Now().Sub(start) }()

	cfg := o.factory.GetStorageConfig(ctx)
	source := cfg.Mode
	rep.Source = string(source)
	rep.State = cfg.MigrationState

	if source == o.opts.Target && cfg.MigrationState == storage.StateCompleted {
		rep.Skipped = true
		metrics.RecordBackendMigration("noop")
		return rep, nil
	}
	if source == o.opts.Target {
		// An earlier run switched mode but did not finish bookkeeping.
		source = storage.ModeLegacy
		if o.opts.Target == storage.ModeLegacy {
			source = storage.ModePrimary
		}
		rep.Source = string(source)
	}
	if reason, pinned := o.pinned(cfg); pinned {
		metrics.RecordBackendMigration("pinned")
		logger.Warn().
			Str(xglog.FieldEvent, "migration.pinned").
			Str("reason", reason).
			Int("failure_count", cfg.MigrationFailureCount).
			Msg("backend migration skipped, source backend pinned")
		return rep, fmt.Errorf("%w: %s", ErrPinned, reason)
	}
	if !o.opts.DryRun && !o.factory.Supported(ctx, o.opts.Target) {
		metrics.RecordBackendMigration("pinned")
		return rep, fmt.Errorf("%w: %s unsupported on this device", ErrPinned, o.opts.Target)
	}

	ctx, span := telemetry.Tracer("matchvault/migration").Start(ctx, "migration.run")
	span.SetAttributes(telemetry.MigrationAttributes(string(source), string(o.opts.Target), o.opts.DryRun)...)
	defer func() { telemetry.EndSpan(span, err) }()

	logger.Info().
		Str(xglog.FieldEvent, "migration.started").
		Str(xglog.FieldMode, string(source)).
		Str("target", string(o.opts.Target)).
		Bool("dry_run", o.opts.DryRun).
		Msg("backend migration started")

	if !o.opts.DryRun {
		now := o.opts.Now().UTC()
		if _, err := o.factory.UpdateStorageConfig(ctx, func(c *storage.Config) {
			c.MigrationState = storage.StateInProgress
			c.LastMigrationAttempt = &now
		}); err != nil {
			logger.Warn().Err(err).
				Str(xglog.FieldEvent, "migration.state_persist_failed").
				Msg("could not mark migration in progress")
		}
	}

	err = o.migrate(ctx, source, &rep)
	var fatal *fatalError
	switch {
	case err == nil:
		if o.opts.DryRun {
			rep.State = cfg.MigrationState
			metrics.RecordBackendMigration("dry_run")
			return rep, nil
		}
		rep.State = storage.StateCompleted
		metrics.RecordBackendMigration("success")
		logger.Info().
			Str(xglog.FieldEvent, "migration.completed").
			Int("keys", rep.Keys).
			Bool("verified", rep.Verified).
			Str("checksum", rep.Checksum).
			Msg("backend migration completed")
		return rep, nil

	case errors.As(err, &fatal):
		rep.State = storage.StateRolledBack
		o.finishFatal(ctx, source, fatal.counted)
		metrics.RecordBackendMigration("rolled_back")
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "migration.rolled_back").
			Msg("backend migration failed, staying on source backend")
		return rep, fmt.Errorf("%w: %w", ErrRolledBack, fatal.err)

	default:
		rep.State = storage.StateFailed
		o.finishPartial(ctx, source)
		metrics.RecordBackendMigration("partial")
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "migration.partial").
			Int("failed_keys", len(rep.Failures)).
			Msg("backend migration partially failed")
		return rep, err
	}
}

func (o *Orchestrator) pinned(cfg storage.Config) (string, bool) {
	if cfg.MigrationFailureCount >= o.factory.FailureCeiling() {
		return "failure_ceiling", true
	}
	if cfg.ForceMode != nil && *cfg.ForceMode != o.opts.Target {
		return "forced_mode", true
	}
	return "", false
}

// migrate copies and verifies. A *fatalError aborts the migration; any
// other error is a recoverable partial failure.
func (o *Orchestrator) migrate(ctx context.Context, source storage.Mode, rep *Report) error {
	src, err := o.open(ctx, source)
	if err != nil {
		return &fatalError{err: fmt.Errorf("open source: %w", err)}
	}
	defer o.release(src)
	rep.Source = src.BackendName()

	data, err := storage.Snapshot(ctx, src)
	if err != nil {
		return &fatalError{err: fmt.Errorf("snapshot source: %w", err)}
	}
	rep.Keys = len(data)
	rep.Checksum = CalculateChecksum(data)
	if o.opts.DryRun {
		return nil
	}

	dst, served, err := o.factory.GetAdapterForMode(ctx, o.opts.Target)
	if err != nil {
		return &fatalError{err: fmt.Errorf("open target: %w", err)}
	}
	if served != o.opts.Target {
		// The factory already counted the self-test failure.
		return &fatalError{err: fmt.Errorf("target %s failed self-test", o.opts.Target), counted: true}
	}
	defer o.release(dst)
	rep.Target = dst.BackendName()

	copied, err := o.copy(ctx, dst, data, rep)
	if err != nil {
		o.discard(ctx, dst, copied)
		return err
	}
	if o.opts.Verify {
		failed := len(rep.Failures)
		if err := o.verify(ctx, dst, data, copied, rep); err != nil {
			o.discard(ctx, dst, copied)
			return err
		}
		rep.Verified = len(rep.Failures) == failed
	}
	if len(rep.Failures) > 0 {
		return fmt.Errorf("%w: %d of %d keys", ErrPartial, len(rep.Failures), rep.Keys)
	}

	if err := RecordMigration(ctx, dst, HistoryRecord{
		MigrationID:  rep.MigrationID,
		Source:       rep.Source,
		Target:       rep.Target,
		RecordCount:  rep.Keys,
		Checksum:     rep.Checksum,
		MigratedAtMs: o.opts.Now().UnixMilli(),
	}); err != nil {
		return &fatalError{err: fmt.Errorf("record history: %w", err)}
	}

	if _, err := o.factory.UpdateStorageConfig(ctx, func(c *storage.Config) {
		c.Mode = o.opts.Target
		c.ForceMode = nil
		c.Version = o.opts.TargetVersion
		c.MigrationState = storage.StateCompleted
	}); err != nil {
		return &fatalError{err: fmt.Errorf("switch mode: %w", err)}
	}

	if !o.opts.KeepBackup {
		o.purgeSource(ctx, src, data)
	}
	return nil
}

// copy writes every key in key order. Unavailability aborts; other
// per-key failures are recorded and skipped.
func (o *Orchestrator) copy(ctx context.Context, dst storage.Adapter, data map[string]string, rep *Report) ([]string, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	copied := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := dst.SetItem(ctx, k, data[k]); err != nil {
			kind := storage.KindOf(err)
			if kind == storage.KindUnavailable {
				metrics.AddBackendMigrationKeys("copied", len(copied))
				return copied, &fatalError{err: fmt.Errorf("copy %q: %w", k, err)}
			}
			rep.Failures = append(rep.Failures, KeyFailure{Key: k, Kind: kind, Err: err.Error()})
			o.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "migration.key_failed").
				Str(xglog.FieldKey, k).
				Str(xglog.FieldKind, string(kind)).
				Msg("key could not be copied")
			continue
		}
		copied = append(copied, k)
	}
	rep.Copied = len(copied)
	metrics.AddBackendMigrationKeys("copied", len(copied))
	metrics.AddBackendMigrationKeys("failed", len(rep.Failures))
	return copied, nil
}

// verify reads copied keys back concurrently and records mismatches.
func (o *Orchestrator) verify(ctx context.Context, dst storage.Adapter, data map[string]string, copied []string, rep *Report) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.VerifyConcurrency)

	for _, k := range copied {
		g.Go(func() error {
			got, ok, err := dst.GetItem(gctx, k)
			if err != nil && storage.KindOf(err) == storage.KindUnavailable {
				return &fatalError{err: fmt.Errorf("verify %q: %w", k, err)}
			}
			var failure *KeyFailure
			switch {
			case err != nil:
				failure = &KeyFailure{Key: k, Kind: storage.KindOf(err), Err: err.Error()}
			case !ok || got != data[k]:
				failure = &KeyFailure{Key: k, Kind: storage.KindCorrupt, Err: ErrVerification.Error()}
			}
			if failure != nil {
				mu.Lock()
				rep.Failures = append(rep.Failures, *failure)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	sort.Slice(rep.Failures, func(i, j int) bool { return rep.Failures[i].Key < rep.Failures[j].Key })
	return nil
}

func (o *Orchestrator) finishPartial(ctx context.Context, source storage.Mode) {
	if _, err := o.factory.UpdateStorageConfig(ctx, func(c *storage.Config) {
		c.Mode = source
		c.MigrationState = storage.StateFailed
	}); err != nil {
		o.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "migration.state_persist_failed").
			Msg("could not persist partial migration state")
	}
}

func (o *Orchestrator) finishFatal(ctx context.Context, source storage.Mode, counted bool) {
	now := o.opts.Now().UTC()
	if _, err := o.factory.UpdateStorageConfig(ctx, func(c *storage.Config) {
		c.Mode = source
		c.MigrationState = storage.StateRolledBack
		c.LastMigrationAttempt = &now
		if !counted {
			c.MigrationFailureCount++
		}
	}); err != nil {
		o.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "migration.state_persist_failed").
			Msg("could not persist rolled back state")
	}
}

// discard removes keys written to the target by an abandoned run.
func (o *Orchestrator) discard(ctx context.Context, dst storage.Adapter, keys []string) {
	for _, k := range keys {
		if err := dst.RemoveItem(ctx, k); err != nil {
			o.logger.Debug().Err(err).
				Str(xglog.FieldKey, k).
				Msg("could not remove copied key from abandoned target")
			return
		}
	}
}

// purgeSource frees the source after a successful switch.
func (o *Orchestrator) purgeSource(ctx context.Context, src storage.Adapter, data map[string]string) {
	for k := range data {
		if err := src.RemoveItem(ctx, k); err != nil {
			o.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "migration.purge_failed").
				Str(xglog.FieldKey, k).
				Msg("could not purge source key after migration")
			return
		}
	}
}

func (o *Orchestrator) open(ctx context.Context, mode storage.Mode) (storage.Adapter, error) {
	if mode == storage.ModeLegacy {
		return o.factory.Legacy(), nil
	}
	a, served, err := o.factory.GetAdapterForMode(ctx, mode)
	if err != nil {
		return nil, err
	}
	if served != mode {
		return nil, fmt.Errorf("source %s unavailable", mode)
	}
	return a, nil
}

func (o *Orchestrator) release(a storage.Adapter) {
	if a == o.factory.Legacy() {
		return
	}
	if err := a.Close(); err != nil {
		o.logger.Debug().Err(err).Msg("close migration adapter")
	}
}
