// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package app is the composition root: it opens the backends, runs the boot
// flow and exposes the status, settings, backup and sync operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ManuGH/matchvault/internal/config"
	"github.com/ManuGH/matchvault/internal/health"
	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/migration"
	"github.com/ManuGH/matchvault/internal/remote"
	"github.com/ManuGH/matchvault/internal/resilience"
	"github.com/ManuGH/matchvault/internal/schema"
	"github.com/ManuGH/matchvault/internal/settings"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/rs/zerolog"
)

// Option customises an App.
type Option func(*App)

// WithConfigSource supplies the live configuration; retry and sync settings
// are read from it on every sync run.
func WithConfigSource(get func() config.AppConfig) Option {
	return func(a *App) { a.live = get }
}

// WithPrimary replaces the configured primary engine.
func WithPrimary(build storage.PrimaryBuilder, probe storage.Probe) Option {
	return func(a *App) {
		a.engine.build = build
		a.engine.probe = probe
	}
}

// WithLegacy replaces the on-disk legacy backend. The App does not close it.
func WithLegacy(legacy storage.Adapter) Option {
	return func(a *App) { a.legacy = legacy }
}

// WithRemote replaces the configured remote client. The App does not close it.
func WithRemote(c remote.Client) Option {
	return func(a *App) { a.client = c }
}

// WithSchemaSteps replaces the schema transforms.
func WithSchemaSteps(steps []schema.Step) Option {
	return func(a *App) { a.schemaSteps = steps }
}

// App wires the storage core together.
type App struct {
	cfg    config.AppConfig
	live   func() config.AppConfig
	logger zerolog.Logger

	engine      engine
	legacy      storage.Adapter
	ownsLegacy  bool
	factory     *storage.Factory
	settings    *settings.Store
	health      *health.Manager
	schemaSteps []schema.Step

	bootMu sync.Mutex
	// dataMu excludes settings writes while data is copied or replaced.
	dataMu sync.RWMutex

	syncMu     sync.Mutex
	client     remote.Client
	ownsClient bool
	breaker    *resilience.CircuitBreaker
}

// New opens the legacy backend and builds the factory. It does not touch
// user data; call Boot for that.
func New(cfg config.AppConfig, opts ...Option) (*App, error) {
	eng, err := primaryEngine(cfg.DataDir, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: xglog.WithComponent("app"),
		engine: eng,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.live == nil {
		a.live = func() config.AppConfig { return cfg }
	}

	if a.legacy == nil {
		legacy, err := storage.OpenLegacy(filepath.Join(cfg.DataDir, legacyFile), storage.LegacyOptions{
			QuotaBytes: cfg.Storage.LegacyQuotaBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("open legacy backend: %w", err)
		}
		a.legacy = legacy
		a.ownsLegacy = true
	}

	a.factory = storage.NewFactory(a.legacy, storage.NewConfigStore(a.legacy), storage.FactoryOptions{
		Primary:        a.engine.build,
		Probe:          a.engine.probe,
		ProbeTimeout:   cfg.Storage.ProbeTimeout,
		FailureCeiling: cfg.Storage.FailureCeiling,
	})
	a.settings = settings.NewStore(a.factory, settings.WithWriteGate(a.dataMu.RLocker()))

	a.health = health.NewManager(cfg.Version)
	a.health.RegisterChecker(health.NewDataDirChecker(cfg.DataDir))
	a.health.RegisterChecker(health.NewStorageChecker(a.factory))
	a.health.RegisterChecker(health.NewMigrationChecker(a.factory))

	return a, nil
}

// Factory returns the storage factory.
func (a *App) Factory() *storage.Factory { return a.factory }

// Settings returns the settings store.
func (a *App) Settings() *settings.Store { return a.settings }

// Health returns the health manager.
func (a *App) Health() *health.Manager { return a.health }

// Config returns the startup configuration.
func (a *App) Config() config.AppConfig { return a.cfg }

func (a *App) migrator(adapter storage.Adapter) *schema.Migrator {
	return schema.NewMigrator(adapter, nil, schema.Options{
		Target: a.cfg.Storage.TargetSchemaVersion,
		Steps:  a.schemaSteps,
	})
}

// MigrateOptions overrides the configured backend migration behaviour.
type MigrateOptions struct {
	DryRun bool
	Verify *bool
}

func (a *App) orchestrator(o MigrateOptions) *migration.Orchestrator {
	verify := a.cfg.Storage.VerifyMigration
	if o.Verify != nil {
		verify = *o.Verify
	}
	target, err := storage.ParseMode(a.cfg.Storage.TargetMode)
	if err != nil {
		target = storage.ModePrimary
	}
	return migration.NewOrchestrator(a.factory, migration.Options{
		Target:        target,
		TargetVersion: a.cfg.Storage.TargetVersion,
		Verify:        verify,
		KeepBackup:    a.cfg.Storage.KeepBackup,
		DryRun:        o.DryRun,
	})
}

// Close releases every backend and the remote client.
func (a *App) Close() error {
	var errs []error
	a.syncMu.Lock()
	if a.ownsClient && a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}
	a.syncMu.Unlock()

	errs = append(errs, a.factory.Close())
	if a.ownsLegacy {
		errs = append(errs, a.legacy.Close())
	}
	return errors.Join(errs...)
}

// ctxLogger is the app logger enriched from ctx.
func (a *App) ctxLogger(ctx context.Context) zerolog.Logger {
	return xglog.WithContext(ctx, a.logger)
}
