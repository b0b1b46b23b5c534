// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"sync"
	"time"

	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultFailureCeiling is how many failed attempts pin the legacy backend.
const DefaultFailureCeiling = 3

// PrimaryBuilder opens a fresh primary adapter.
type PrimaryBuilder func(ctx context.Context) (Adapter, error)

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	Primary        PrimaryBuilder
	Probe          Probe
	ProbeTimeout   time.Duration
	FailureCeiling int
	Now            func() time.Time
}

// Factory resolves the adapter to use from the persisted Config and live
// capability probing. It caches the adapter of the resolved mode and owns
// the fallback to the legacy backend.
type Factory struct {
	legacy  Adapter
	configs *ConfigStore
	opts    FactoryOptions
	logger  zerolog.Logger

	mu     sync.Mutex
	cache  map[Mode]Adapter
	active Mode
	probed *bool
}

// NewFactory creates a factory. legacy is always available and is never
// closed by the factory.
func NewFactory(legacy Adapter, configs *ConfigStore, opts FactoryOptions) *Factory {
	if opts.FailureCeiling <= 0 {
		opts.FailureCeiling = DefaultFailureCeiling
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Factory{
		legacy:  legacy,
		configs: configs,
		opts:    opts,
		logger:  xglog.WithComponent("storage.factory"),
		cache:   make(map[Mode]Adapter),
	}
}

// Configs exposes the config store the factory reads.
func (f *Factory) Configs() *ConfigStore { return f.configs }

// Legacy returns the legacy adapter.
func (f *Factory) Legacy() Adapter { return f.legacy }

// FailureCeiling returns the configured ceiling.
func (f *Factory) FailureCeiling() int { return f.opts.FailureCeiling }

// GetStorageConfig returns the persisted config, defaults for unreadable fields.
func (f *Factory) GetStorageConfig(ctx context.Context) Config {
	return f.configs.Load(ctx)
}

// UpdateStorageConfig mutates the persisted config and drops the cached
// adapter if the mode changed.
func (f *Factory) UpdateStorageConfig(ctx context.Context, fn func(*Config)) (Config, error) {
	cfg, err := f.configs.Update(ctx, fn)
	if err != nil {
		return cfg, err
	}
	f.mu.Lock()
	if f.active != "" && f.active != f.effectiveMode(cfg) {
		f.invalidateLocked()
	}
	f.mu.Unlock()
	return cfg, nil
}

// ActiveMode returns the mode of the cached adapter, or "" before the first
// resolution.
func (f *Factory) ActiveMode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// GetAdapter returns the adapter for the persisted mode, building and
// self-testing it on first use. Callers never receive a non-functional
// adapter: a primary that cannot be used degrades to legacy in the same call.
func (f *Factory) GetAdapter(ctx context.Context) (Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.configs.Exists(ctx) {
		if err := f.configs.Save(ctx, DefaultConfig()); err != nil {
			f.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "storage.config.init_failed").
				Msg("could not persist default storage config")
		}
	}

	cfg := f.configs.Load(ctx)
	mode := f.resolveMode(ctx, cfg)
	if a, ok := f.cache[mode]; ok {
		return a, nil
	}

	f.invalidateLocked()
	a, served, err := f.construct(ctx, mode)
	if err != nil {
		return nil, err
	}
	f.cache[served] = a
	f.active = served
	return a, nil
}

// GetAdapterForMode builds a fresh adapter for mode, bypassing the cache.
// The returned Mode is what was actually served; it differs from mode when
// the primary failed and the call fell back to legacy. The caller owns a
// returned primary adapter and must Close it.
func (f *Factory) GetAdapterForMode(ctx context.Context, mode Mode) (Adapter, Mode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.construct(ctx, mode)
}

// Probe runs the bounded capability handshake for the primary backend.
func (f *Factory) Probe(ctx context.Context) bool {
	return ProbeWithin(ctx, f.opts.ProbeTimeout, f.opts.Probe)
}

// Supported reports whether mode can be served on this device. An
// unsupported primary pins legacy exactly as GetAdapter would.
func (f *Factory) Supported(ctx context.Context, mode Mode) bool {
	if mode != ModePrimary {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.primarySupported(ctx) {
		return true
	}
	f.pinLegacy(ctx, f.configs.Load(ctx), "unsupported")
	return false
}

// Invalidate closes and forgets the cached adapter.
func (f *Factory) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidateLocked()
}

// ResetMigrationFailures is the explicit operator retry: it clears the
// failure counter and any forced mode so the primary is attempted again.
func (f *Factory) ResetMigrationFailures(ctx context.Context) (Config, error) {
	cfg, err := f.configs.Update(ctx, func(c *Config) {
		c.MigrationFailureCount = 0
		c.ForceMode = nil
		if c.MigrationState == StateFailed || c.MigrationState == StateRolledBack {
			c.MigrationState = StateNotStarted
		}
	})
	if err != nil {
		return cfg, err
	}
	f.logger.Info().
		Str(xglog.FieldEvent, "storage.factory.retry_requested").
		Msg("migration failure counter reset by operator")
	f.Invalidate()
	return cfg, nil
}

// Close releases the cached primary adapter.
func (f *Factory) Close() error {
	f.Invalidate()
	return nil
}

func (f *Factory) effectiveMode(cfg Config) Mode {
	if cfg.ForceMode != nil {
		return *cfg.ForceMode
	}
	return cfg.Mode
}

func (f *Factory) resolveMode(ctx context.Context, cfg Config) Mode {
	if f.effectiveMode(cfg) != ModePrimary {
		return ModeLegacy
	}
	if cfg.MigrationFailureCount >= f.opts.FailureCeiling {
		f.pinLegacy(ctx, cfg, "failure_ceiling")
		return ModeLegacy
	}
	if !f.primarySupported(ctx) {
		f.pinLegacy(ctx, cfg, "unsupported")
		return ModeLegacy
	}
	return ModePrimary
}

func (f *Factory) primarySupported(ctx context.Context) bool {
	if f.opts.Primary == nil {
		return false
	}
	if f.probed == nil {
		ok := f.Probe(ctx)
		f.probed = &ok
	}
	return *f.probed
}

// pinLegacy persists a one-way downgrade; only ResetMigrationFailures lifts it.
func (f *Factory) pinLegacy(ctx context.Context, cfg Config, reason string) {
	metrics.RecordStorageFallback(reason)
	f.logger.Warn().
		Str(xglog.FieldEvent, "storage.factory.fallback").
		Str("reason", reason).
		Int("failure_count", cfg.MigrationFailureCount).
		Msg("primary backend not usable, pinning legacy backend")

	if cfg.Mode == ModeLegacy && cfg.ForceMode != nil && *cfg.ForceMode == ModeLegacy {
		return
	}
	if _, err := f.configs.Update(ctx, func(c *Config) {
		legacy := ModeLegacy
		c.Mode = ModeLegacy
		c.ForceMode = &legacy
	}); err != nil {
		f.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "storage.factory.pin_persist_failed").
			Msg("could not persist legacy pin")
	}
}

func (f *Factory) construct(ctx context.Context, mode Mode) (Adapter, Mode, error) {
	if mode == ModePrimary {
		a, err := f.buildPrimary(ctx)
		if err == nil {
			return a, ModePrimary, nil
		}
		f.recordSelfTestFailure(ctx, err)
	}

	if err := SelfTest(ctx, f.legacy); err != nil {
		metrics.RecordSelfTestFailure(f.legacy.BackendName())
		f.logger.Error().Err(err).
			Str(xglog.FieldEvent, "storage.factory.legacy_selftest_failed").
			Msg("legacy backend failed self-test")
		return nil, ModeLegacy, Wrap(f.legacy.BackendName(), "selftest", "", KindUnavailable, err)
	}
	return f.legacy, ModeLegacy, nil
}

func (f *Factory) buildPrimary(ctx context.Context) (Adapter, error) {
	if f.opts.Primary == nil {
		return nil, &Error{Kind: KindUnavailable, Backend: "primary", Op: "open", Err: ErrClosed}
	}
	a, err := f.opts.Primary(ctx)
	if err != nil {
		return nil, Wrap("primary", "open", "", KindUnavailable, err)
	}
	if err := SelfTest(ctx, a); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (f *Factory) recordSelfTestFailure(ctx context.Context, cause error) {
	metrics.RecordSelfTestFailure("primary")
	now := f.opts.Now().UTC()
	cfg, err := f.configs.Update(ctx, func(c *Config) {
		c.MigrationFailureCount++
		c.MigrationState = StateFailed
		c.Mode = ModeLegacy
		c.LastMigrationAttempt = &now
	})
	ev := f.logger.Warn().Err(cause).
		Str(xglog.FieldEvent, "storage.factory.selftest_failed").
		Str(xglog.FieldKind, string(KindOf(cause))).
		Int("failure_count", cfg.MigrationFailureCount)
	if err != nil {
		ev = ev.AnErr("persist_error", err)
	}
	ev.Msg("primary backend failed construction or self-test, falling back to legacy")
}

func (f *Factory) invalidateLocked() {
	for mode, a := range f.cache {
		if a != f.legacy {
			if err := a.Close(); err != nil {
				f.logger.Debug().Err(err).
					Str(xglog.FieldMode, string(mode)).
					Msg("close cached adapter")
			}
		}
		delete(f.cache, mode)
	}
	f.active = ""
	f.probed = nil
}
