// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/ManuGH/matchvault/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type factoryFixture struct {
	legacy  *storagetest.Faulty
	configs *storage.ConfigStore
	builds  atomic.Int32
	built   []*storagetest.Faulty
	// breakPrimary makes every built primary fail its self-test.
	breakPrimary bool
	probeErr     error
}

func newFactoryFixture() *factoryFixture {
	legacy := storagetest.NewMemory().Named("legacy")
	return &factoryFixture{legacy: legacy, configs: storage.NewConfigStore(legacy)}
}

func (fx *factoryFixture) factory(ceiling int) *storage.Factory {
	return storage.NewFactory(fx.legacy, fx.configs, storage.FactoryOptions{
		Primary: func(context.Context) (storage.Adapter, error) {
			fx.builds.Add(1)
			a := storagetest.NewMemory().Named("primary")
			if fx.breakPrimary {
				a.FailSets(func(string, int) error { return storagetest.Unavailable("set") })
			}
			fx.built = append(fx.built, a)
			return a, nil
		},
		Probe:          func(context.Context) error { return fx.probeErr },
		ProbeTimeout:   200 * time.Millisecond,
		FailureCeiling: ceiling,
	})
}

func (fx *factoryFixture) setMode(t *testing.T, mode storage.Mode, failures int) {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Mode = mode
	cfg.MigrationFailureCount = failures
	require.NoError(t, fx.configs.Save(context.Background(), cfg))
}

func TestFactory_FirstRunPersistsDefaultsAndServesLegacy(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	f := fx.factory(3)

	a, err := f.GetAdapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", a.BackendName())
	assert.True(t, fx.configs.Exists(ctx))
	assert.Equal(t, storage.DefaultConfig(), f.GetStorageConfig(ctx))
	assert.Equal(t, storage.ModeLegacy, f.ActiveMode())
}

func TestFactory_PrimaryIsBuiltOnceAndCached(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	fx.setMode(t, storage.ModePrimary, 0)
	f := fx.factory(3)

	a1, err := f.GetAdapter(ctx)
	require.NoError(t, err)
	a2, err := f.GetAdapter(ctx)
	require.NoError(t, err)

	assert.Equal(t, "primary", a1.BackendName())
	assert.Same(t, a1, a2)
	assert.Equal(t, int32(1), fx.builds.Load())
}

func TestFactory_UnsupportedPrimaryPinsLegacy(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	fx.setMode(t, storage.ModePrimary, 0)
	fx.probeErr = errors.New("private browsing")
	f := fx.factory(3)

	a, err := f.GetAdapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", a.BackendName())
	assert.Equal(t, int32(0), fx.builds.Load())

	cfg := f.GetStorageConfig(ctx)
	assert.Equal(t, storage.ModeLegacy, cfg.Mode)
	require.NotNil(t, cfg.ForceMode)
	assert.Equal(t, storage.ModeLegacy, *cfg.ForceMode)

	// The pin survives a new factory even when the probe would now succeed.
	fx.probeErr = nil
	a, err = fx.factory(3).GetAdapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", a.BackendName())
}

func TestFactory_SelfTestFailureFallsBackInSameCall(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	fx.setMode(t, storage.ModePrimary, 0)
	fx.breakPrimary = true
	f := fx.factory(3)

	a, err := f.GetAdapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", a.BackendName())
	require.Len(t, fx.built, 1)
	assert.True(t, fx.built[0].Closed(), "broken primary must be closed")

	cfg := f.GetStorageConfig(ctx)
	assert.Equal(t, 1, cfg.MigrationFailureCount)
	assert.Equal(t, storage.StateFailed, cfg.MigrationState)
	assert.Equal(t, storage.ModeLegacy, cfg.Mode)
	assert.NotNil(t, cfg.LastMigrationAttempt)
}

func TestFactory_CeilingPinsLegacyWithoutBuilding(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	fx.setMode(t, storage.ModePrimary, 3)
	f := fx.factory(3)

	a, err := f.GetAdapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", a.BackendName())
	assert.Equal(t, int32(0), fx.builds.Load())
}

func TestFactory_ForcedModeBypassesCache(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	f := fx.factory(3)

	a1, served, err := f.GetAdapterForMode(ctx, storage.ModePrimary)
	require.NoError(t, err)
	assert.Equal(t, storage.ModePrimary, served)
	a2, _, err := f.GetAdapterForMode(ctx, storage.ModePrimary)
	require.NoError(t, err)

	assert.NotSame(t, a1, a2)
	assert.Equal(t, int32(2), fx.builds.Load())
	assert.Equal(t, storage.Mode(""), f.ActiveMode(), "forced construction must not populate the cache")
}

func TestFactory_ForcedPrimaryFailureReportsLegacy(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	fx.breakPrimary = true
	f := fx.factory(3)

	a, served, err := f.GetAdapterForMode(ctx, storage.ModePrimary)
	require.NoError(t, err)
	assert.Equal(t, storage.ModeLegacy, served)
	assert.Equal(t, "legacy", a.BackendName())
	assert.Equal(t, 1, f.GetStorageConfig(ctx).MigrationFailureCount)
}

func TestFactory_ModeChangeInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	fx.setMode(t, storage.ModePrimary, 0)
	f := fx.factory(3)

	_, err := f.GetAdapter(ctx)
	require.NoError(t, err)
	require.Len(t, fx.built, 1)

	_, err = f.UpdateStorageConfig(ctx, func(c *storage.Config) { c.Mode = storage.ModeLegacy })
	require.NoError(t, err)
	assert.True(t, fx.built[0].Closed())

	a, err := f.GetAdapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", a.BackendName())
}

func TestFactory_ResetMigrationFailuresLiftsPin(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	fx.setMode(t, storage.ModePrimary, 3)
	f := fx.factory(3)

	a, err := f.GetAdapter(ctx)
	require.NoError(t, err)
	require.Equal(t, "legacy", a.BackendName())

	cfg, err := f.ResetMigrationFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MigrationFailureCount)
	assert.Nil(t, cfg.ForceMode)

	_, err = f.UpdateStorageConfig(ctx, func(c *storage.Config) { c.Mode = storage.ModePrimary })
	require.NoError(t, err)
	a, err = f.GetAdapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, "primary", a.BackendName())
}

func TestFactory_LegacySelfTestFailureIsAnError(t *testing.T) {
	ctx := context.Background()
	fx := newFactoryFixture()
	f := fx.factory(3)
	fx.legacy.FailAll(storagetest.Unavailable("any"))

	_, err := f.GetAdapter(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
}
