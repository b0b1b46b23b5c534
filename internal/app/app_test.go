// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/matchvault/internal/config"
	"github.com/ManuGH/matchvault/internal/model"
	"github.com/ManuGH/matchvault/internal/remote"
	"github.com/ManuGH/matchvault/internal/schema"
	"github.com/ManuGH/matchvault/internal/settings"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/ManuGH/matchvault/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sharedPrimary survives Close so successive builds see the same data.
type sharedPrimary struct{ storage.Adapter }

func (sharedPrimary) Close() error { return nil }

func ptr[T any](v T) *T { return &v }

type harness struct {
	app     *App
	legacy  *storagetest.Faulty
	primary *storage.MemoryAdapter
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	return cfg
}

func newHarness(t *testing.T, probeErr error, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		legacy:  storagetest.NewMemory().Named("legacy"),
		primary: storage.NewMemoryAdapter(0),
	}
	opts = append([]Option{
		WithLegacy(h.legacy),
		WithPrimary(
			func(context.Context) (storage.Adapter, error) {
				return storagetest.Wrap(sharedPrimary{h.primary}).Named("primary"), nil
			},
			func(context.Context) error { return probeErr },
		),
	}, opts...)
	a, err := New(testConfig(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	h.app = a
	return h
}

func seedLegacyInstall(t *testing.T, a storage.Adapter) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.SetItem(ctx, model.KeyMasterRoster, `[{"id":"p1","name":"Aino"}]`))
	require.NoError(t, a.SetItem(ctx, model.KeySavedGames, `{"g1":{"id":"g1","teamName":"Kotka"}}`))
}

func TestBoot_FreshInstall(t *testing.T) {
	h := newHarness(t, nil)

	rep, err := h.app.Boot(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Schema.FreshInstall)

	st := rep.Status
	assert.Equal(t, schema.CurrentVersion, st.CurrentSchemaVersion)
	assert.Equal(t, schema.CurrentVersion, st.TargetSchemaVersion)
	assert.False(t, st.SchemaMigrationNeeded)
	assert.False(t, st.BackendMigrationNeeded)
	assert.False(t, st.HasBackup)
	assert.Equal(t, storage.ModePrimary, st.Mode)
	assert.Equal(t, storage.StateCompleted, st.MigrationState)
	assert.Equal(t, "primary", st.ActiveBackend)
}

func TestBoot_ConcurrentLegacyInstall(t *testing.T) {
	ctx := context.Background()
	h2 := newHarness(t, nil)
	seedLegacyInstall(t, h2.legacy)

	var wg sync.WaitGroup
	results := make([]BootReport, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h2.app.Boot(ctx)
		}(i)
	}
	wg.Wait()

	migrated := 0
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, storage.StateCompleted, results[i].Status.MigrationState)
		assert.Equal(t, schema.CurrentVersion, results[i].Status.CurrentSchemaVersion)
		if results[i].Schema.Migrated {
			migrated++
		}
	}
	assert.Equal(t, 1, migrated, "transform runs exactly once")

	teams, ok, err := h2.primary.GetItem(ctx, model.KeyTeamsIndex)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, teams, "Kotka")

	legacyData, err := storage.Snapshot(ctx, h2.legacy)
	require.NoError(t, err)
	assert.Empty(t, legacyData, "source purged after a completed migration")
}

func TestBoot_SchemaFailureRestoresAndBlocks(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("transform exploded")
	h := newHarness(t, nil, WithSchemaSteps([]schema.Step{{
		From: 1, To: 2, Name: "explode",
		Apply: func(ctx context.Context, a storage.Adapter) error {
			if err := a.SetItem(ctx, model.KeyTeamsIndex, `{}`); err != nil {
				return err
			}
			return boom
		},
	}}))
	seedLegacyInstall(t, h.legacy)
	before, err := storage.Snapshot(ctx, h.legacy)
	require.NoError(t, err)

	_, err = h.app.Boot(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrMigrationFailed)
	assert.ErrorIs(t, err, boom)

	after, err := storage.Snapshot(ctx, h.legacy)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	st := h.app.Status(ctx)
	assert.True(t, st.SchemaMigrationNeeded)
	assert.False(t, st.HasBackup)
	assert.Equal(t, storage.StateNotStarted, st.MigrationState)
}

func TestBoot_UnsupportedPrimaryStaysOnLegacy(t *testing.T) {
	h := newHarness(t, errors.New("no storage engine"))

	rep, err := h.app.Boot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rep.Backend)
	assert.Equal(t, "legacy", rep.Status.ActiveBackend)
	assert.Equal(t, storage.ModeLegacy, rep.Status.Mode)
	assert.True(t, rep.Status.Pinned)
}

func TestRetryBackend_LiftsPin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.app.Factory().UpdateStorageConfig(ctx, func(c *storage.Config) {
		c.MigrationFailureCount = 3
		c.MigrationState = storage.StateRolledBack
	})
	require.NoError(t, err)

	_, err = h.app.Boot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", h.app.Status(ctx).ActiveBackend)

	rep, err := h.app.RetryBackend(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.StateCompleted, rep.State)

	st := h.app.Status(ctx)
	assert.Equal(t, "primary", st.ActiveBackend)
	assert.Zero(t, st.MigrationFailureCount)
}

func TestBoot_SettingsWriteDuringCopyIsKept(t *testing.T) {
	ctx := context.Background()
	primary := storage.NewMemoryAdapter(0)
	target := storagetest.Wrap(sharedPrimary{primary}).Named("primary")
	h := newHarness(t, nil, WithPrimary(
		func(context.Context) (storage.Adapter, error) { return target, nil },
		func(context.Context) error { return nil },
	))
	seedLegacyInstall(t, h.legacy)

	var (
		once    sync.Once
		written = make(chan error, 1)
	)
	target.FailSets(func(key string, _ int) error {
		if key != model.KeySavedGames {
			return nil
		}
		once.Do(func() {
			go func() {
				_, err := h.app.Settings().UpdateSettings(ctx, settings.Patch{
					LastHomeTeamName: ptr("written-during-copy"),
				})
				written <- err
			}()
			// Give the writer time to reach the store while the copy is running.
			time.Sleep(50 * time.Millisecond)
		})
		return nil
	})

	rep, err := h.app.Boot(ctx)
	require.NoError(t, err)
	require.NotNil(t, rep.Backend)
	assert.Equal(t, storage.StateCompleted, rep.Backend.State)
	require.NoError(t, <-written)

	st := h.app.Status(ctx)
	assert.Equal(t, "primary", st.ActiveBackend)
	assert.Equal(t, h.app.Config().Storage.TargetVersion, st.ActiveVersion)

	raw, ok, err := primary.GetItem(ctx, model.KeyAppSettings)
	require.NoError(t, err)
	require.True(t, ok, "settings written during the copy must reach the target")
	assert.Contains(t, raw, "written-during-copy")
	assert.Equal(t, "written-during-copy", h.app.Settings().GetSettings(ctx).LastHomeTeamName)
}

type recordingClient struct {
	mu     sync.Mutex
	pushes map[remote.Entity]int
}

func (c *recordingClient) Push(_ context.Context, entity remote.Entity, _ string, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushes == nil {
		c.pushes = make(map[remote.Entity]int)
	}
	c.pushes[entity]++
	return nil
}

func (c *recordingClient) Ping(context.Context) error { return nil }
func (c *recordingClient) Close() error { return nil }

func TestPushAll(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, nil)
	_, err := h.app.PushAll(ctx)
	assert.ErrorIs(t, err, ErrSyncDisabled)

	client := &recordingClient{}
	h = newHarness(t, nil, WithRemote(client))
	seedLegacyInstall(t, h.legacy)
	_, err = h.app.Boot(ctx)
	require.NoError(t, err)

	res, err := h.app.PushAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.FailureCount())
	assert.Equal(t, 1, client.pushes[remote.EntityPlayers])
	assert.Equal(t, 1, client.pushes[remote.EntityGames])
	assert.Equal(t, 1, client.pushes[remote.EntityTeams])
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	seedLegacyInstall(t, h.legacy)
	_, err := h.app.Boot(ctx)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "export.json")
	snap, err := h.app.Export(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, schema.CurrentVersion, snap.Version)

	require.NoError(t, h.primary.SetItem(ctx, model.KeySeasons, `[{"id":"s9"}]`))
	_, err = h.app.Import(ctx, path)
	require.NoError(t, err)

	_, ok, err := h.primary.GetItem(ctx, model.KeySeasons)
	require.NoError(t, err)
	assert.False(t, ok, "import replaces the data set")
}

func TestIntegration_RealBackends(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	problems, err := a.VerifyPrimary(ctx, false)
	assert.ErrorIs(t, err, ErrNoPrimary)
	assert.Nil(t, problems)

	rep, err := a.Boot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", rep.Status.ActiveBackend)

	name := "Kotka"
	_, err = a.Settings().UpdateSettings(ctx, settings.Patch{LastHomeTeamName: &name})
	require.NoError(t, err)
	assert.Equal(t, name, a.Settings().GetSettings(ctx).LastHomeTeamName)

	problems, err = a.VerifyPrimary(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, problems)

	ready := a.Health().Ready(ctx)
	assert.True(t, ready.Ready)
}
