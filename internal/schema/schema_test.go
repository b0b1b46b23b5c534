// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schema_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/matchvault/internal/backup"
	"github.com/ManuGH/matchvault/internal/model"
	"github.com/ManuGH/matchvault/internal/schema"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/ManuGH/matchvault/internal/storage/storagetest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var legacyData = map[string]string{
	model.KeyMasterRoster: `[{"id":"p1","name":"Ada","jersey":9},{"id":"p2","name":"Bo"}]`,
	model.KeySavedGames:   `{"g1":{"teamName":"Lions","score":3},"g2":{"teamName":"Lions"},"g3":{"teamName":"Owls"}}`,
	model.KeySeasons:      `[{"id":"s1"}]`,
}

func seed(t *testing.T, a storage.Adapter, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		require.NoError(t, a.SetItem(context.Background(), k, v))
	}
}

func dump(t *testing.T, a storage.Adapter) map[string]string {
	t.Helper()
	out, err := storage.Snapshot(context.Background(), a)
	require.NoError(t, err)
	return out
}

// countingSteps wraps the default chain and counts transform executions.
func countingSteps(n *atomic.Int32) []schema.Step {
	steps := []schema.Step{
		schema.FlattenMasterRoster(func() string { return "team_default" }, func() time.Time {
			return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		}),
	}
	inner := steps[0].Apply
	steps[0].Apply = func(ctx context.Context, a storage.Adapter) error {
		n.Add(1)
		return inner(ctx, a)
	}
	return steps
}

func TestFreshInstall_WritesCurrentVersionWithoutTransform(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	a := storage.NewMemoryAdapter(0)
	m := schema.NewMigrator(a, nil, schema.Options{Steps: countingSteps(&calls)})

	v, err := m.GetAppDataVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.CurrentVersion, v)

	raw, ok, err := a.GetItem(ctx, model.KeyAppDataVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", raw)

	res, err := m.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Migrated)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRun_FreshInstall(t *testing.T) {
	res, err := schema.NewMigrator(storage.NewMemoryAdapter(0), nil, schema.Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.FreshInstall)
	assert.Equal(t, schema.CurrentVersion, res.ToVersion)
}

func TestRun_FlattensMasterRoster(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	a := storage.NewMemoryAdapter(0)
	seed(t, a, legacyData)
	m := schema.NewMigrator(a, nil, schema.Options{Steps: countingSteps(&calls)})

	need, err := m.NeedsMigration(ctx)
	require.NoError(t, err)
	assert.True(t, need)

	res, err := m.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Migrated)
	assert.Equal(t, 1, res.FromVersion)
	assert.Equal(t, []string{"flatten-master-roster"}, res.Steps)

	state := dump(t, a)
	assert.Equal(t, "2", state[model.KeyAppDataVersion])
	assert.Equal(t, legacyData[model.KeyMasterRoster], state[model.KeyMasterRoster])
	assert.Equal(t, legacyData[model.KeySeasons], state[model.KeySeasons])

	var teams map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(state[model.KeyTeamsIndex]), &teams))
	require.Contains(t, teams, "team_default")
	assert.Equal(t, "Lions", teams["team_default"]["name"])
	assert.Equal(t, true, teams["team_default"]["isDefault"])

	var rosters map[string]struct {
		TeamID  string           `json:"teamId"`
		Players []map[string]any `json:"players"`
	}
	require.NoError(t, json.Unmarshal([]byte(state[model.KeyTeamRosters]), &rosters))
	require.Len(t, rosters["team_default"].Players, 2)
	assert.Equal(t, float64(9), rosters["team_default"].Players[0]["jersey"])

	var games map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(state[model.KeySavedGames]), &games))
	require.Len(t, games, 3)
	for id, g := range games {
		assert.Equal(t, "team_default", g["teamId"], id)
	}
	assert.Equal(t, float64(3), games["g1"]["score"])

	has, err := backup.NewManager(a).Has(ctx)
	require.NoError(t, err)
	assert.False(t, has, "backup cleared after success")
}

func TestRun_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := storagetest.NewMemory()
	seed(t, f, legacyData)
	m := schema.NewMigrator(f, nil, schema.Options{})

	_, err := m.Run(ctx)
	require.NoError(t, err)

	before := f.Mutations()
	res, err := m.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Migrated)
	assert.Equal(t, before, f.Mutations(), "second run must not write")
}

func TestRun_ConcurrentCallsShareOneExecution(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	var versionWrites atomic.Int32

	f := storagetest.NewMemory()
	seed(t, f, legacyData)
	f.Delay(5 * time.Millisecond)
	f.FailSets(func(key string, _ int) error {
		if key == model.KeyAppDataVersion {
			versionWrites.Add(1)
		}
		return nil
	})
	m := schema.NewMigrator(f, nil, schema.Options{Steps: countingSteps(&calls)})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Run(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), versionWrites.Load())
}

func TestRun_SeparateMigratorsSameAdapterShareExecution(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	f := storagetest.NewMemory()
	seed(t, f, legacyData)
	f.Delay(5 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := schema.NewMigrator(f, nil, schema.Options{Steps: countingSteps(&calls)}).Run(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	v, err := schema.NewMigrator(f, nil, schema.Options{}).GetAppDataVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.CurrentVersion, v)
}

func TestRun_FailureRestoresByteIdenticalState(t *testing.T) {
	ctx := context.Background()
	f := storagetest.NewMemory()
	seed(t, f, legacyData)
	before := dump(t, f)

	// Fail the third data write: teams index and rosters land, games do not.
	var dataWrites int
	f.FailSets(func(key string, _ int) error {
		if storage.IsReserved(key) {
			return nil
		}
		dataWrites++
		if dataWrites == 3 {
			return storagetest.Quota(key)
		}
		return nil
	})

	_, err := schema.NewMigrator(f, nil, schema.Options{}).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrMigrationFailed)
	assert.True(t, errors.Is(err, storage.ErrQuota))

	f.FailSets(nil)
	if diff := cmp.Diff(before, dump(t, f)); diff != "" {
		t.Fatalf("state after failed migration differs (-want +got):\n%s", diff)
	}
	has, err := backup.NewManager(f).Has(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	// The guard was released: a later run may retry and succeed.
	res, err := schema.NewMigrator(f, nil, schema.Options{}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Migrated)
}

func TestRun_StepErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	a := storage.NewMemoryAdapter(0)
	seed(t, a, legacyData)
	before := dump(t, a)

	boom := errors.New("transform exploded")
	steps := []schema.Step{{From: 1, To: 2, Name: "partial", Apply: func(ctx context.Context, a storage.Adapter) error {
		if err := a.SetItem(ctx, model.KeyMasterRoster, "[]"); err != nil {
			return err
		}
		if err := a.RemoveItem(ctx, model.KeySeasons); err != nil {
			return err
		}
		return boom
	}}}

	_, err := schema.NewMigrator(a, nil, schema.Options{Steps: steps}).Run(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, schema.ErrMigrationFailed)
	if diff := cmp.Diff(before, dump(t, a)); diff != "" {
		t.Fatalf("state after failed step differs (-want +got):\n%s", diff)
	}
}

func TestRun_FutureVersion(t *testing.T) {
	a := storage.NewMemoryAdapter(0)
	seed(t, a, map[string]string{model.KeyAppDataVersion: "9"})
	_, err := schema.NewMigrator(a, nil, schema.Options{}).Run(context.Background())
	assert.ErrorIs(t, err, schema.ErrFutureVersion)
}

func TestRun_NoPath(t *testing.T) {
	a := storage.NewMemoryAdapter(0)
	seed(t, a, legacyData)
	before := dump(t, a)

	_, err := schema.NewMigrator(a, nil, schema.Options{Steps: []schema.Step{}}).Run(context.Background())
	assert.ErrorIs(t, err, schema.ErrNoPath)
	assert.Equal(t, before, dump(t, a))
}

func TestStoredVersion_Corrupt(t *testing.T) {
	a := storage.NewMemoryAdapter(0)
	seed(t, a, map[string]string{model.KeyAppDataVersion: "two"})
	_, _, err := schema.NewMigrator(a, nil, schema.Options{}).StoredVersion(context.Background())
	assert.True(t, errors.Is(err, storage.ErrCorrupt))
}

func TestNeedsMigration_DoesNotWrite(t *testing.T) {
	f := storagetest.NewMemory()
	m := schema.NewMigrator(f, nil, schema.Options{})

	need, err := m.NeedsMigration(context.Background())
	require.NoError(t, err)
	assert.False(t, need)
	v, err := m.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schema.CurrentVersion, v)
	assert.Zero(t, f.Mutations())
}
