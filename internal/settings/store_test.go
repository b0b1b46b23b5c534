// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/matchvault/internal/model"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/ManuGH/matchvault/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T) (*Store, *storagetest.Faulty) {
	t.Helper()
	f := storagetest.NewMemory()
	return NewStore(StaticSource{Adapter: f}), f
}

func TestGetSettings_DefaultsWhenAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, Defaults(), s.GetSettings(context.Background()))
}

func TestUpdateSettings_MergesPatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	got, err := s.UpdateSettings(ctx, Patch{LastHomeTeamName: ptr("FC Test")})
	require.NoError(t, err)
	assert.Equal(t, "FC Test", got.LastHomeTeamName)
	assert.Equal(t, "en", got.Language)

	got, err = s.UpdateSettings(ctx, Patch{HasSeenAppGuide: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "FC Test", got.LastHomeTeamName)
	assert.True(t, got.HasSeenAppGuide)
	assert.Equal(t, got, s.GetSettings(ctx))
}

func TestUpdateSettings_ConcurrentDisjointPatches(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	patches := []Patch{
		{LastHomeTeamName: ptr("Home")},
		{Language: ptr("fi")},
		{HasSeenAppGuide: ptr(true)},
		{UseDemandCorrection: ptr(true)},
		{AutoBackupEnabled: ptr(true)},
		{AutoBackupIntervalHours: ptr(6)},
		{ClubSeasonStartDate: ptr("2025-08-01")},
		{CurrentGameID: ptr("game_1")},
	}

	var wg sync.WaitGroup
	for _, p := range patches {
		wg.Add(1)
		go func(p Patch) {
			defer wg.Done()
			_, err := s.UpdateSettings(ctx, p)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	got := s.GetSettings(ctx)
	assert.Equal(t, "Home", got.LastHomeTeamName)
	assert.Equal(t, "fi", got.Language)
	assert.True(t, got.HasSeenAppGuide)
	assert.True(t, got.UseDemandCorrection)
	assert.True(t, got.AutoBackupEnabled)
	assert.Equal(t, 6, got.AutoBackupIntervalHours)
	assert.Equal(t, "2025-08-01", got.ClubSeasonStartDate)
	require.NotNil(t, got.CurrentGameID)
	assert.Equal(t, "game_1", *got.CurrentGameID)
}

func TestUpdateSettings_EmptyPatchTouchesNothing(t *testing.T) {
	s, f := newTestStore(t)

	_, err := s.UpdateSettings(context.Background(), Patch{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, f.Gets())
	assert.Zero(t, f.Mutations())
}

func TestUpdateSettings_Validation(t *testing.T) {
	tests := []struct {
		name  string
		patch Patch
		field string
	}{
		{"bad language", Patch{Language: ptr("not a tag!")}, "language"},
		{"bad start date", Patch{ClubSeasonStartDate: ptr("01.08.2025")}, "clubSeasonStartDate"},
		{"bad end date", Patch{ClubSeasonEndDate: ptr("2025-13-01")}, "clubSeasonEndDate"},
		{"zero interval", Patch{AutoBackupIntervalHours: ptr(0)}, "autoBackupIntervalHours"},
		{"bad backup time", Patch{LastBackupTime: ptr("yesterday")}, "lastBackupTime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, f := newTestStore(t)
			_, err := s.UpdateSettings(context.Background(), tt.patch)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Zero(t, f.Mutations())
		})
	}
}

func TestUpdateSettings_NormalisesLanguage(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.UpdateSettings(context.Background(), Patch{Language: ptr(" EN-us ")})
	require.NoError(t, err)
	assert.Equal(t, "en-US", got.Language)
}

func TestUpdateSettings_EmptyGameIDClears(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.UpdateSettings(ctx, Patch{CurrentGameID: ptr("game_1")})
	require.NoError(t, err)
	got, err := s.UpdateSettings(ctx, Patch{CurrentGameID: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, got.CurrentGameID)
}

func TestUpdateSettings_StorageFailureReturnsLastGood(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)

	good, err := s.UpdateSettings(ctx, Patch{LastHomeTeamName: ptr("Kept")})
	require.NoError(t, err)

	f.FailSets(func(string, int) error { return storagetest.Quota(model.KeyAppSettings) })
	got, err := s.UpdateSettings(ctx, Patch{LastHomeTeamName: ptr("Lost")})
	require.NoError(t, err)
	assert.Equal(t, good, got)

	f.FailSets(nil)
	assert.Equal(t, "Kept", s.GetSettings(ctx).LastHomeTeamName)
}

func TestUpdateSettings_AuthLostReturnsDefaults(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)

	_, err := s.UpdateSettings(ctx, Patch{LastHomeTeamName: ptr("Mine")})
	require.NoError(t, err)

	f.FailAll(fmt.Errorf("refresh: %w", storage.ErrAuthLost))
	got, err := s.UpdateSettings(ctx, Patch{HasSeenAppGuide: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
	assert.Equal(t, Defaults(), s.GetSettings(ctx))
}

func TestUpdateSettings_PreservesUnknownKeys(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)

	require.NoError(t, f.SetItem(ctx, model.KeyAppSettings, `{"language":"de","futureFlag":{"on":true}}`))
	got, err := s.UpdateSettings(ctx, Patch{HasSeenAppGuide: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "de", got.Language)

	raw, ok, err := f.GetItem(ctx, model.KeyAppSettings)
	require.NoError(t, err)
	require.True(t, ok)
	var stored map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.JSONEq(t, `{"on":true}`, string(stored["futureFlag"]))
	assert.JSONEq(t, `true`, string(stored["hasSeenAppGuide"]))
}

func TestUpdateSettings_RepairsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)

	require.NoError(t, f.SetItem(ctx, model.KeyAppSettings, `{not json`))
	assert.Equal(t, Defaults(), s.GetSettings(ctx))

	got, err := s.UpdateSettings(ctx, Patch{Language: ptr("sv")})
	require.NoError(t, err)
	assert.Equal(t, "sv", got.Language)
	assert.Equal(t, "sv", s.GetSettings(ctx).Language)
}

func TestUpdateSettings_RepairsWronglyTypedField(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)

	require.NoError(t, f.SetItem(ctx, model.KeyAppSettings,
		`{"language":"fi","autoBackupIntervalHours":"x","lastHomeTeamName":"old"}`))

	cur := s.GetSettings(ctx)
	assert.Equal(t, "fi", cur.Language)
	assert.Equal(t, "old", cur.LastHomeTeamName)
	assert.Equal(t, Defaults().AutoBackupIntervalHours, cur.AutoBackupIntervalHours)

	got, err := s.UpdateSettings(ctx, Patch{LastHomeTeamName: ptr("FC New")})
	require.NoError(t, err)
	assert.Equal(t, "FC New", got.LastHomeTeamName)
	assert.Equal(t, "fi", got.Language)

	raw, ok, err := f.GetItem(ctx, model.KeyAppSettings)
	require.NoError(t, err)
	require.True(t, ok)
	var stored map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.NotContains(t, stored, "autoBackupIntervalHours")
	assert.JSONEq(t, `"FC New"`, string(stored["lastHomeTeamName"]))
	assert.JSONEq(t, `"fi"`, string(stored["language"]))
}

func TestSaveSettings_ClearsLastBackupTime(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.UpdateSettings(ctx, Patch{LastBackupTime: ptr("2025-03-01T10:00:00Z")})
	require.NoError(t, err)
	require.NotNil(t, s.GetSettings(ctx).LastBackupTime)

	next := s.GetSettings(ctx)
	next.LastBackupTime = nil
	require.True(t, s.SaveSettings(ctx, next))
	assert.Nil(t, s.GetSettings(ctx).LastBackupTime)
}

func TestUpdateSettings_WaitsForWriteGate(t *testing.T) {
	ctx := context.Background()
	var gate sync.RWMutex
	f := storagetest.NewMemory()
	s := NewStore(StaticSource{Adapter: f}, WithWriteGate(gate.RLocker()))

	gate.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := s.UpdateSettings(ctx, Patch{LastHomeTeamName: ptr("Gated")})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("update finished while the gate was held")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, f.Sets())

	gate.Unlock()
	require.NoError(t, <-done)
	assert.Equal(t, "Gated", s.GetSettings(ctx).LastHomeTeamName)
}

func TestSaveAndResetSettings(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)

	next := Defaults()
	next.LastHomeTeamName = "Saved"
	next.AutoBackupEnabled = true
	assert.True(t, s.SaveSettings(ctx, next))
	assert.Equal(t, next, s.GetSettings(ctx))

	require.NoError(t, s.ResetSettings(ctx))
	_, ok, err := f.GetItem(ctx, model.KeyAppSettings)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Defaults(), s.GetSettings(ctx))

	f.FailAll(storagetest.Unavailable("set"))
	assert.False(t, s.SaveSettings(ctx, next))
}
