// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/matchvault/internal/model"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/google/uuid"
)

// DefaultTeamName names the team created from the master roster when no
// saved game carries a team name.
const DefaultTeamName = "My Team"

// DefaultSteps returns the built-in migration chain.
func DefaultSteps() []Step {
	return []Step{
		FlattenMasterRoster(func() string { return "team_" + uuid.NewString() }, time.Now),
	}
}

// FlattenMasterRoster is the v1 to v2 step. Version 1 kept a single implicit
// roster; version 2 models teams explicitly. The step creates a default team
// holding the master roster and points every saved game at it. The master
// roster itself is kept as the club-wide player pool.
func FlattenMasterRoster(newID func() string, now func() time.Time) Step {
	return Step{
		From: 1,
		To:   2,
		Name: "flatten-master-roster",
		Apply: func(ctx context.Context, a storage.Adapter) error {
			return flattenMasterRoster(ctx, a, newID, now)
		},
	}
}

func flattenMasterRoster(ctx context.Context, a storage.Adapter, newID func() string, now func() time.Time) error {
	players, err := readList(ctx, a, model.KeyMasterRoster)
	if err != nil {
		return err
	}
	games, err := readMap(ctx, a, model.KeySavedGames)
	if err != nil {
		return err
	}
	teams, err := readMap(ctx, a, model.KeyTeamsIndex)
	if err != nil {
		return err
	}
	rosters, err := readMap(ctx, a, model.KeyTeamRosters)
	if err != nil {
		return err
	}

	if len(players) == 0 && len(games) == 0 {
		return nil
	}

	teamID := newID()
	stamp := now().UTC().Format(time.RFC3339)
	team := model.Record{}
	for field, v := range map[string]any{
		"id":        teamID,
		"name":      teamNameFrom(games),
		"isDefault": true,
		"createdAt": stamp,
		"updatedAt": stamp,
	} {
		if err := team.Set(field, v); err != nil {
			return err
		}
	}
	teams[teamID] = team

	roster := model.Record{}
	if err := roster.Set("teamId", teamID); err != nil {
		return err
	}
	if players == nil {
		players = []model.Record{}
	}
	if err := roster.Set("players", players); err != nil {
		return err
	}
	rosters[teamID] = roster

	for id, game := range games {
		if game == nil {
			game = model.Record{}
			games[id] = game
		}
		if err := game.Set("teamId", teamID); err != nil {
			return err
		}
	}

	if err := write(ctx, a, model.KeyTeamsIndex, teams); err != nil {
		return err
	}
	if err := write(ctx, a, model.KeyTeamRosters, rosters); err != nil {
		return err
	}
	if len(games) > 0 {
		if err := write(ctx, a, model.KeySavedGames, games); err != nil {
			return err
		}
	}
	return nil
}

// teamNameFrom picks the most common team name among the saved games.
func teamNameFrom(games map[string]model.Record) string {
	counts := map[string]int{}
	best, bestN := "", 0
	for _, g := range games {
		name := g.String("teamName")
		if name == "" {
			continue
		}
		counts[name]++
		n := counts[name]
		if n > bestN || (n == bestN && name < best) {
			best, bestN = name, n
		}
	}
	if best == "" {
		return DefaultTeamName
	}
	return best
}

func readList(ctx context.Context, a storage.Adapter, key string) ([]model.Record, error) {
	raw, ok, err := a.GetItem(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	list, err := model.DecodeList(raw)
	if err != nil {
		return nil, storage.Wrap(a.BackendName(), "decode", key, storage.KindCorrupt, err)
	}
	return list, nil
}

func readMap(ctx context.Context, a storage.Adapter, key string) (map[string]model.Record, error) {
	raw, ok, err := a.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]model.Record{}, nil
	}
	m, err := model.DecodeMap(raw)
	if err != nil {
		return nil, storage.Wrap(a.BackendName(), "decode", key, storage.KindCorrupt, err)
	}
	return m, nil
}

func write(ctx context.Context, a storage.Adapter, key string, v any) error {
	raw, err := model.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return a.SetItem(ctx, key, raw)
}
