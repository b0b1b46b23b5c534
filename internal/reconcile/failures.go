// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reconcile

import "github.com/ManuGH/matchvault/internal/remote"

// PushFailures lists what did not reach the remote store: ids for list
// entities, a flag for singletons.
type PushFailures struct {
	Players     []string `json:"players"`
	Teams       []string `json:"teams"`
	Seasons     []string `json:"seasons"`
	Tournaments []string `json:"tournaments"`
	Personnel   []string `json:"personnel"`
	Games       []string `json:"games"`
	Rosters     []string `json:"rosters"`
	Adjustments []string `json:"adjustments"`
	Settings    bool     `json:"settings"`
	WarmupPlan  bool     `json:"warmupPlan"`
}

// CountPushFailures sums the failed ids plus one per failed singleton.
func CountPushFailures(f PushFailures) int {
	n := len(f.Players) + len(f.Teams) + len(f.Seasons) + len(f.Tournaments) +
		len(f.Personnel) + len(f.Games) + len(f.Rosters) + len(f.Adjustments)
	if f.Settings {
		n++
	}
	if f.WarmupPlan {
		n++
	}
	return n
}

// add records a failure for entity; id is ignored for singletons.
func (f *PushFailures) add(entity remote.Entity, id string) {
	switch entity {
	case remote.EntityPlayers:
		f.Players = append(f.Players, id)
	case remote.EntityTeams:
		f.Teams = append(f.Teams, id)
	case remote.EntitySeasons:
		f.Seasons = append(f.Seasons, id)
	case remote.EntityTournaments:
		f.Tournaments = append(f.Tournaments, id)
	case remote.EntityPersonnel:
		f.Personnel = append(f.Personnel, id)
	case remote.EntityGames:
		f.Games = append(f.Games, id)
	case remote.EntityRosters:
		f.Rosters = append(f.Rosters, id)
	case remote.EntityAdjustments:
		f.Adjustments = append(f.Adjustments, id)
	case remote.EntitySettings:
		f.Settings = true
	case remote.EntityWarmupPlan:
		f.WarmupPlan = true
	}
}
