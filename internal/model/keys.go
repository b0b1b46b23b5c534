// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model names the stored entity collections and decodes them
// loosely, so fields this core does not know about survive a rewrite.
package model

// Storage keys of the application data.
const (
	KeyMasterRoster      = "soccerMasterRoster"
	KeyTeamsIndex        = "soccerTeamsIndex"
	KeyTeamRosters       = "soccerTeamRosters"
	KeySeasons           = "soccerSeasons"
	KeyTournaments       = "soccerTournaments"
	KeyPersonnel         = "soccerPersonnel"
	KeySavedGames        = "savedSoccerGames"
	KeyPlayerAdjustments = "soccerPlayerAdjustments"
	KeyWarmupPlan        = "soccerWarmupPlan"
	KeyAppSettings       = "soccerAppSettings"
	KeyAppDataVersion    = "appDataVersion"
)

// DataKeys lists every application data key except the version marker.
func DataKeys() []string {
	return []string{
		KeyMasterRoster,
		KeyTeamsIndex,
		KeyTeamRosters,
		KeySeasons,
		KeyTournaments,
		KeyPersonnel,
		KeySavedGames,
		KeyPlayerAdjustments,
		KeyWarmupPlan,
		KeyAppSettings,
	}
}
