// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package remote is the sync boundary: one push per entity, answered with
// success or a typed error.
package remote

import (
	"context"
	"fmt"
)

// Entity names a synced collection.
type Entity string

const (
	EntityPlayers     Entity = "players"
	EntityTeams       Entity = "teams"
	EntitySeasons     Entity = "seasons"
	EntityTournaments Entity = "tournaments"
	EntityPersonnel   Entity = "personnel"
	EntityGames       Entity = "games"
	EntityRosters     Entity = "rosters"
	EntityAdjustments Entity = "adjustments"
	EntitySettings    Entity = "settings"
	EntityWarmupPlan  Entity = "warmupPlan"
)

// Client pushes entities to the remote store. id is empty for singletons.
type Client interface {
	Push(ctx context.Context, entity Entity, id string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Error is a failure reported by the remote store.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Status != 0:
		return fmt.Sprintf("remote error %d (%s): %s", e.Status, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
	}
}

// StatusCode returns the HTTP-like status, 0 if none.
func (e *Error) StatusCode() int { return e.Status }

// ErrorCode returns the domain error code, "" if none.
func (e *Error) ErrorCode() string { return e.Code }
