// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reconcile pushes local entity collections to the remote store and
// reports per-entity failures. Partial success is a valid outcome.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/metrics"
	"github.com/ManuGH/matchvault/internal/model"
	"github.com/ManuGH/matchvault/internal/remote"
	"github.com/ManuGH/matchvault/internal/resilience"
	"github.com/ManuGH/matchvault/internal/storage"
	"github.com/ManuGH/matchvault/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Collection maps a stored key to a remote entity.
type Collection struct {
	Entity    remote.Entity
	Key       string
	Singleton bool
}

// Collections returns the synced collections in push order.
func Collections() []Collection {
	return []Collection{
		{Entity: remote.EntityPlayers, Key: model.KeyMasterRoster},
		{Entity: remote.EntityTeams, Key: model.KeyTeamsIndex},
		{Entity: remote.EntitySeasons, Key: model.KeySeasons},
		{Entity: remote.EntityTournaments, Key: model.KeyTournaments},
		{Entity: remote.EntityPersonnel, Key: model.KeyPersonnel},
		{Entity: remote.EntityGames, Key: model.KeySavedGames},
		{Entity: remote.EntityRosters, Key: model.KeyTeamRosters},
		{Entity: remote.EntityAdjustments, Key: model.KeyPlayerAdjustments},
		{Entity: remote.EntitySettings, Key: model.KeyAppSettings, Singleton: true},
		{Entity: remote.EntityWarmupPlan, Key: model.KeyWarmupPlan, Singleton: true},
	}
}

// Conflict is an entity the remote rejected because a concurrent write won.
// The caller should re-fetch and reapply rather than resend.
type Conflict struct {
	Entity remote.Entity `json:"entity"`
	ID     string        `json:"id,omitempty"`
}

// PushResult summarises one PushAllToCloud.
type PushResult struct {
	RunID     string        `json:"runId"`
	Pushed    int           `json:"pushed"`
	Failures  PushFailures  `json:"failures"`
	Conflicts []Conflict    `json:"conflicts,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// FailureCount is CountPushFailures of the result.
func (r PushResult) FailureCount() int { return CountPushFailures(r.Failures) }

// Options configures a Reconciler.
type Options struct {
	Retry resilience.Options
	// Breaker is shared across runs; nil disables it.
	Breaker *resilience.CircuitBreaker
	// Concurrency bounds how many collections push at once; default 1.
	Concurrency int
}

// Reconciler pushes local data through a remote client.
type Reconciler struct {
	source func(ctx context.Context) (storage.Adapter, error)
	client remote.Client
	opts   Options
	logger zerolog.Logger
}

// New creates a reconciler reading from the adapter source returns.
func New(source func(ctx context.Context) (storage.Adapter, error), client remote.Client, opts Options) *Reconciler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Reconciler{
		source: source,
		client: client,
		opts:   opts,
		logger: xglog.WithComponent("reconcile"),
	}
}

// NewBreaker builds the breaker the reconciler expects: conflicts and
// permanent rejections show the remote is reachable and do not trip it.
func NewBreaker(threshold int, reset time.Duration) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker("sync.remote", threshold, reset,
		resilience.WithFailureFilter(resilience.IsTransientError))
}

// PushAllToCloud pushes every collection. Remote failures are reported per
// entity in the result; the returned error only covers local collections
// that could not be read.
func (r *Reconciler) PushAllToCloud(ctx context.Context) (PushResult, error) {
	start := time.Now()
	res := PushResult{RunID: uuid.NewString()}
	ctx = xglog.ContextWithSyncRunID(ctx, res.RunID)
	logger := xglog.WithContext(ctx, r.logger)

	a, err := r.source(ctx)
	if err != nil {
		return res, fmt.Errorf("open local store: %w", err)
	}

	var (
		mu      sync.Mutex
		readErr []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, c := range Collections() {
		g.Go(func() error {
			items, err := load(gctx, a, c)
			if err != nil {
				logger.Warn().Err(err).
					Str(xglog.FieldEvent, "sync.collection_unreadable").
					Str(xglog.FieldEntity, string(c.Entity)).
					Msg("local collection could not be read, skipped")
				mu.Lock()
				readErr = append(readErr, fmt.Errorf("%s: %w", c.Entity, err))
				mu.Unlock()
				return nil
			}
			for _, it := range items {
				outcome := r.push(gctx, c.Entity, it)
				mu.Lock()
				switch outcome {
				case "ok":
					res.Pushed++
				case "conflict":
					res.Failures.add(c.Entity, it.id)
					res.Conflicts = append(res.Conflicts, Conflict{Entity: c.Entity, ID: it.id})
				default:
					res.Failures.add(c.Entity, it.id)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(start)
	count := res.FailureCount()
	metrics.SyncLastFailureCount.Set(float64(count))
	ev := logger.Info()
	if count > 0 {
		ev = logger.Warn()
	}
	ev.Str(xglog.FieldEvent, "sync.push_completed").
		Int("pushed", res.Pushed).
		Int("failed", count).
		Int("conflicts", len(res.Conflicts)).
		Dur("duration", res.Duration).
		Msg("push to remote store finished")
	return res, errors.Join(readErr...)
}

type item struct {
	id      string
	payload []byte
}

// push sends one item and returns "ok", "conflict" or "failed".
func (r *Reconciler) push(ctx context.Context, entity remote.Entity, it item) (outcome string) {
	ctx, span := telemetry.Tracer("matchvault/reconcile").Start(ctx, "sync.push")
	span.SetAttributes(telemetry.SyncAttributes(string(entity), it.id)...)
	var err error
	defer func() {
		telemetry.EndSpan(span, err)
		metrics.RecordSyncPush(string(entity), outcome)
	}()

	call := func(ctx context.Context) error {
		return r.client.Push(ctx, entity, it.id, it.payload)
	}
	retrying := func() error { return resilience.RetryWithBackoff(ctx, call, r.opts.Retry) }
	if r.opts.Breaker != nil {
		err = r.opts.Breaker.Execute(retrying)
	} else {
		err = retrying()
	}
	if err == nil {
		return "ok"
	}

	logger := xglog.FromContext(ctx).With().
		Str(xglog.FieldEntity, string(entity)).
		Str(xglog.FieldEntityID, it.id).
		Logger()
	if resilience.IsConflictError(err) {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "sync.push_conflict").
			Msg("remote rejected push as conflicting, not retried")
		return "conflict"
	}
	logger.Warn().Err(err).
		Str(xglog.FieldEvent, "sync.push_failed").
		Str("category", string(resilience.Classify(err))).
		Msg("push failed")
	return "failed"
}

// load reads a collection into pushable items.
func load(ctx context.Context, a storage.Adapter, c Collection) ([]item, error) {
	raw, ok, err := a.GetItem(ctx, c.Key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if c.Singleton {
		return []item{{payload: []byte(raw)}}, nil
	}

	var list []model.Record
	if c.Entity == remote.EntityRosters {
		list, err = rosterRecords(raw)
	} else {
		list, err = model.DecodeList(raw)
	}
	if err != nil {
		return nil, storage.Wrap(a.BackendName(), "decode", c.Key, storage.KindCorrupt, err)
	}

	items := make([]item, 0, len(list))
	for _, rec := range list {
		id := rec.ID()
		if id == "" {
			continue
		}
		payload, err := model.Encode(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item{id: id, payload: []byte(payload)})
	}
	return items, nil
}

// rosterRecords keys each roster by its team id.
func rosterRecords(raw string) ([]model.Record, error) {
	byTeam, err := model.DecodeMap(raw)
	if err != nil {
		return nil, err
	}
	teams := make([]string, 0, len(byTeam))
	for id := range byTeam {
		teams = append(teams, id)
	}
	sort.Strings(teams)
	list := make([]model.Record, 0, len(teams))
	for _, id := range teams {
		rec := byTeam[id]
		if rec == nil {
			rec = model.Record{}
		}
		if err := rec.Set("id", id); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, nil
}
