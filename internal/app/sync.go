// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/matchvault/internal/config"
	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/reconcile"
	"github.com/ManuGH/matchvault/internal/remote"
	"github.com/ManuGH/matchvault/internal/resilience"
	"github.com/google/uuid"
)

// ErrSyncDisabled is returned when no remote is configured.
var ErrSyncDisabled = errors.New("sync disabled: no remote configured")

// PushAll runs the reconciler once with the live retry and sync settings.
func (a *App) PushAll(ctx context.Context) (reconcile.PushResult, error) {
	live := a.live()
	client, breaker, err := a.remote(ctx, live.Sync)
	if err != nil {
		return reconcile.PushResult{}, err
	}

	ctx = xglog.ContextWithSyncRunID(ctx, uuid.NewString())
	r := reconcile.New(a.factory.GetAdapter, client, reconcile.Options{
		Retry: resilience.Options{
			MaxRetries:   live.Retry.MaxRetries,
			InitialDelay: live.Retry.InitialDelay,
			MaxDelay:     live.Retry.MaxDelay,
		},
		Breaker:     breaker,
		Concurrency: live.Sync.Concurrency,
	})
	return r.PushAllToCloud(ctx)
}

// remote returns the shared client and breaker, connecting on first use.
func (a *App) remote(ctx context.Context, cfg config.SyncConfig) (remote.Client, *resilience.CircuitBreaker, error) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	if a.breaker == nil {
		a.breaker = reconcile.NewBreaker(cfg.BreakerThreshold, cfg.BreakerReset)
	}
	if a.client != nil {
		return a.client, a.breaker, nil
	}

	var (
		client remote.Client
		err    error
	)
	switch cfg.Remote {
	case config.RemoteHTTP:
		client, err = remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL:       cfg.BaseURL,
			Token:         cfg.Token,
			RatePerSecond: cfg.RatePerSecond,
		})
	case config.RemoteRedis:
		client, err = remote.NewRedisClient(ctx, remote.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, nil, ErrSyncDisabled
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s remote: %w", cfg.Remote, err)
	}
	a.client = client
	a.ownsClient = true
	return client, a.breaker, nil
}
