// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"time"

	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/metrics"
)

// Retry defaults.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 10 * time.Second
)

// Options configures RetryWithBackoff.
type Options struct {
	// MaxRetries is the total number of attempts, the first included.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Classify defaults to the package Classify.
	Classify func(error) Category
	// Sleep waits between attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.Classify == nil {
		o.Classify = Classify
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

// Delay returns the wait after the given failed attempt (1-based):
// min(initial * 2^(attempt-1), max). There is no jitter.
func Delay(attempt int, initial, maxDelay time.Duration) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay || d <= 0 {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// RetryWithBackoff runs op until it succeeds, fails with a non-transient
// error, or the attempts are used up. The last error is returned unchanged.
// There is no overall deadline beyond ctx.
func RetryWithBackoff(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Retry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// Retry is RetryWithBackoff for operations returning a value.
func Retry[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()
	logger := xglog.FromContext(ctx)

	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		category := opts.Classify(err)
		if category != CategoryTransient || attempt >= opts.MaxRetries {
			return v, err
		}

		delay := Delay(attempt, opts.InitialDelay, opts.MaxDelay)
		metrics.RecordRetry(string(category))
		logger.Debug().Err(err).
			Str(xglog.FieldEvent, "retry.scheduled").
			Int(xglog.FieldAttempt, attempt).
			Dur(xglog.FieldDelay, delay).
			Msg("transient failure, retrying")
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}
		if serr := opts.Sleep(ctx, delay); serr != nil {
			return v, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
