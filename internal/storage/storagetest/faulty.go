// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storagetest provides a fault-injecting storage adapter for tests.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/matchvault/internal/storage"
)

// Faulty wraps an adapter and injects failures, delays and counts calls.
type Faulty struct {
	inner storage.Adapter
	name  string

	mu      sync.Mutex
	sets    int
	gets    int
	removes int
	clears  int
	delay   time.Duration
	all     error
	setHook func(key string, n int) error
	getHook func(key string) error
	keyHook func() error
	closed  bool
}

// Wrap wraps inner. The wrapper reports inner's backend name unless Named is used.
func Wrap(inner storage.Adapter) *Faulty {
	return &Faulty{inner: inner}
}

// NewMemory wraps a fresh unbounded memory adapter.
func NewMemory() *Faulty {
	return Wrap(storage.NewMemoryAdapter(0))
}

// Named overrides BackendName.
func (f *Faulty) Named(name string) *Faulty {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = name
	return f
}

// Inner returns the wrapped adapter.
func (f *Faulty) Inner() storage.Adapter { return f.inner }

// FailAll makes every operation return err (nil clears it).
func (f *Faulty) FailAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = err
}

// FailSets installs a hook consulted before every SetItem; n is the 1-based
// count of SetItem calls so far. A non-nil result fails that write.
func (f *Faulty) FailSets(fn func(key string, n int) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setHook = fn
}

// FailGets installs a hook consulted before every GetItem.
func (f *Faulty) FailGets(fn func(key string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getHook = fn
}

// FailKeys installs a hook consulted before every GetKeys.
func (f *Faulty) FailKeys(fn func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyHook = fn
}

// Delay sleeps d before every operation, to widen race windows.
func (f *Faulty) Delay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Sets returns the number of SetItem calls, failed ones included.
func (f *Faulty) Sets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

// Gets returns the number of GetItem calls.
func (f *Faulty) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

// Removes returns the number of RemoveItem calls.
func (f *Faulty) Removes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removes
}

// Clears returns the number of Clear calls.
func (f *Faulty) Clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

// Mutations returns sets + removes + clears.
func (f *Faulty) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets + f.removes + f.clears
}

// Closed reports whether Close was called.
func (f *Faulty) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Faulty) BackendName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.name != "" {
		return f.name
	}
	return f.inner.BackendName()
}

func (f *Faulty) pause(ctx context.Context) {
	f.mu.Lock()
	d := f.delay
	f.mu.Unlock()
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (f *Faulty) GetItem(ctx context.Context, key string) (string, bool, error) {
	f.pause(ctx)
	f.mu.Lock()
	f.gets++
	all, hook := f.all, f.getHook
	f.mu.Unlock()
	if all != nil {
		return "", false, all
	}
	if hook != nil {
		if err := hook(key); err != nil {
			return "", false, err
		}
	}
	return f.inner.GetItem(ctx, key)
}

func (f *Faulty) SetItem(ctx context.Context, key, value string) error {
	f.pause(ctx)
	f.mu.Lock()
	f.sets++
	n, all, hook := f.sets, f.all, f.setHook
	f.mu.Unlock()
	if all != nil {
		return all
	}
	if hook != nil {
		if err := hook(key, n); err != nil {
			return err
		}
	}
	return f.inner.SetItem(ctx, key, value)
}

func (f *Faulty) RemoveItem(ctx context.Context, key string) error {
	f.pause(ctx)
	f.mu.Lock()
	f.removes++
	all := f.all
	f.mu.Unlock()
	if all != nil {
		return all
	}
	return f.inner.RemoveItem(ctx, key)
}

func (f *Faulty) Clear(ctx context.Context) error {
	f.pause(ctx)
	f.mu.Lock()
	f.clears++
	all := f.all
	f.mu.Unlock()
	if all != nil {
		return all
	}
	return f.inner.Clear(ctx)
}

func (f *Faulty) GetKeys(ctx context.Context) ([]string, error) {
	f.pause(ctx)
	f.mu.Lock()
	all, hook := f.all, f.keyHook
	f.mu.Unlock()
	if all != nil {
		return nil, all
	}
	if hook != nil {
		if err := hook(); err != nil {
			return nil, err
		}
	}
	return f.inner.GetKeys(ctx)
}

func (f *Faulty) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.inner.Close()
}

// Unavailable builds a KindUnavailable storage error for tests.
func Unavailable(op string) error {
	return &storage.Error{Kind: storage.KindUnavailable, Backend: "test", Op: op}
}

// Quota builds a KindQuota storage error for tests.
func Quota(key string) error {
	return &storage.Error{Kind: storage.KindQuota, Backend: "test", Op: "set", Key: key}
}
