// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/matchvault/internal/persistence/sqlite"
	"github.com/google/uuid"
)

// DefaultProbeTimeout bounds the capability handshake.
const DefaultProbeTimeout = 3 * time.Second

// Probe checks whether a backend can be used at all by opening a throwaway
// resource.
type Probe func(ctx context.Context) error

// ProbeWithin runs probe bounded by timeout. It resolves false on error,
// timeout or a probe that never returns; it never waits longer than timeout.
// A blocked probe goroutine is abandoned and finishes on its own.
func ProbeWithin(ctx context.Context, timeout time.Duration, probe Probe) bool {
	if probe == nil {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- probe(ctx)
	}()

	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		return false
	}
}

// SQLiteProbe creates, writes and removes a scratch database in dir.
func SQLiteProbe(dir string) Probe {
	return func(ctx context.Context) error {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		path := filepath.Join(dir, ".probe-"+uuid.NewString()+".sqlite")
		defer func() {
			for _, suffix := range []string{"", "-wal", "-shm"} {
				_ = os.Remove(path + suffix)
			}
		}()

		db, err := sqlite.Open(ctx, path, sqlite.DefaultConfig())
		if err != nil {
			return err
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, "CREATE TABLE probe (v INTEGER); INSERT INTO probe (v) VALUES (1);"); err != nil {
			return err
		}
		var v int
		if err := db.QueryRowContext(ctx, "SELECT v FROM probe").Scan(&v); err != nil {
			return err
		}
		if v != 1 {
			return errors.New("probe read back unexpected value")
		}
		return nil
	}
}

// BadgerProbe opens and closes a scratch badger directory in dir.
func BadgerProbe(dir string) Probe {
	return func(ctx context.Context) error {
		path := filepath.Join(dir, ".probe-"+uuid.NewString())
		defer func() { _ = os.RemoveAll(path) }()

		a, err := OpenBadger(path)
		if err != nil {
			return err
		}
		defer a.Close()
		return SelfTest(ctx, a)
	}
}

// SelfTest writes, reads back and deletes a sentinel key.
func SelfTest(ctx context.Context, a Adapter) error {
	key := ReservedPrefix + "selftest:" + uuid.NewString()
	const want = "ok"

	if err := a.SetItem(ctx, key, want); err != nil {
		return fmt.Errorf("self-test write: %w", err)
	}
	got, ok, err := a.GetItem(ctx, key)
	if err != nil {
		return fmt.Errorf("self-test read: %w", err)
	}
	if !ok || got != want {
		_ = a.RemoveItem(ctx, key)
		return &Error{Kind: KindCorrupt, Backend: a.BackendName(), Op: "selftest", Key: key, Err: errors.New("sentinel read back mismatch")}
	}
	if err := a.RemoveItem(ctx, key); err != nil {
		return fmt.Errorf("self-test delete: %w", err)
	}
	return nil
}
