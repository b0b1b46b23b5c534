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
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	legacyBucket = "kv_v1"

	// DefaultLegacyQuota mirrors the few megabytes a browser grants local storage.
	DefaultLegacyQuota int64 = 5 << 20
)

// LegacyOptions configures the legacy backend.
type LegacyOptions struct {
	QuotaBytes  int64
	OpenTimeout time.Duration
}

// LegacyAdapter is the small-quota backend: a single bbolt bucket. Writes are
// synchronous and fail with KindQuota once the stored bytes would exceed the
// quota.
type LegacyAdapter struct {
	db    *bolt.DB
	quota int64

	mu   sync.Mutex // guards used across the Update closure and commit
	used int64
}

func entrySize(key, value string) int64 { return int64(len(key) + len(value)) }

func errQuotaExceeded(next, quota int64) error {
	return fmt.Errorf("quota exceeded: %d > %d bytes", next, quota)
}

// OpenLegacy opens (creating if needed) the bolt file at path.
func OpenLegacy(path string, opts LegacyOptions) (*LegacyAdapter, error) {
	if path == "" {
		return nil, &Error{Kind: KindUnavailable, Backend: "legacy", Op: "open", Err: errors.New("path required")}
	}
	if opts.QuotaBytes <= 0 {
		opts.QuotaBytes = DefaultLegacyQuota
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, &Error{Kind: KindUnavailable, Backend: "legacy", Op: "open", Err: err}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.OpenTimeout})
	if err != nil {
		return nil, &Error{Kind: classifyBolt(err), Backend: "legacy", Op: "open", Err: err}
	}

	var used int64
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(legacyBucket))
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			used += int64(len(k) + len(v))
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, &Error{Kind: classifyBolt(err), Backend: "legacy", Op: "init", Err: err}
	}

	return &LegacyAdapter{db: db, quota: opts.QuotaBytes, used: used}, nil
}

func (l *LegacyAdapter) BackendName() string { return "legacy" }

// Path returns the bolt file path.
func (l *LegacyAdapter) Path() string { return l.db.Path() }

// UsedBytes reports the bytes counted against the quota.
func (l *LegacyAdapter) UsedBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}

func (l *LegacyAdapter) GetItem(_ context.Context, key string) (string, bool, error) {
	var (
		out   string
		found bool
	)
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(legacyBucket)).Get([]byte(key))
		if v != nil {
			out, found = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, l.wrap("get", key, err)
	}
	return out, found, nil
}

func (l *LegacyAdapter) SetItem(_ context.Context, key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var next int64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(legacyBucket))
		next = l.used + entrySize(key, value)
		if old := b.Get([]byte(key)); old != nil {
			next -= int64(len(key) + len(old))
		}
		if next > l.quota {
			return &Error{Kind: KindQuota, Backend: l.BackendName(), Op: "set", Key: key, Err: errQuotaExceeded(next, l.quota)}
		}
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return l.wrap("set", key, err)
	}
	l.used = next
	return nil
}

func (l *LegacyAdapter) RemoveItem(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var freed int64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(legacyBucket))
		old := b.Get([]byte(key))
		if old == nil {
			return nil
		}
		freed = int64(len(key) + len(old))
		return b.Delete([]byte(key))
	})
	if err != nil {
		return l.wrap("remove", key, err)
	}
	l.used -= freed
	return nil
}

func (l *LegacyAdapter) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(legacyBucket)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket([]byte(legacyBucket))
		return err
	})
	if err != nil {
		return l.wrap("clear", "", err)
	}
	l.used = 0
	return nil
}

func (l *LegacyAdapter) GetKeys(_ context.Context) ([]string, error) {
	var keys []string
	err := l.db.View(func(tx *bolt.Tx) error {
		// bolt iterates in byte order, which is what GetKeys promises.
		return tx.Bucket([]byte(legacyBucket)).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, l.wrap("keys", "", err)
	}
	return keys, nil
}

func (l *LegacyAdapter) Close() error {
	return l.db.Close()
}

func (l *LegacyAdapter) wrap(op, key string, err error) error {
	return Wrap(l.BackendName(), op, key, classifyBolt(err), err)
}

func classifyBolt(err error) Kind {
	switch {
	case errors.Is(err, bolt.ErrDatabaseNotOpen), errors.Is(err, bolt.ErrTimeout):
		return KindUnavailable
	case errors.Is(err, bolt.ErrInvalid), errors.Is(err, bolt.ErrChecksum), errors.Is(err, bolt.ErrVersionMismatch):
		return KindCorrupt
	case errors.Is(err, bolt.ErrDatabaseReadOnly):
		return KindUnavailable
	default:
		return KindUnknown
	}
}
