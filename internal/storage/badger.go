// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"errors"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerAdapter is the alternative primary engine, selected with
// storage.primary_engine=badger.
type BadgerAdapter struct {
	db  *badger.DB
	dir string
}

// OpenBadger opens (creating if needed) the badger directory.
func OpenBadger(dir string) (*BadgerAdapter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &Error{Kind: KindUnavailable, Backend: "badger", Op: "open", Err: err}
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Backend: "badger", Op: "open", Err: err}
	}
	return &BadgerAdapter{db: db, dir: dir}, nil
}

func (b *BadgerAdapter) BackendName() string { return "badger" }

func (b *BadgerAdapter) GetItem(_ context.Context, key string) (string, bool, error) {
	var out string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, b.wrap("get", key, err)
	}
	return out, true, nil
}

func (b *BadgerAdapter) SetItem(_ context.Context, key, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	return b.wrap("set", key, err)
}

func (b *BadgerAdapter) RemoveItem(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return b.wrap("remove", key, err)
}

func (b *BadgerAdapter) Clear(_ context.Context) error {
	return b.wrap("clear", "", b.db.DropAll())
}

func (b *BadgerAdapter) GetKeys(_ context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, b.wrap("keys", "", err)
	}
	return keys, nil
}

func (b *BadgerAdapter) Close() error { return b.db.Close() }

func (b *BadgerAdapter) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindUnknown
	switch {
	case errors.Is(err, badger.ErrTxnTooBig):
		kind = KindQuota
	case b.db.IsClosed():
		kind = KindUnavailable
	}
	return Wrap(b.BackendName(), op, key, kind, err)
}
