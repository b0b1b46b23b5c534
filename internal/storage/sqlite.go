// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/matchvault/internal/persistence/sqlite"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const kvSchemaVersion = 1

// SQLiteAdapter is the transactional primary backend: one kv table in a WAL
// mode SQLite file.
type SQLiteAdapter struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the primary database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, &Error{Kind: KindUnavailable, Backend: "sqlite", Op: "open", Err: err}
	}
	db, err := sqlite.Open(ctx, path, sqlite.DefaultConfig())
	if err != nil {
		return nil, &Error{Kind: classifySQLite(err, KindUnavailable), Backend: "sqlite", Op: "open", Err: err}
	}
	a := &SQLiteAdapter{db: db, path: path}
	if err := a.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, &Error{Kind: classifySQLite(err, KindUnavailable), Backend: "sqlite", Op: "migrate", Err: err}
	}
	return a, nil
}

func (a *SQLiteAdapter) migrate(ctx context.Context) error {
	var current int
	if err := a.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= kvSchemaVersion {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL
	) WITHOUT ROWID;
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", kvSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (a *SQLiteAdapter) BackendName() string { return "sqlite" }

// Path returns the database file path.
func (a *SQLiteAdapter) Path() string { return a.path }

func (a *SQLiteAdapter) GetItem(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := a.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, a.wrap("get", key, err)
	}
	return v, true, nil
}

func (a *SQLiteAdapter) SetItem(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO kv (key, value, updated_at_ms) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at_ms = excluded.updated_at_ms
	`
	if _, err := a.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli()); err != nil {
		return a.wrap("set", key, err)
	}
	return nil
}

func (a *SQLiteAdapter) RemoveItem(ctx context.Context, key string) error {
	if _, err := a.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return a.wrap("remove", key, err)
	}
	return nil
}

func (a *SQLiteAdapter) Clear(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, "DELETE FROM kv"); err != nil {
		return a.wrap("clear", "", err)
	}
	return nil
}

func (a *SQLiteAdapter) GetKeys(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, a.wrap("keys", "", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, a.wrap("keys", "", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, a.wrap("keys", "", err)
	}
	return keys, nil
}

func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

func (a *SQLiteAdapter) wrap(op, key string, err error) error {
	return Wrap(a.BackendName(), op, key, classifySQLite(err, KindUnknown), err)
}

func classifySQLite(err error, fallback Kind) Kind {
	if errors.Is(err, sql.ErrConnDone) {
		return KindUnavailable
	}
	var se *msqlite.Error
	if !errors.As(err, &se) {
		if err != nil && err.Error() == "sql: database is closed" {
			return KindUnavailable
		}
		return fallback
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_FULL:
		return KindQuota
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return KindCorrupt
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_IOERR:
		return KindUnavailable
	default:
		return fallback
	}
}
