// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ManuGH/matchvault/internal/storage"
)

// HistoryKey holds the record of the last successful migration on the target.
const HistoryKey = storage.ReservedPrefix + "migration:history"

// HistoryRecord describes a completed backend migration.
type HistoryRecord struct {
	MigrationID  string `json:"migrationId"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	RecordCount  int    `json:"recordCount"`
	Checksum     string `json:"checksum"`
	MigratedAtMs int64  `json:"migratedAtMs"`
}

// RecordMigration stores rec on a.
func RecordMigration(ctx context.Context, a storage.Adapter, rec HistoryRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return a.SetItem(ctx, HistoryKey, string(raw))
}

// GetHistory returns the migration record stored on a, or nil if none.
func GetHistory(ctx context.Context, a storage.Adapter) (*HistoryRecord, error) {
	raw, ok, err := a.GetItem(ctx, HistoryKey)
	if err != nil || !ok {
		return nil, err
	}
	var rec HistoryRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, storage.Wrap(a.BackendName(), "get", HistoryKey, storage.KindCorrupt, err)
	}
	return &rec, nil
}

// CalculateChecksum hashes the key/value pairs in key order.
func CalculateChecksum(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(data[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
