// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storage provides the uniform key-value contract over the on-device
// backends, the persisted storage configuration and the factory that picks
// and self-tests the active backend.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Adapter is the uniform key-value contract over one concrete backend.
// Every failure is returned as *Error.
type Adapter interface {
	// GetItem returns the stored value and whether the key exists.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	// RemoveItem is a no-op for missing keys.
	RemoveItem(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// GetKeys returns all keys in ascending order.
	GetKeys(ctx context.Context) ([]string, error)
	BackendName() string
	Close() error
}

// Mode names the backend family a Config points at.
type Mode string

const (
	ModeLegacy  Mode = "legacy"
	ModePrimary Mode = "primary"
)

// ParseMode validates a textual mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLegacy:
		return ModeLegacy, nil
	case ModePrimary:
		return ModePrimary, nil
	default:
		return "", fmt.Errorf("unknown storage mode %q", s)
	}
}

// Reserved key prefix for entries owned by this package and its siblings.
const ReservedPrefix = "matchvault:"

// IsReserved reports whether key is internal bookkeeping rather than user data.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, ReservedPrefix)
}

// Snapshot reads every non-reserved key of a into a map.
func Snapshot(ctx context.Context, a Adapter) (map[string]string, error) {
	keys, err := a.GetKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if IsReserved(k) {
			continue
		}
		v, ok, err := a.GetItem(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}
