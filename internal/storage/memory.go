// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryAdapter keeps everything in process memory. It is used for tests and
// for ephemeral sessions where nothing should touch the disk.
type MemoryAdapter struct {
	mu         sync.RWMutex
	data       map[string]string
	quotaBytes int64
	used       int64
	closed     bool
}

// NewMemoryAdapter creates an empty adapter. quotaBytes <= 0 disables the quota.
func NewMemoryAdapter(quotaBytes int64) *MemoryAdapter {
	return &MemoryAdapter{data: make(map[string]string), quotaBytes: quotaBytes}
}

func (m *MemoryAdapter) BackendName() string { return "memory" }

func (m *MemoryAdapter) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, m.closedErr("get", key)
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryAdapter) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return m.closedErr("set", key)
	}
	next := m.used + entrySize(key, value)
	if old, ok := m.data[key]; ok {
		next -= entrySize(key, old)
	}
	if m.quotaBytes > 0 && next > m.quotaBytes {
		return &Error{Kind: KindQuota, Backend: m.BackendName(), Op: "set", Key: key, Err: errQuotaExceeded(next, m.quotaBytes)}
	}
	m.data[key] = value
	m.used = next
	return nil
}

func (m *MemoryAdapter) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return m.closedErr("remove", key)
	}
	if old, ok := m.data[key]; ok {
		m.used -= entrySize(key, old)
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryAdapter) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return m.closedErr("clear", "")
	}
	m.data = make(map[string]string)
	m.used = 0
	return nil
}

func (m *MemoryAdapter) GetKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, m.closedErr("keys", "")
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryAdapter) closedErr(op, key string) error {
	return &Error{Kind: KindUnavailable, Backend: m.BackendName(), Op: op, Key: key, Err: ErrClosed}
}
