// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/ManuGH/matchvault/internal/resilience"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisClient_PushAndGet(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)

	require.NoError(t, c.Push(ctx, EntityPlayers, "p1", []byte(`{"id":"p1","updatedAt":"2025-01-01T10:00:00Z"}`)))
	require.NoError(t, c.Push(ctx, EntitySettings, "", []byte(`{"language":"en"}`)))

	raw, ok, err := c.Get(ctx, EntityPlayers, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"p1","updatedAt":"2025-01-01T10:00:00Z"}`, string(raw))

	members, err := mr.Members("matchvault:index:players")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, members)
	assert.True(t, mr.Exists("matchvault:settings"))

	_, ok, err = c.Get(ctx, EntityTeams, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisClient_StaleWriteIsConflict(t *testing.T) {
	ctx := context.Background()
	_, c := setupMiniRedis(t)

	require.NoError(t, c.Push(ctx, EntityGames, "g1", []byte(`{"updatedAt":"2025-01-02T00:00:00Z","score":2}`)))
	err := c.Push(ctx, EntityGames, "g1", []byte(`{"updatedAt":"2025-01-01T00:00:00+00:00","score":1}`))
	require.Error(t, err)
	assert.True(t, resilience.IsConflictError(err))
	assert.False(t, resilience.IsTransientError(err))

	raw, _, err := c.Get(ctx, EntityGames, "g1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"updatedAt":"2025-01-02T00:00:00Z","score":2}`, string(raw))

	// Newer writes win; payloads without updatedAt are last-writer-wins.
	require.NoError(t, c.Push(ctx, EntityGames, "g1", []byte(`{"updatedAt":"2025-01-03T00:00:00Z"}`)))
	require.NoError(t, c.Push(ctx, EntityGames, "g1", []byte(`{"score":5}`)))
}

func TestRedisClient_ConcurrentWriteIsConflict(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer other.Close()

	c.afterRead = func() {
		require.NoError(t, other.Set(ctx, c.Key(EntityTeams, "t1"), `{"name":"theirs"}`, 0).Err())
	}
	err := c.Push(ctx, EntityTeams, "t1", []byte(`{"name":"ours"}`))

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, resilience.ConflictCode, rerr.ErrorCode())
	assert.Equal(t, resilience.CategoryConflict, resilience.Classify(err))

	got, err := mr.Get("matchvault:teams:t1")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"theirs"}`, got)
}

func TestRedisClient_ServerDownIsTransient(t *testing.T) {
	mr, c := setupMiniRedis(t)
	mr.Close()

	err := c.Push(context.Background(), EntityPlayers, "p1", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, resilience.IsTransientError(err), "got %v", err)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}
