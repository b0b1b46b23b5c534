// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/matchvault/internal/resilience"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to "matchvault".
	Prefix string
}

// RedisClient stores entities as JSON strings and rejects stale writes.
// A push whose updatedAt is older than the stored one, or that races a
// concurrent write, fails with the conflict code.
type RedisClient struct {
	client *redis.Client
	prefix string

	// afterRead runs between the optimistic read and the transaction.
	afterRead func()
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "matchvault"
	}
	return &RedisClient{client: client, prefix: prefix}, nil
}

// Key returns the storage key of an entity.
func (c *RedisClient) Key(entity Entity, id string) string {
	if id == "" {
		return fmt.Sprintf("%s:%s", c.prefix, entity)
	}
	return fmt.Sprintf("%s:%s:%s", c.prefix, entity, id)
}

func (c *RedisClient) indexKey(entity Entity) string {
	return fmt.Sprintf("%s:index:%s", c.prefix, entity)
}

// Push writes one entity under WATCH so a concurrent writer aborts it.
func (c *RedisClient) Push(ctx context.Context, entity Entity, id string, payload []byte) error {
	key := c.Key(entity, id)
	incoming, hasIncoming := updatedAt(payload)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if stored, ok := updatedAt(cur); ok && hasIncoming && stored.After(incoming) {
				return &Error{Status: 409, Code: resilience.ConflictCode, Message: fmt.Sprintf("%s %s changed remotely", entity, id)}
			}
		}
		if c.afterRead != nil {
			c.afterRead()
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if id != "" {
				pipe.SAdd(ctx, c.indexKey(entity), id)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return &Error{Status: 409, Code: resilience.ConflictCode, Message: fmt.Sprintf("%s %s written concurrently", entity, id)}
	}
	return err
}

// Get returns a stored entity.
func (c *RedisClient) Get(ctx context.Context, entity Entity, id string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, c.Key(entity, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Ping checks the connection.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// updatedAt extracts the RFC 3339 "updatedAt" field used for ordering.
func updatedAt(payload []byte) (time.Time, bool) {
	var v struct {
		UpdatedAt string `json:"updatedAt"`
	}
	if json.Unmarshal(payload, &v) != nil || v.UpdatedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v.UpdatedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
