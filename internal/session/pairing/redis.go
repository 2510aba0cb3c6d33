// SPDX-License-Identifier: MIT

package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pairing:"

// RedisStore shares pairing entries across web-tier replicas. The key TTL
// mirrors the entry expiry, so Redis garbage-collects for us.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("pairing: redis connection failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, err
	}
	if e.Expired(time.Now()) {
		return nil, nil
	}
	return &e, nil
}

func (r *RedisStore) Put(ctx context.Context, sessionID string, e *Entry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, sessionID)
	}
	return r.client.Set(ctx, redisKeyPrefix+sessionID, buf, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, redisKeyPrefix+sessionID).Err()
}

// Close releases the client.
func (r *RedisStore) Close() error { return r.client.Close() }
