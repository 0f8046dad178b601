// Package store persists candidate progress in a string key-value store.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

// KV is the key-value surface progress is written to.
type KV interface {
	// Get returns the values of the keys that exist. Missing keys are absent
	// from the map.
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// ─── Redis ──────────────────────────────────────────────────────────

// RedisKV stores values as plain Redis strings.
type RedisKV struct {
	rdb *redis.Client
}

func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (r *RedisKV) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("mget: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// ─── In-memory ──────────────────────────────────────────────────────

// MemoryKV keeps values in process memory. TTLs are ignored. Used for
// single-node development and tests.
type MemoryKV struct {
	m *xsync.MapOf[string, string]
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: xsync.NewMapOf[string, string]()}
}

func (m *MemoryKV) Get(_ context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.m.Load(k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.m.Store(key, value)
	return nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.m.Delete(k)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int { return m.m.Size() }
