// Package cache provides the byte cache used for assembled problem lists.
// Two backends are available: an in-process cache backed by go-cache and a
// shared cache backed by Redis.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// Cache stores opaque values with a TTL. A zero TTL uses the backend default.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Key builds a namespaced cache key from its parts.
func Key(parts ...string) string {
	return "ipl:v1:" + strings.Join(parts, ":")
}

// Memory is an in-process cache.
type Memory struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewMemory returns an in-process cache that expires entries after ttl and
// sweeps expired entries every cleanup interval.
func NewMemory(ttl, cleanup time.Duration) *Memory {
	return &Memory{c: gocache.New(ttl, cleanup), ttl: ttl}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.c.Flush()
	return nil
}

// Len reports the number of entries, expired or not.
func (m *Memory) Len() int { return m.c.ItemCount() }

// Redis is a cache shared between server instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the Redis instance at url (redis://...) and verifies
// the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Clear removes every key in the cache namespace.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, Key("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error { return r.client.Close() }
