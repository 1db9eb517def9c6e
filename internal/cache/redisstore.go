package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a Store backed by Redis, used when multiple graphplane-opsd
// or routing processes must share the same graph-location cache instead of
// each holding an independent in-process copy.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a RedisStore against addr, namespacing every key
// under keyPrefix and using ttl as the default expiration for Set calls
// that don't specify one.
func NewRedisStore(addr, keyPrefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (r *RedisStore) key(k string) string {
	return r.keyPrefix + k
}

// Get returns the decoded value stored under key, and whether it was
// present. Values are JSON-decoded into a map[string]interface{} since the
// Store interface is untyped; callers needing concrete structs should
// re-marshal.
func (r *RedisStore) Get(key string) (interface{}, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		return nil, false
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	return value, true
}

// Set JSON-encodes value and stores it under key with ttl (or the store's
// default TTL if ttl is zero).
func (r *RedisStore) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = r.ttl
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r.client.Set(ctx, r.key(key), raw, ttl)
}

// Invalidate removes a single key.
func (r *RedisStore) Invalidate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.client.Del(ctx, r.key(key))
}

// InvalidatePrefix scans for and removes every key starting with prefix.
// Redis has no native prefix-delete; this uses SCAN to avoid blocking the
// server the way KEYS would on a large keyspace.
func (r *RedisStore) InvalidatePrefix(prefix string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pattern := r.key(prefix) + "*"
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		r.client.Del(ctx, keys...)
	}
}

// Close releases the underlying Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
