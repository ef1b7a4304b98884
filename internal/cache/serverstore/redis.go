package serverstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// KeyPrefix namespaces every key this store touches, so one Redis
	// instance can serve several caches.
	KeyPrefix string
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 2
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
	return c
}

// RedisStore is a Redis-backed authoritative tier. Each (store, id) pair
// maps to one key holding a JSON-encoded cachecore.PersistedEntry, with
// the Redis TTL mirroring the entry's expiration.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore from cfg. A zero-value Addr yields
// a client pointed at an unreachable address, so the store fails closed
// (every call returns an error) rather than panicking when the caller
// hasn't supplied Redis configuration.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	cfg = cfg.withDefaults()
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:0"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &RedisStore{client: client, prefix: cfg.KeyPrefix}
}

// NewRedisStoreFromClient wraps an already-constructed go-redis client,
// letting tests point a RedisStore at a miniredis instance.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(store, id string) string {
	return fmt.Sprintf("%s%s:%s", s.prefix, store, id)
}

func (s *RedisStore) Get(ctx context.Context, store, id string) (cachecore.PersistedEntry, bool, error) {
	data, err := s.client.Get(ctx, s.key(store, id)).Result()
	if errors.Is(err, redis.Nil) {
		return cachecore.PersistedEntry{}, false, nil
	}
	if err != nil {
		return cachecore.PersistedEntry{}, false, fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
	}

	var ent cachecore.PersistedEntry
	if err := json.Unmarshal([]byte(data), &ent); err != nil {
		return cachecore.PersistedEntry{}, false, fmt.Errorf("%w: decode record: %v", cachecore.ErrStorageError, err)
	}
	return ent, true, nil
}

func (s *RedisStore) Set(ctx context.Context, store, id string, ent cachecore.PersistedEntry) error {
	data, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", cachecore.ErrStorageError, err)
	}

	var ttl time.Duration
	if !ent.Expiration.IsZero() {
		ttl = time.Until(ent.Expiration)
		if ttl <= 0 {
			return nil // already expired, nothing to store
		}
	}

	if err := s.client.Set(ctx, s.key(store, id), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, store, id string) error {
	if err := s.client.Del(ctx, s.key(store, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
	}
	return nil
}

// Clear deletes every key under this store's prefix via a SCAN cursor,
// so distinct-prefixed stores sharing one Redis instance don't clobber
// each other.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	pattern := s.prefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
