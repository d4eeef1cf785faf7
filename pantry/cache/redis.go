// cache/redis.go
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by this service.
const DefaultKeyPrefix = "dupkey:"

// Redis is a Cache stored in Redis, shared by every process pointing at
// the same server.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisConfig configures the Redis cache.
type RedisConfig struct {
	// Client is an existing Redis client.
	// If provided, Address, Password and DB are ignored.
	Client redis.UniversalClient

	Address  string
	Password string
	DB       int

	// KeyPrefix is prepended to all keys. Default: DefaultKeyPrefix.
	KeyPrefix string

	// DialTimeout bounds connection setup and the startup ping.
	// Default: 5 seconds.
	DialTimeout time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, keyPrefix string) *Redis {
	return &Redis{client: client, keyPrefix: keyPrefix}
}

// Connect creates a Redis cache and pings the server.
func Connect(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	client := cfg.Client
	if client == nil {
		if cfg.Address == "" {
			return nil, errors.New("cache: redis address required")
		}
		client = redis.NewClient(&redis.Options{
			Addr:        cfg.Address,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: dial,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewRedis(client, prefix), nil
}

func (r *Redis) key(k string) string { return r.keyPrefix + k }

// Get retrieves a value by key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

// Set stores a value with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

// Delete removes a key from the cache.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
