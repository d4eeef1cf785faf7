// cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Cache is a byte-oriented key/value store with per-key TTL. The index
// registry uses it as a tier shared between processes.
type Cache interface {
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value; a zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}

// Common errors
var (
	ErrNotFound = errors.New("cache: key not found")
	ErrClosed   = errors.New("cache: cache is closed")
)

// GetJSON retrieves and unmarshals a JSON value.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, error) {
	var result T
	data, err := c.Get(ctx, key)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, err
	}
	return result, nil
}

// SetJSON marshals and stores a value as JSON.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
