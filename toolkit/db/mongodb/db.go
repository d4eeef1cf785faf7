// toolkit/db/mongodb/db.go
package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoConnectTimeout = 10 * time.Second

// PoolConfig holds connection pool settings for MongoDB. Zero values keep
// the driver defaults.
type PoolConfig struct {
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration

	// ConnectTimeout bounds Connect, including the initial ping.
	// Default: 10 seconds
	ConnectTimeout time.Duration

	ServerSelectionTimeout time.Duration
}

// DefaultPoolConfig returns the pool settings uniqued runs with.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxPoolSize:            100,
		MinPoolSize:            5,
		MaxConnIdleTime:        5 * time.Minute,
		ConnectTimeout:         mongoConnectTimeout,
		ServerSelectionTimeout: 10 * time.Second,
	}
}

// Connect opens a Mongo connection with a bounded timeout derived from the
// provided parent context. The returned client must be disconnected by the caller.
func Connect(ctx context.Context, uri string, pool PoolConfig) (*mongo.Client, error) {
	timeout := pool.ConnectTimeout
	if timeout <= 0 {
		timeout = mongoConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions(uri, pool))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func clientOptions(uri string, pool PoolConfig) *options.ClientOptions {
	opts := options.Client().ApplyURI(uri)
	if pool.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(pool.MaxPoolSize)
	}
	if pool.MinPoolSize > 0 {
		opts.SetMinPoolSize(pool.MinPoolSize)
	}
	if pool.MaxConnIdleTime > 0 {
		opts.SetMaxConnIdleTime(pool.MaxConnIdleTime)
	}
	if pool.ConnectTimeout > 0 {
		opts.SetConnectTimeout(pool.ConnectTimeout)
	}
	if pool.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(pool.ServerSelectionTimeout)
	}
	return opts
}
