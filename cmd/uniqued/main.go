// Command uniqued serves document writes for the collections of a schema
// file and answers duplicate-key violations with field-level 422 errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/dalemusser/dupkey/app"
	"github.com/dalemusser/dupkey/config"
	"github.com/dalemusser/dupkey/httputil"
	"github.com/dalemusser/dupkey/internal/api"
	"github.com/dalemusser/dupkey/metrics"
	"github.com/dalemusser/dupkey/pantry/cache"
	"github.com/dalemusser/dupkey/pantry/health"
	"github.com/dalemusser/dupkey/router"
	"github.com/dalemusser/dupkey/schema"
	"github.com/dalemusser/dupkey/toolkit/db/mongodb"
	"github.com/dalemusser/dupkey/unique"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type backends struct {
	client     *mongo.Client
	shared     cache.Cache
	schema     *schema.File
	registry   *unique.Registry
	translator *unique.Translator
	stores     map[string]*mongodb.Collection
}

func main() {
	observer := metrics.NewObserver()

	err := app.Run(context.Background(), app.Hooks[*backends]{
		Name:       "uniqued",
		LoadConfig: config.Load,
		ConnectDB: func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
			return connect(ctx, cfg, observer, logger)
		},
		EnsureSchema: ensureSchema,
		BuildHandler: buildHandler,
		Close:        closeBackends,
		Collectors:   observer.Collectors(),
	})
	if err != nil {
		os.Exit(1)
	}
}

func connect(ctx context.Context, cfg *config.Config, observer *metrics.Observer, logger *zap.Logger) (*backends, error) {
	file, err := schema.Load(cfg.SchemaFile)
	if err != nil {
		return nil, err
	}

	pool := mongodb.DefaultPoolConfig()
	pool.ConnectTimeout = cfg.Mongo.ConnectTimeout
	if cfg.Mongo.MaxPoolSize > 0 {
		pool.MaxPoolSize = cfg.Mongo.MaxPoolSize
	}
	client, err := mongodb.Connect(ctx, cfg.Mongo.URI, pool)
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	b := &backends{client: client, schema: file, stores: map[string]*mongodb.Collection{}}

	regOpts := []unique.RegistryOption{
		unique.WithLookupTimeout(cfg.IndexLookupTimeout),
		unique.WithRegistryLogger(logger),
		unique.WithRegistryObserver(observer),
	}
	if cfg.Redis.Addr != "" {
		shared, err := cache.Connect(ctx, cache.RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.shared = shared
		regOpts = append(regOpts, unique.WithSharedCache(shared, cfg.RegistrySharedTTL))
		logger.Info("shared index cache enabled", zap.String("redis_addr", cfg.Redis.Addr))
	}
	b.registry = unique.NewRegistry(mongodb.NewIntrospector(client), regOpts...)

	tmpl := file.DefaultMessage
	if cfg.DefaultMessage != "" {
		tmpl = cfg.DefaultMessage
	}
	b.translator = unique.New(b.registry,
		unique.WithDefaultMessage(tmpl),
		unique.WithLogger(logger),
		unique.WithObserver(observer),
	)

	db := client.Database(cfg.Mongo.Database)
	for _, name := range file.CollectionNames() {
		coll := mongodb.NewCollection(db.Collection(name), b.translator)
		// Collecting messages also normalizes the declarations for index creation.
		b.translator.SetFieldMessages(coll.Namespace(), unique.NewFieldMessages(file.Collection(name)))
		b.stores[name] = coll
	}
	return b, nil
}

func ensureSchema(ctx context.Context, cfg *config.Config, b *backends, logger *zap.Logger) error {
	for name, coll := range b.stores {
		names, err := mongodb.EnsureIndexes(ctx, coll.Unwrap(), b.schema.Collection(name))
		if err != nil {
			return err
		}
		if err := b.registry.Invalidate(ctx, coll.Namespace()); err != nil {
			logger.Warn("shared index cache invalidation failed",
				zap.String("namespace", coll.Namespace()), zap.Error(err))
		}
		logger.Info("indexes ensured", zap.String("namespace", coll.Namespace()), zap.Strings("indexes", names))
	}
	return nil
}

func buildHandler(cfg *config.Config, b *backends, logger *zap.Logger) (http.Handler, error) {
	if len(b.stores) == 0 {
		return nil, errors.New("schema declares no collections")
	}
	httputil.SetLogger(logger)

	stores := make(map[string]api.Store, len(b.stores))
	for name, c := range b.stores {
		stores[name] = c
	}
	checks := map[string]health.Check{
		"mongo": func(ctx context.Context) error { return b.client.Ping(ctx, nil) },
	}
	if b.shared != nil {
		checks["redis"] = func(ctx context.Context) error {
			_, err := b.shared.Get(ctx, "health")
			if errors.Is(err, cache.ErrNotFound) {
				return nil
			}
			return err
		}
	}

	r := router.New(cfg, logger)
	r.Handle("/metrics", metrics.Handler())
	api.NewHandler(stores, b.registry, checks, logger).Mount(r)
	return r, nil
}

func closeBackends(ctx context.Context, b *backends, logger *zap.Logger) error {
	var errs []error
	if b.shared != nil {
		errs = append(errs, b.shared.Close())
	}
	errs = append(errs, b.client.Disconnect(ctx))
	return errors.Join(errs...)
}
