// app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dalemusser/dupkey/config"
	"github.com/dalemusser/dupkey/logging"
	"github.com/dalemusser/dupkey/metrics"
	"github.com/dalemusser/dupkey/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Hooks are the integration points a service provides to Run. D is the
// bundle of connected backends shared between the hooks.
type Hooks[D any] struct {
	// Name is used only for logging.
	Name string

	// LoadConfig typically calls config.Load.
	LoadConfig func(logger *zap.Logger) (*config.Config, error)

	// ConnectDB connects every backend. It runs under cfg.Mongo.ConnectTimeout.
	ConnectDB func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (D, error)

	// EnsureSchema creates indexes or other startup state. It runs under
	// cfg.IndexBootTimeout and may be nil.
	EnsureSchema func(ctx context.Context, cfg *config.Config, db D, logger *zap.Logger) error

	// BuildHandler returns the complete http.Handler.
	BuildHandler func(cfg *config.Config, db D, logger *zap.Logger) (http.Handler, error)

	// Close releases the backends after the server stops. It may be nil.
	Close func(ctx context.Context, db D, logger *zap.Logger) error

	// Collectors are registered next to the default metrics.
	Collectors []prometheus.Collector
}

// Run executes the startup sequence:
//
//  1. Bootstrap logger
//  2. Load config (Hooks.LoadConfig)
//  3. Build final logger based on config
//  4. Register metrics
//  5. Connect backends (Hooks.ConnectDB)
//  6. Ensure schema/indexes (Hooks.EnsureSchema, if provided)
//  7. Wire shutdown signals to a context
//  8. Build the HTTP handler (Hooks.BuildHandler)
//  9. Serve until shutdown, then Hooks.Close
func Run[D any](ctx context.Context, hooks Hooks[D]) (err error) {
	bootstrap := logging.BootstrapLogger()
	defer func() { _ = bootstrap.Sync() }()

	cfg, err := hooks.LoadConfig(bootstrap)
	if err != nil {
		bootstrap.Error("config load failed", zap.Error(err))
		return err
	}

	logger := logging.MustBuildLogger(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting", zap.String("app", hooks.Name), zap.String("env", cfg.Env))
	logger.Debug("effective config", zap.String("config", cfg.Dump()))

	metrics.RegisterDefault(logger, hooks.Collectors...)

	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.Mongo.ConnectTimeout)
	db, err := hooks.ConnectDB(connectCtx, cfg, logger)
	cancelConnect()
	if err != nil {
		logger.Error("backend connect failed", zap.Error(err))
		return fmt.Errorf("connect: %w", err)
	}
	if hooks.Close != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if cerr := hooks.Close(closeCtx, db, logger); cerr != nil {
				logger.Warn("backend close failed", zap.Error(cerr))
				err = errors.Join(err, cerr)
			}
		}()
	}

	if hooks.EnsureSchema != nil {
		schemaCtx, cancel := context.WithTimeout(ctx, cfg.IndexBootTimeout)
		err := hooks.EnsureSchema(schemaCtx, cfg, db, logger)
		cancel()
		if err != nil {
			logger.Error("schema ensure failed", zap.Error(err))
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	ctx, stop := server.WithShutdownSignals(ctx, logger)
	defer stop()

	handler, err := hooks.BuildHandler(cfg, db, logger)
	if err != nil {
		logger.Error("handler build failed", zap.Error(err))
		return fmt.Errorf("build handler: %w", err)
	}

	if err := server.ListenAndServe(ctx, cfg, handler, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
