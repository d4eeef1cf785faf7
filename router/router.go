// router/router.go
package router

import (
	"github.com/dalemusser/dupkey/config"
	"github.com/dalemusser/dupkey/logging"
	"github.com/dalemusser/dupkey/metrics"
	"github.com/dalemusser/dupkey/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// New creates a chi.Router with the standard middleware stack:
// - RequestID
// - RealIP
// - Recoverer (panic → 500)
// - body size limit (MaxRequestBodyBytes)
// - metrics HTTP middleware
// - request logging
// - NotFound / MethodNotAllowed JSON handlers
// Routes, health and /metrics are mounted by the caller.
func New(cfg *config.Config, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.Recoverer(logger))
	r.Use(middleware.LimitBodySize(cfg.MaxRequestBodyBytes))
	r.Use(metrics.HTTPMetrics)
	r.Use(logging.RequestLogger(logger))

	r.NotFound(middleware.NotFoundHandler(logger))
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler(logger))

	return r
}
