// health/health.go
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dalemusser/dupkey/httputil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Check probes one dependency and returns nil when it is healthy.
type Check func(ctx context.Context) error

// Response is the JSON body of the health endpoint.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DefaultTimeout bounds each probe.
const DefaultTimeout = 3 * time.Second

// Handler runs every check concurrently on each request. It answers 200
// {"status":"ok"} when all pass and 503 {"status":"error"} otherwise.
// Failure details are logged, not returned.
func Handler(checks map[string]Check, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := Run(r.Context(), checks, logger)
		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	})
}

// Run executes checks concurrently, each under DefaultTimeout.
func Run(ctx context.Context, checks map[string]Check, logger *zap.Logger) Response {
	if len(checks) == 0 {
		return Response{Status: "ok"}
	}

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
		failed  bool
	)
	var g errgroup.Group
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			result := "ok"
			if check != nil {
				cctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
				err := check(cctx)
				cancel()
				if err != nil {
					result = "error"
					logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
				}
			}
			mu.Lock()
			results[name] = result
			failed = failed || result != "ok"
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := "ok"
	if failed {
		status = "error"
	}
	return Response{Status: status, Checks: results}
}
