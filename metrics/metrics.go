// metrics/metrics.go
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RegisterDefault registers the Go runtime and process collectors, the
// HTTP request histogram and any extra collectors with the default
// registry. Collectors that are already registered are skipped; any other
// registration failure is fatal.
func RegisterDefault(logger *zap.Logger, extra ...prometheus.Collector) {
	mustRegister(logger, "Go collector", collectors.NewGoCollector())
	mustRegister(logger, "process collector", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mustRegister(logger, "HTTP request histogram", reqDuration)
	for _, c := range extra {
		mustRegister(logger, "service collector", c)
	}
}

func mustRegister(logger *zap.Logger, name string, c prometheus.Collector) {
	err := prometheus.Register(c)
	if err == nil {
		return
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return
	}
	if logger == nil {
		panic("metrics: failed to register " + name + ": " + err.Error())
	}
	logger.Fatal("failed to register "+name, zap.Error(err))
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
