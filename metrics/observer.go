// metrics/observer.go
package metrics

import (
	"github.com/dalemusser/dupkey/unique"
	"github.com/prometheus/client_golang/prometheus"
)

// Translation outcomes.
const (
	OutcomeTranslated  = "translated"
	OutcomeFailed      = "failed"
	OutcomePassthrough = "passthrough"
)

// Observer counts translator and registry events. It implements
// unique.Observer and unique.RegistryObserver.
type Observer struct {
	translations *prometheus.CounterVec
	lookups      *prometheus.CounterVec
}

var (
	_ unique.Observer         = (*Observer)(nil)
	_ unique.RegistryObserver = (*Observer)(nil)
)

// NewObserver creates unregistered counters; pass Collectors to
// RegisterDefault.
func NewObserver() *Observer {
	return &Observer{
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupkey_translations_total",
			Help: "Write errors seen by the translator, by outcome and failure reason.",
		}, []string{"outcome", "reason"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupkey_index_lookups_total",
			Help: "Index registry lookups by result (hit, shared, miss, error).",
		}, []string{"result"}),
	}
}

// Collectors returns the counters for registration.
func (o *Observer) Collectors() []prometheus.Collector {
	return []prometheus.Collector{o.translations, o.lookups}
}

func (o *Observer) Translated(namespace, index string, fields int) {
	o.translations.WithLabelValues(OutcomeTranslated, "").Inc()
}

func (o *Observer) TranslationFailed(namespace string, err *unique.TranslationError) {
	o.translations.WithLabelValues(OutcomeFailed, unique.Reason(err.Err)).Inc()
}

func (o *Observer) Passthrough() {
	o.translations.WithLabelValues(OutcomePassthrough, "").Inc()
}

func (o *Observer) IndexLookup(result string) {
	o.lookups.WithLabelValues(result).Inc()
}
