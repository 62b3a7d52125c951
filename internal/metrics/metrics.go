// Package metrics exposes Prometheus instrumentation for the turn pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the daemon's collectors on a private registry so tests can
// construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal       prometheus.Counter
	GenerationErrors prometheus.Counter
	TurnDuration     prometheus.Histogram
	ProviderSwitches *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jarvisd",
			Name:      "turns_total",
			Help:      "Generation turns processed, including failed ones.",
		}),
		GenerationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jarvisd",
			Name:      "generation_errors_total",
			Help:      "Turns whose generation call failed.",
		}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jarvisd",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a full generation turn.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ProviderSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jarvisd",
			Name:      "provider_switches_total",
			Help:      "Hot swaps of the active provider, per capability.",
		}, []string{"capability"}),
	}
	m.registry.MustRegister(m.TurnsTotal, m.GenerationErrors, m.TurnDuration, m.ProviderSwitches)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
