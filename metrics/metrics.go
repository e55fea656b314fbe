// Package metrics exposes record processing counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes.
const (
	OutcomeReported = "reported"
	OutcomeSkipped  = "skipped"
	OutcomeFault    = "fault"
)

// Metrics holds the counters updated by the event loop.
type Metrics struct {
	registry *prometheus.Registry

	Records    *prometheus.CounterVec
	StackDepth prometheus.Histogram
}

// New registers all counters on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errsnoop",
			Name:      "records_total",
			Help:      "Call stack records received, by outcome.",
		}, []string{"outcome"}),
		StackDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "errsnoop",
			Name:      "stack_depth",
			Help:      "Logical frames per reported error stack.",
			Buckets:   prometheus.LinearBuckets(4, 8, 10),
		}),
	}
	m.registry.MustRegister(m.Records, m.StackDepth)
	return m
}

// Observe counts one processed record.
func (m *Metrics) Observe(outcome string) {
	m.Records.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
