// Package diagnostics collects the operational signal SPEC_FULL.md's
// diagnostics surface reports: per-endpoint/actor/provider call counts
// exported as Prometheus metrics for scraping, plus the recent-error ring,
// latency reservoirs, and health composite a single JSON /diagnostics
// response needs (spec.md §4.7). Grounded on
// pkg/metrics/metrics.go's Prometheus wiring (several pack repos carry
// prometheus/client_golang; this daemon's teacher does not, so the
// counters/histograms below follow that pack repo's
// Namespace/Subsystem/CounterVec shape rather than inventing one).
package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds this daemon's Prometheus collectors, separate from the
// global default registry so tests can spin up an isolated Collector
// without colliding on re-registration.
func newRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

type promMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	actorRequests  *prometheus.CounterVec
	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	m := &promMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mementod",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of daemon API requests handled.",
		}, []string{"endpoint", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mementod",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of daemon API requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"endpoint"}),
		actorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mementod",
			Subsystem: "http",
			Name:      "actor_requests_total",
			Help:      "Total requests broken down by the harness/actor that issued them.",
		}, []string{"actor"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mementod",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total LLM provider calls (generate/embed) by outcome.",
		}, []string{"provider", "outcome"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mementod",
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Total LLM provider call errors.",
		}, []string{"provider"}),
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency, m.actorRequests, m.providerCalls, m.providerErrors)
	return m
}
