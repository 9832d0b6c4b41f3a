package diagnostics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the daemon-wide diagnostics sink: one instance is built at
// startup, handed to the HTTP layer for per-request instrumentation, and
// to the provider adapters for call outcomes. Grounded on
// web/handlers/stats.go's StatsHandler, generalized from a single-shot
// stats query into a live collector with its own state.
type Collector struct {
	reg      *prometheus.Registry
	metrics  *promMetrics
	errors   *errorRing
	latency  *latencyRegistry
	provider *providerRegistry
	health   *HealthComposite
}

// NewCollector builds a Collector with its own Prometheus registry,
// isolated from the global default so multiple Collectors (e.g. in
// tests) never collide on metric registration.
func NewCollector() *Collector {
	reg := newRegistry()
	return &Collector{
		reg:      reg,
		metrics:  newPromMetrics(reg),
		errors:   newErrorRing(),
		latency:  newLatencyRegistry(),
		provider: newProviderRegistry(),
		health:   newHealthComposite(),
	}
}

// Health exposes the composite for scorer registration during startup
// wiring (cmd/mementod registers one Scorer per domain, each closing
// over whichever store/jobqueue handle computes that domain's
// thresholds).
func (c *Collector) Health() *HealthComposite { return c.health }

// MetricsHandler serves the Prometheus text exposition format for
// scraping, using the collector's private registry.
func (c *Collector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// RecordRequest logs one completed HTTP request: a Prometheus counter by
// endpoint/status, a latency sample in both the histogram and the exact
// reservoir (keyed by op kind so the §4.7 {remember, recall, mutate,
// jobs} histograms always have a matching entry, and again by the raw
// endpoint path for finer-grained detail), and an actor-attributed
// counter.
func (c *Collector) RecordRequest(endpoint, actor string, op OpKind, status int, d time.Duration) {
	c.metrics.requestsTotal.WithLabelValues(endpoint, statusClass(status)).Inc()
	c.metrics.requestLatency.WithLabelValues(endpoint).Observe(d.Seconds())
	c.metrics.actorRequests.WithLabelValues(nonEmpty(actor, "unknown")).Inc()
	if op != "" {
		c.latency.Record(string(op), d)
	}
	c.latency.Record("endpoint:"+endpoint, d)
}

// RecordJobLatency logs one job's end-to-end processing duration under
// the shared "jobs" op-kind reservoir.
func (c *Collector) RecordJobLatency(d time.Duration) {
	c.latency.Record(string(OpJobs), d)
}

// RecordProviderCall logs one LLM provider call's outcome and latency
// into both the Prometheus counters and the 200-sample provider ring
// the health composite's provider domain scores against.
func (c *Collector) RecordProviderCall(provider string, outcome ProviderOutcome, d time.Duration, err error) {
	c.metrics.providerCalls.WithLabelValues(provider, string(outcome)).Inc()
	c.latency.Record("provider:"+provider, d)
	c.provider.Record(provider, outcome)
	if err != nil {
		c.metrics.providerErrors.WithLabelValues(provider).Inc()
		c.RecordError(ErrorEvent{Stage: StageEmbedding, Message: err.Error(), Actor: provider})
	}
}

// SetBreakerState records the circuit breaker's latest transition for a
// provider (spec.md §4.7's "Provider ring and circuit state" — an open
// breaker forces that provider's health score unhealthy outright).
func (c *Collector) SetBreakerState(provider string, s BreakerState) {
	c.provider.SetBreakerState(provider, s)
}

// ProviderStats returns the current 200-sample snapshot for one provider.
func (c *Collector) ProviderStats(provider string) ProviderStats { return c.provider.Stats(provider) }

// ProviderScorer returns a Scorer suitable for HealthComposite.Register,
// folding every tracked provider's stats into the provider domain score.
func (c *Collector) ProviderScorer() Scorer {
	return func(ctx context.Context) (HealthStatus, string, error) {
		status, msg := c.provider.Overall()
		return status, msg, nil
	}
}

// RecordError appends an entry to the recent-error ring.
func (c *Collector) RecordError(e ErrorEvent) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	c.errors.Record(e)
}

// RecentErrors returns up to n most recent error-ring entries, newest first.
func (c *Collector) RecentErrors(n int) []ErrorEvent { return c.errors.Recent(n) }

// ErrorsMatching returns every retained error-ring entry whose
// RequestID or MemoryID equals id, for the timeline builder.
func (c *Collector) ErrorsMatching(id string) []ErrorEvent { return c.errors.Matching(id) }

// LatencyStats returns a snapshot of every tracked latency key's
// count/mean/percentiles.
func (c *Collector) LatencyStats() []LatencyStats { return c.latency.Snapshot() }

// CheckHealth runs all registered domain scorers and returns the
// per-domain results plus overall status.
func (c *Collector) CheckHealth(ctx context.Context) ([]DomainHealth, HealthStatus) {
	return c.health.Check(ctx)
}

// Reset clears the error ring and every latency reservoir, per spec.md
// §4.7's "reset() clears everything". Prometheus counters are left
// alone: they're a separate, append-only scrape surface, not part of the
// resettable diagnostics state.
func (c *Collector) Reset() {
	c.errors.Reset()
	c.latency.Reset()
}

// Snapshot is the full JSON body for the daemon's diagnostics endpoint
// (spec.md §4.7), combining health, latency, and recent errors.
type Snapshot struct {
	Health    []DomainHealth `json:"health"`
	Overall   HealthStatus   `json:"overall_status"`
	Latency   []LatencyStats `json:"latency"`
	Errors    []ErrorEvent   `json:"recent_errors"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Snapshot runs health scorers and assembles the full diagnostics payload.
func (c *Collector) Snapshot(ctx context.Context) Snapshot {
	domains, overall := c.CheckHealth(ctx)
	return Snapshot{
		Health:    domains,
		Overall:   overall,
		Latency:   c.LatencyStats(),
		Errors:    c.RecentErrors(50),
		CheckedAt: time.Now(),
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// statusClass buckets an HTTP status into the low-cardinality label
// Prometheus best practice expects ("2xx", "4xx", ...) instead of one
// series per exact code.
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
