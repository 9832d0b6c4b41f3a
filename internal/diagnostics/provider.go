package diagnostics

import "sync"

// ProviderOutcome is one LLM/embedding call's result, fed into the
// provider-stats ring (spec.md §4.7 "a 200-sample ring over {success,
// failure, timeout}").
type ProviderOutcome string

const (
	OutcomeSuccess ProviderOutcome = "success"
	OutcomeFailure ProviderOutcome = "failure"
	OutcomeTimeout ProviderOutcome = "timeout"
)

const providerRingCap = 200

// BreakerState mirrors the gobreaker.State values internal/llm's
// CircuitBreaker reports, kept as a local type so this package doesn't
// import sony/gobreaker just to hold three constants.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// providerRing tracks the last 200 call outcomes for one provider plus
// its most recently observed circuit-breaker state transition, grounded
// on internal/llm/circuit_breaker.go's CircuitBreakerMetrics
// (TotalRequests/TotalSuccesses/TotalFailures/ConsecutiveFailures): the
// ring supplies availabilityRate the same way that struct's counters do,
// but as a sliding window instead of a lifetime total.
type providerRing struct {
	mu      sync.Mutex
	samples [providerRingCap]ProviderOutcome
	head    int
	filled  bool
	state   BreakerState
}

func newProviderRing() *providerRing {
	return &providerRing{state: BreakerClosed}
}

func (p *providerRing) Record(outcome ProviderOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples[p.head] = outcome
	p.head = (p.head + 1) % len(p.samples)
	if p.head == 0 {
		p.filled = true
	}
}

// SetBreakerState records the circuit breaker's latest observed
// transition (open forces the provider domain unhealthy regardless of
// the numeric availability ratio, per spec.md §4.7).
func (p *providerRing) SetBreakerState(s BreakerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// ProviderStats is the §4.7 snapshot for one provider: availabilityRate
// is successes/total over the retained window.
type ProviderStats struct {
	Samples          int          `json:"samples"`
	Successes        int          `json:"successes"`
	Failures         int          `json:"failures"`
	Timeouts         int          `json:"timeouts"`
	AvailabilityRate float64      `json:"availability_rate"`
	BreakerState     BreakerState `json:"breaker_state"`
}

func (p *providerRing) Stats() ProviderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.head
	if p.filled {
		n = len(p.samples)
	}
	var s ProviderStats
	s.Samples = n
	s.BreakerState = p.state
	for i := 0; i < n; i++ {
		switch p.samples[i] {
		case OutcomeSuccess:
			s.Successes++
		case OutcomeFailure:
			s.Failures++
		case OutcomeTimeout:
			s.Timeouts++
		}
	}
	if n > 0 {
		s.AvailabilityRate = float64(s.Successes) / float64(n)
	}
	return s
}

// Score reports the provider domain's health: an open breaker is
// unhealthy outright; otherwise availability below 0.5 is unhealthy,
// below 0.9 is degraded, else healthy.
func (s ProviderStats) Score() (HealthStatus, string) {
	if s.BreakerState == BreakerOpen {
		return StatusUnhealthy, "circuit breaker open"
	}
	if s.Samples == 0 {
		return StatusHealthy, "no samples yet"
	}
	switch {
	case s.AvailabilityRate < 0.5:
		return StatusUnhealthy, "availability below 0.5"
	case s.AvailabilityRate < 0.9:
		return StatusDegraded, "availability below 0.9"
	default:
		return StatusHealthy, ""
	}
}

// providerRegistry lazily creates one ring per provider name.
type providerRegistry struct {
	mu    sync.Mutex
	byKey map[string]*providerRing
}

func newProviderRegistry() *providerRegistry {
	return &providerRegistry{byKey: make(map[string]*providerRing)}
}

func (r *providerRegistry) ring(provider string) *providerRing {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring, ok := r.byKey[provider]
	if !ok {
		ring = newProviderRing()
		r.byKey[provider] = ring
	}
	return ring
}

func (r *providerRegistry) Record(provider string, outcome ProviderOutcome) {
	r.ring(provider).Record(outcome)
}

func (r *providerRegistry) SetBreakerState(provider string, s BreakerState) {
	r.ring(provider).SetBreakerState(s)
}

func (r *providerRegistry) Stats(provider string) ProviderStats {
	return r.ring(provider).Stats()
}

// Overall folds every tracked provider's stats into one score: unhealthy
// if any provider is unhealthy, else degraded if any is degraded.
func (r *providerRegistry) Overall() (HealthStatus, string) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	if len(keys) == 0 {
		return StatusHealthy, "no providers registered"
	}
	status := StatusHealthy
	msg := ""
	for _, k := range keys {
		s, m := r.Stats(k).Score()
		if worse(status, s) != status {
			status, msg = s, k+": "+m
		}
	}
	return status, msg
}
