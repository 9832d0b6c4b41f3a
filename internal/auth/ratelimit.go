package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// perKeyWindow is 1 minute: RateLimitPerMin/RateLimitBurst in
// internal/config.SecurityConfig are expressed per-minute, matching the
// teacher's reqPerSec-to-rate.Limiter conversion in
// web/handlers/middleware.go but keyed per-token instead of process-wide.
const perKeyWindow = time.Minute

// keyState pairs a token-bucket limiter (for the Allow/Wait decision) with
// a small ring of recent grant timestamps, since rate.Limiter alone can't
// answer "how many requests remain in the current window" or "when does
// it reset" — both of which spec.md §4.8's rate-limit response needs.
type keyState struct {
	limiter *rate.Limiter
	ring    []time.Time // timestamps of the last perMin grants, ring buffer
	head    int
	filled  bool
}

// RateLimiter enforces a sliding-window requests-per-minute budget per API
// key (spec.md §4.8 "AuthRateLimiter"), built on the same
// golang.org/x/time/rate primitive web/handlers/middleware.go uses for
// its single process-wide limiter.
type RateLimiter struct {
	mu      sync.Mutex
	perMin  int
	burst   int
	keys    map[string]*keyState
}

// NewRateLimiter builds a limiter allowing perMin sustained requests per
// key with burst allowed on top.
func NewRateLimiter(perMin, burst int) *RateLimiter {
	if perMin <= 0 {
		perMin = 120
	}
	if burst <= 0 {
		burst = perMin / 4
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{perMin: perMin, burst: burst, keys: make(map[string]*keyState)}
}

// Result reports the outcome of an Allow call along with enough state for
// the caller to render a 429 body with Retry-After semantics.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

func (rl *RateLimiter) stateFor(key string) *keyState {
	if st, ok := rl.keys[key]; ok {
		return st
	}
	st := &keyState{
		limiter: rate.NewLimiter(rate.Every(perKeyWindow/time.Duration(rl.perMin)), rl.burst),
		ring:    make([]time.Time, rl.perMin),
	}
	rl.keys[key] = st
	return st
}

// Allow consumes one request against key's budget and reports the
// decision plus the sliding-window remaining/reset values.
func (rl *RateLimiter) Allow(key string) Result {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	st := rl.stateFor(key)
	now := time.Now()
	ok := st.limiter.Allow()
	if ok {
		st.ring[st.head] = now
		st.head = (st.head + 1) % len(st.ring)
		if st.head == 0 {
			st.filled = true
		}
	}

	cutoff := now.Add(-perKeyWindow)
	count := 0
	var oldest time.Time
	n := len(st.ring)
	if !st.filled {
		n = st.head
	}
	for i := 0; i < n; i++ {
		ts := st.ring[i]
		if ts.After(cutoff) {
			count++
			if oldest.IsZero() || ts.Before(oldest) {
				oldest = ts
			}
		}
	}

	remaining := rl.perMin - count
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now.Add(perKeyWindow)
	if !oldest.IsZero() {
		resetAt = oldest.Add(perKeyWindow)
	}

	return Result{Allowed: ok, Remaining: remaining, ResetAt: resetAt}
}
