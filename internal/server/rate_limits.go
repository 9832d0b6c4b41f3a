package server

import "github.com/memento-core/daemon/internal/auth"

// opLimiters holds one sliding-window budget per mutating operation
// (spec.md §6 "Rate limits per operation"). Defaults come straight from the
// spec's literal table; there is no per-deployment config surface for these
// yet (internal/config.SecurityConfig only models one process-wide
// rate limit), so they are fixed constants here rather than plumbed through
// Config — a narrower gap than the general per-token limiter, which the
// operator config does cover.
type opLimiters struct {
	forget      *auth.RateLimiter
	modify      *auth.RateLimiter
	batchForget *auth.RateLimiter
	forceDelete *auth.RateLimiter
	admin       *auth.RateLimiter
}

func newOpLimiters() *opLimiters {
	return &opLimiters{
		forget:      auth.NewRateLimiter(30, 0),
		modify:      auth.NewRateLimiter(60, 0),
		batchForget: auth.NewRateLimiter(5, 0),
		forceDelete: auth.NewRateLimiter(3, 0),
		admin:       auth.NewRateLimiter(10, 0),
	}
}
