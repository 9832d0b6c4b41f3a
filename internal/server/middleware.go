package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/memento-core/daemon/internal/auth"
	"github.com/memento-core/daemon/internal/diagnostics"
)

type ctxKey int

const identityKey ctxKey = iota

// identity is the resolved caller attached to a request's context by
// requireAuth, read back by requirePermission/requireScope/rate-limit
// middleware and by the handlers themselves.
type identity struct {
	token  string
	role   auth.Role
	claims auth.Claims
}

func identityFrom(r *http.Request) identity {
	if id, ok := r.Context().Value(identityKey).(identity); ok {
		return id
	}
	return identity{}
}

// bearerToken extracts the token from "Authorization: Bearer <token>",
// mirroring web/handlers/middleware.go's RequireAuth.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

// requireAuth resolves the bearer token against the configured policy and
// attaches the resulting role/claims to the request context, or responds
// 401 (spec.md §4.8 "checkPermission/checkScope" preconditions).
func requireAuth(policy *auth.Policy, collector *diagnostics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, claims, err := policy.Resolve(bearerToken(r))
			if err != nil {
				collector.RecordError(diagnostics.ErrorEvent{Stage: diagnostics.StageConnector, Message: err.Error()})
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, identity{token: bearerToken(r), role: role, claims: claims})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requirePermission gates a handler behind one spec.md §4.8 permission.
func requirePermission(perm auth.Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r)
		if err := auth.CheckPermission(id.role, perm); err != nil {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}

// rateLimited wraps a handler with a per-operation sliding-window budget
// keyed by the caller's token (spec.md §6 "Rate limits per operation").
func rateLimited(rl *auth.RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r)
		key := id.token
		if key == "" {
			key = "anonymous"
		}
		res := rl.Allow(key)
		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(res.ResetAt).Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next(w, r)
	}
}

// securityHeaders adds the same baseline hardening headers the teacher's
// securityHeadersMiddleware sets on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code a handler writes so the
// instrumentation middleware can report it to the diagnostics collector
// after the handler returns.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records every request's latency/status/actor into the
// diagnostics collector (spec.md §4.7).
func instrument(collector *diagnostics.Collector, endpoint string, op diagnostics.OpKind, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		id := identityFrom(r)
		actor := string(id.role)
		if actor == "" {
			actor = "anonymous"
		}
		collector.RecordRequest(endpoint, actor, op, rec.status, time.Since(start))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}
