// Package server exposes the daemon's HTTP surface: the memory CRUD/
// recall API, the six harness-hook endpoints, the operational status/
// diagnostics/metrics routes, and the event websocket (spec.md §6).
// Grounded on internal/server/server.go's teacher original: one outer
// mux wrapping an auth-gated inner API mux, a rate limiter and security
// headers wrapping the whole thing, and the same listen/Serve/graceful-
// shutdown goroutine pair — generalized from the Web UI's static-file
// serving to this process's harness-facing contract.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/memento-core/daemon/internal/auth"
	"github.com/memento-core/daemon/internal/diagnostics"
)

// Server owns the daemon's HTTP surface: route handlers close over deps,
// a shared event hub, and the per-operation rate limiters spec.md §6
// names beyond the teacher's single process-wide one.
type Server struct {
	deps     Deps
	hub      *EventHub
	limiters *opLimiters
}

// New wires a Server. Callers still need to call Start to listen.
func New(deps Deps) *Server {
	return &Server{deps: deps, hub: NewEventHub(), limiters: newOpLimiters()}
}

// Hub exposes the event hub so callers (e.g. the job queue's worker pool)
// can Publish job-completion/health-transition events for the websocket.
func (s *Server) Hub() *EventHub { return s.hub }

// route wraps a handler with the standard per-request chain: instrument
// for diagnostics, rate-limit by operation, require the named permission,
// and resolve identity from the bearer token.
func (s *Server) route(perm auth.Permission, op diagnostics.OpKind, endpoint string, limiter *auth.RateLimiter, h http.HandlerFunc) http.Handler {
	chain := instrument(s.deps.Diagnostics, endpoint, op, h)
	chain = requirePermission(perm, chain)
	if limiter != nil {
		chain = rateLimited(limiter, chain)
	}
	return requireAuth(s.deps.Policy, s.deps.Diagnostics)(chain)
}

// mux assembles the full route table (spec.md §6's contract table plus
// the ambient operational routes it calls out as not part of that
// table).
func (s *Server) mux() http.Handler {
	top := http.NewServeMux()

	top.Handle("POST /api/memory/remember", s.route(auth.PermRemember, diagnostics.OpRemember, "/api/memory/remember", s.limiters.modify, s.handleRemember))
	top.Handle("GET /api/memory/{id}", s.route(auth.PermRecall, diagnostics.OpMutate, "/api/memory/{id}", nil, s.handleGetMemory))
	top.Handle("PATCH /api/memory/{id}", s.route(auth.PermModify, diagnostics.OpMutate, "/api/memory/{id}", s.limiters.modify, s.handleUpdateMemory))
	top.Handle("DELETE /api/memory/{id}", s.route(auth.PermForget, diagnostics.OpMutate, "/api/memory/{id}", s.limiters.forget, s.handleForgetOne))
	top.Handle("POST /api/memory/{id}/recover", s.route(auth.PermRecover, diagnostics.OpMutate, "/api/memory/{id}/recover", s.limiters.modify, s.handleRecover))
	top.Handle("POST /api/memory/modify", s.route(auth.PermModify, diagnostics.OpMutate, "/api/memory/modify", s.limiters.modify, s.handleModify))
	top.Handle("POST /api/memory/forget", s.route(auth.PermForget, diagnostics.OpMutate, "/api/memory/forget", s.limiters.batchForget, s.handleForgetBatch))
	top.Handle("GET /api/memory/{id}/history", s.route(auth.PermRecall, diagnostics.OpMutate, "/api/memory/{id}/history", nil, s.handleHistory))
	top.Handle("POST /api/memory/recall", s.route(auth.PermRecall, diagnostics.OpRecall, "/api/memory/recall", nil, s.handleRecall))

	top.Handle("POST /api/hooks/session_start", s.route(auth.PermRecall, diagnostics.OpMutate, "/api/hooks/session_start", nil, s.handleHookSessionStart))
	top.Handle("POST /api/hooks/user_prompt_submit", s.route(auth.PermRecall, diagnostics.OpMutate, "/api/hooks/user_prompt_submit", nil, s.handleHookUserPromptSubmit))
	top.Handle("POST /api/hooks/remember", s.route(auth.PermRemember, diagnostics.OpRemember, "/api/hooks/remember", s.limiters.modify, s.handleHookRemember))
	top.Handle("POST /api/hooks/recall", s.route(auth.PermRecall, diagnostics.OpRecall, "/api/hooks/recall", nil, s.handleHookRecall))
	top.Handle("POST /api/hooks/pre_compaction", s.route(auth.PermRecall, diagnostics.OpMutate, "/api/hooks/pre_compaction", nil, s.handleHookPreCompaction))
	top.Handle("POST /api/hooks/session_end", s.route(auth.PermRecall, diagnostics.OpMutate, "/api/hooks/session_end", nil, s.handleHookSessionEnd))

	top.Handle("GET /api/diagnostics", s.route(auth.PermDiagnostics, diagnostics.OpMutate, "/api/diagnostics", s.limiters.admin, s.handleDiagnostics))
	top.Handle("GET /metrics", http.HandlerFunc(s.handleMetrics))
	top.Handle("GET /api/status", http.HandlerFunc(s.handleStatus))
	top.Handle("GET /health", http.HandlerFunc(s.handleHealth))

	top.Handle("GET /ws/events", s.hub)

	return securityHeaders(top)
}

// Start binds a listener, serves in a background goroutine, and tears the
// server down gracefully when ctx is cancelled. Returns the bound
// address, useful in tests that listen on port 0.
func (s *Server) Start(ctx context.Context) (string, error) {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.deps.Config.Server.Host, s.deps.Config.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.mux(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: listen %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		s.hub.Stop()
	}()

	return actualAddr, nil
}
