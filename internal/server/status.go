package server

import (
	"net/http"
)

// handleStatus implements GET /api/status (spec.md §6 "liveness").
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, overall := s.deps.Diagnostics.CheckHealth(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": overall})
}

// handleHealth implements GET /health: the same liveness check spelled as
// the conventional unauthenticated probe path a process supervisor polls.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	domains, overall := s.deps.Diagnostics.CheckHealth(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": overall, "domains": domains})
}

// handleDiagnostics implements GET /api/diagnostics: the full snapshot
// (health, latency reservoirs, recent errors) spec.md §4.7 describes. Not
// named in the §6 table — added the same way §6 itself calls out
// GET /ws/events, as an ambient operational surface rather than part of
// the harness-facing contract.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Diagnostics.Snapshot(r.Context()))
}

// handleMetrics serves the Prometheus scrape endpoint.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.deps.Diagnostics.MetricsHandler().ServeHTTP(w, r)
}
