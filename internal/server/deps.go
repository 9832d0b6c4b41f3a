// Package server exposes the daemon's harness-facing HTTP surface
// (SPEC_FULL.md §6): the nine /api/memory/* endpoints, the six hook
// endpoints a harness drives session continuity through, liveness/metrics,
// and the operational /ws/events stream. Grounded on the teacher's
// internal/server/server.go for the mux-assembly and graceful-shutdown
// shape, generalized away from that file's Web-UI-specific routes (memory
// browser, connections manager, entity graph, import) since none of that
// surface is part of this daemon's contract.
package server

import (
	"github.com/memento-core/daemon/internal/auth"
	"github.com/memento-core/daemon/internal/config"
	"github.com/memento-core/daemon/internal/diagnostics"
	"github.com/memento-core/daemon/internal/recall"
	"github.com/memento-core/daemon/internal/session"
	"github.com/memento-core/daemon/internal/store"
)

// Deps wires every backend service the HTTP layer calls into. Built once at
// startup by cmd/mementod and handed to New.
type Deps struct {
	Config      *config.Config
	Store       store.MemoryStore
	Queue       store.JobQueue
	Recall      *recall.Engine
	Session     *session.Manager
	Diagnostics *diagnostics.Collector
	Policy      *auth.Policy
}
