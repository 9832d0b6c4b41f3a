package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memento-core/daemon/internal/diagnostics"
)

// Thresholds the hand-written scorers below trip on. Grounded on the
// teacher's web/handlers/stats.go raw-counting-query pattern, adapted
// into pass/degrade/fail bands rather than a plain count display.
const (
	queueDegradedDepth  = 200
	queueUnhealthyDepth = 1000
	deadJobDegraded     = 20

	tombstoneDegradedRatio  = 0.25
	tombstoneUnhealthyRatio = 0.5

	indexMismatchDegraded  = 50
	indexMismatchUnhealthy = 500

	mutationFailDegraded  = 10
	mutationFailUnhealthy = 50
)

// registerHealthScorers wires the four domains that have no ready-made
// scorer (internal/diagnostics only ships Collector.ProviderScorer for
// DomainProvider) against portable SELECT COUNT(*) queries that run the
// same way over both the SQLite and Postgres backends, since both share
// the schema db is opened against.
func registerHealthScorers(c *diagnostics.Collector, be *backend) {
	h := c.Health()
	h.Register(diagnostics.DomainQueue, queueScorer(be.db))
	h.Register(diagnostics.DomainStorage, storageScorer(be.db))
	h.Register(diagnostics.DomainIndex, indexScorer(be.db))
	h.Register(diagnostics.DomainProvider, c.ProviderScorer())
	h.Register(diagnostics.DomainMutation, mutationScorer(be.db))
}

func queueScorer(db *sql.DB) diagnostics.Scorer {
	return func(ctx context.Context) (diagnostics.HealthStatus, string, error) {
		var pending, dead int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM memory_jobs WHERE status IN ('pending', 'processing')").Scan(&pending); err != nil {
			return diagnostics.StatusUnhealthy, "", fmt.Errorf("count pending jobs: %w", err)
		}
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM memory_jobs WHERE status = 'dead'").Scan(&dead); err != nil {
			return diagnostics.StatusUnhealthy, "", fmt.Errorf("count dead jobs: %w", err)
		}
		msg := fmt.Sprintf("%d pending/processing, %d dead", pending, dead)
		switch {
		case pending >= queueUnhealthyDepth:
			return diagnostics.StatusUnhealthy, msg, nil
		case pending >= queueDegradedDepth || dead >= deadJobDegraded:
			return diagnostics.StatusDegraded, msg, nil
		default:
			return diagnostics.StatusHealthy, msg, nil
		}
	}
}

func storageScorer(db *sql.DB) diagnostics.Scorer {
	return func(ctx context.Context) (diagnostics.HealthStatus, string, error) {
		var total, deleted int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&total); err != nil {
			return diagnostics.StatusUnhealthy, "", fmt.Errorf("count memories: %w", err)
		}
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE is_deleted = 1").Scan(&deleted); err != nil {
			return diagnostics.StatusUnhealthy, "", fmt.Errorf("count tombstones: %w", err)
		}
		if total == 0 {
			return diagnostics.StatusHealthy, "empty store", nil
		}
		ratio := float64(deleted) / float64(total)
		msg := fmt.Sprintf("%d/%d tombstoned (%.0f%%)", deleted, total, ratio*100)
		switch {
		case ratio >= tombstoneUnhealthyRatio:
			return diagnostics.StatusUnhealthy, msg, nil
		case ratio >= tombstoneDegradedRatio:
			return diagnostics.StatusDegraded, msg, nil
		default:
			return diagnostics.StatusHealthy, msg, nil
		}
	}
}

// indexScorer reports how many live memories still lack an embedding,
// i.e. have fallen out of sync with the vector half of recall's hybrid
// search (spec.md's recall [MODULE]).
func indexScorer(db *sql.DB) diagnostics.Scorer {
	return func(ctx context.Context) (diagnostics.HealthStatus, string, error) {
		var missing int
		err := db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM memories m
			WHERE m.is_deleted = 0
			AND NOT EXISTS (
				SELECT 1 FROM embeddings e
				WHERE e.source_type = 'memory' AND e.source_id = m.id
			)`).Scan(&missing)
		if err != nil {
			return diagnostics.StatusUnhealthy, "", fmt.Errorf("count unembedded memories: %w", err)
		}
		msg := fmt.Sprintf("%d memories missing embeddings", missing)
		switch {
		case missing >= indexMismatchUnhealthy:
			return diagnostics.StatusUnhealthy, msg, nil
		case missing >= indexMismatchDegraded:
			return diagnostics.StatusDegraded, msg, nil
		default:
			return diagnostics.StatusHealthy, msg, nil
		}
	}
}

// mutationScorer reports how many decide/extract jobs have failed
// outright in the current backlog, a proxy for the decision worker's
// propose/apply/reject pipeline going sour (spec.md's job-queue
// [MODULE]).
func mutationScorer(db *sql.DB) diagnostics.Scorer {
	return func(ctx context.Context) (diagnostics.HealthStatus, string, error) {
		var failed int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM memory_jobs WHERE status = 'dead' AND job_type IN ('extract', 'decide')").Scan(&failed); err != nil {
			return diagnostics.StatusUnhealthy, "", fmt.Errorf("count failed mutation jobs: %w", err)
		}
		msg := fmt.Sprintf("%d failed extract/decide jobs", failed)
		switch {
		case failed >= mutationFailUnhealthy:
			return diagnostics.StatusUnhealthy, msg, nil
		case failed >= mutationFailDegraded:
			return diagnostics.StatusDegraded, msg, nil
		default:
			return diagnostics.StatusHealthy, msg, nil
		}
	}
}
