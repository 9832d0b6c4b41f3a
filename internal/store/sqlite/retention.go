package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/memento-core/daemon/internal/store"
)

// retentionSweepWindow mirrors the Recover window in store.go: a
// memory becomes eligible for hard deletion once its tombstone is older
// than this (spec.md §4.2 "retention sweeper").
const retentionSweepWindow = tombstoneRetention

// PurgeRetention hard-deletes expired tombstones and their dependents in
// the strict order SPEC_FULL.md §4.2 requires: entity mentions, then
// embeddings, then the memory rows themselves, then history, then
// terminal job rows (completed, then dead-lettered) — each step bounded
// by batchLimit and run in its own short transaction so a crash mid-sweep
// leaves later steps simply re-runnable, not inconsistent. Entities whose
// mention count reaches zero as a result cascade-delete via
// DecrementEntityMentions.
func (s *Store) PurgeRetention(ctx context.Context, batchLimit int) (store.PurgeStats, error) {
	if batchLimit <= 0 {
		batchLimit = 500
	}
	var stats store.PurgeStats
	cutoff := time.Now().Add(-retentionSweepWindow)

	expiredIDs, err := s.expiredTombstoneIDs(ctx, cutoff, batchLimit)
	if err != nil {
		return stats, fmt.Errorf("list expired tombstones: %w", err)
	}

	if len(expiredIDs) > 0 {
		// Step 1: entity mentions tied to the expired memories.
		mentionsDeleted, affectedEntities, err := s.purgeMentions(ctx, expiredIDs)
		if err != nil {
			return stats, fmt.Errorf("purge mentions: %w", err)
		}
		stats.MentionsDeleted = mentionsDeleted
		for entityID, count := range affectedEntities {
			if err := s.DecrementEntityMentions(ctx, entityID, count); err != nil {
				return stats, fmt.Errorf("decrement entity %s: %w", entityID, err)
			}
		}

		// Step 2: embeddings keyed on the expired memory ids.
		embDeleted, err := s.purgeEmbeddings(ctx, expiredIDs)
		if err != nil {
			return stats, fmt.Errorf("purge embeddings: %w", err)
		}
		stats.EmbeddingsDeleted = embDeleted

		// Step 3: the memory rows themselves.
		memDeleted, err := s.purgeMemories(ctx, expiredIDs)
		if err != nil {
			return stats, fmt.Errorf("purge memories: %w", err)
		}
		stats.MemoriesDeleted = memDeleted
	}

	// Step 4: history rows past the history retention (180d), independent
	// of which memories were just purged above — a memory's history
	// outlives the memory row itself (spec.md §4.2 edge case: a memory
	// purged at 31 days still has its history retained for 180 days).
	histDeleted, err := s.purgeHistoryByAge(ctx, batchLimit)
	if err != nil {
		return stats, fmt.Errorf("purge history: %w", err)
	}
	stats.HistoryDeleted = histDeleted

	// Step 5: completed jobs past the completed-job retention (14d).
	completedGone, err := s.purgeJobs(ctx, "completed", completedJobRetention, batchLimit)
	if err != nil {
		return stats, fmt.Errorf("purge completed jobs: %w", err)
	}
	stats.CompletedJobsGone = completedGone

	// Step 6: dead-lettered jobs past the dead-job retention (30d).
	deadGone, err := s.purgeJobs(ctx, "dead", deadJobRetention, batchLimit)
	if err != nil {
		return stats, fmt.Errorf("purge dead jobs: %w", err)
	}
	stats.DeadJobsGone = deadGone

	return stats, nil
}

func (s *Store) expiredTombstoneIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE is_deleted = 1 AND deleted_at IS NOT NULL AND deleted_at < ?
		ORDER BY deleted_at ASC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) purgeMentions(ctx context.Context, memoryIDs []string) (int, map[string]int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback()

	affected := make(map[string]int)
	deleted := 0
	for _, id := range memoryIDs {
		rows, err := tx.QueryContext(ctx, `SELECT entity_id FROM memory_entity_mentions WHERE memory_id = ?`, id)
		if err != nil {
			return 0, nil, err
		}
		var entityIDs []string
		for rows.Next() {
			var eid string
			if err := rows.Scan(&eid); err != nil {
				rows.Close()
				return 0, nil, err
			}
			entityIDs = append(entityIDs, eid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, nil, err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM memory_entity_mentions WHERE memory_id = ?`, id)
		if err != nil {
			return 0, nil, err
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
		for _, eid := range entityIDs {
			affected[eid]++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	return deleted, affected, nil
}

func (s *Store) purgeEmbeddings(ctx context.Context, memoryIDs []string) (int, error) {
	return s.execPerID(ctx, `DELETE FROM embeddings WHERE source_type = 'memory' AND source_id = ?`, memoryIDs)
}

func (s *Store) purgeMemories(ctx context.Context, memoryIDs []string) (int, error) {
	return s.execPerID(ctx, `DELETE FROM memories WHERE id = ?`, memoryIDs)
}

// historyRetention is spec.md §4.2's 180-day history retention: history
// rows are forensic and survive well past their memory's tombstone window.
const historyRetention = 180 * 24 * time.Hour

func (s *Store) purgeHistoryByAge(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().Add(-historyRetention)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_history
		WHERE id IN (
			SELECT id FROM memory_history WHERE created_at < ? ORDER BY created_at ASC LIMIT ?
		)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) execPerID(ctx context.Context, stmt string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	total := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, stmt, id)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// completedJobRetention and deadJobRetention govern how long terminal job
// rows survive before the sweeper reclaims them (spec.md §4.2).
const (
	completedJobRetention = 14 * 24 * time.Hour
	deadJobRetention      = 30 * 24 * time.Hour
)

func (s *Store) purgeJobs(ctx context.Context, status string, retention time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-retention)
	var timestampCol string
	switch status {
	case "completed":
		timestampCol = "completed_at"
	case "dead":
		timestampCol = "failed_at"
	default:
		return 0, fmt.Errorf("unknown terminal job status %q", status)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM memory_jobs
		WHERE id IN (
			SELECT id FROM memory_jobs
			WHERE status = ? AND %s IS NOT NULL AND %s < ?
			ORDER BY %s ASC LIMIT ?
		)`, timestampCol, timestampCol, timestampCol),
		status, cutoff, limit)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
