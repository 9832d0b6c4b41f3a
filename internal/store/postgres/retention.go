package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/memento-core/daemon/internal/store"
)

const retentionSweepWindow = tombstoneRetention
const historyRetention = 180 * 24 * time.Hour
const (
	completedJobRetention = 14 * 24 * time.Hour
	deadJobRetention      = 30 * 24 * time.Hour
)

// PurgeRetention mirrors internal/store/sqlite.Store.PurgeRetention's
// strict 6-step order (spec.md §4.2): entity mentions, embeddings, memory
// rows, history, completed jobs, dead jobs — each in its own short
// transaction. History and job purges are age-based independent of which
// memories were purged above: a memory's history outlives the memory row
// itself (180-day retention vs. the 30-day tombstone window).
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
		mentionsDeleted, affected, err := s.purgeMentions(ctx, expiredIDs)
		if err != nil {
			return stats, fmt.Errorf("purge mentions: %w", err)
		}
		stats.MentionsDeleted = mentionsDeleted
		for entityID, count := range affected {
			if err := s.DecrementEntityMentions(ctx, entityID, count); err != nil {
				return stats, fmt.Errorf("decrement entity %s: %w", entityID, err)
			}
		}

		if stats.EmbeddingsDeleted, err = s.execPerID(ctx, `DELETE FROM embeddings WHERE source_type = 'memory' AND source_id = $1`, expiredIDs); err != nil {
			return stats, fmt.Errorf("purge embeddings: %w", err)
		}
		if stats.MemoriesDeleted, err = s.execPerID(ctx, `DELETE FROM memories WHERE id = $1`, expiredIDs); err != nil {
			return stats, fmt.Errorf("purge memories: %w", err)
		}
	}

	if stats.HistoryDeleted, err = s.purgeHistoryByAge(ctx, batchLimit); err != nil {
		return stats, fmt.Errorf("purge history: %w", err)
	}
	if stats.CompletedJobsGone, err = s.purgeJobs(ctx, "completed", completedJobRetention, batchLimit); err != nil {
		return stats, fmt.Errorf("purge completed jobs: %w", err)
	}
	if stats.DeadJobsGone, err = s.purgeJobs(ctx, "dead", deadJobRetention, batchLimit); err != nil {
		return stats, fmt.Errorf("purge dead jobs: %w", err)
	}
	return stats, nil
}

func (s *Store) purgeHistoryByAge(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().Add(-historyRetention)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_history
		WHERE id IN (
			SELECT id FROM memory_history WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) expiredTombstoneIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE is_deleted = TRUE AND deleted_at IS NOT NULL AND deleted_at < $1
		ORDER BY deleted_at ASC LIMIT $2`, cutoff, limit)
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
		rows, err := tx.QueryContext(ctx, `SELECT entity_id FROM memory_entity_mentions WHERE memory_id = $1`, id)
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

		res, err := tx.ExecContext(ctx, `DELETE FROM memory_entity_mentions WHERE memory_id = $1`, id)
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
			WHERE status = $1 AND %s IS NOT NULL AND %s < $2
			ORDER BY %s ASC LIMIT $3
		)`, timestampCol, timestampCol, timestampCol),
		status, cutoff, limit)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
