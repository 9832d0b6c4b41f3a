package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memento-core/daemon/pkg/types"
)

// RecordSessionMemories upserts one row per candidate memory a recall pass
// considered for a session, so a later flush can tell which ones the
// harness actually injected (spec.md §4.4 "session_memory").
func (s *Store) RecordSessionMemories(ctx context.Context, rows []types.SessionMemory) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_memories (id, session_key, memory_id, source, effective_score, final_score, rank, was_injected, relevance_score, fts_hit_count, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT(session_key, memory_id) DO UPDATE SET
				source = excluded.source,
				effective_score = excluded.effective_score,
				final_score = excluded.final_score,
				rank = excluded.rank,
				fts_hit_count = excluded.fts_hit_count`,
			newID(), r.SessionKey, r.MemoryID, string(r.Source), r.EffectiveScore, r.FinalScore,
			r.Rank, r.WasInjected, nullableFloat(r.RelevanceScore), r.FTSHitCount, time.Now(),
		); err != nil {
			return fmt.Errorf("record session memory %s: %w", r.MemoryID, err)
		}
	}
	return tx.Commit()
}

// MarkInjected flips was_injected for the memories a harness actually put
// in front of the model, distinguishing them from ones merely recalled
// (spec.md §4.5 step 7 "memories_used" vs "memories_recalled").
func (s *Store) MarkInjected(ctx context.Context, sessionKey string, memoryIDs []string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range memoryIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_memories SET was_injected = TRUE WHERE session_key = $1 AND memory_id = $2`,
			sessionKey, id); err != nil {
			return fmt.Errorf("mark injected %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// InjectedMemories returns the session_memory rows a harness actually put
// in front of the model for sessionKey (spec.md §4.5 step 7 "rebuilds the
// set of injected memories").
func (s *Store) InjectedMemories(ctx context.Context, sessionKey string) ([]types.SessionMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, memory_id, source, effective_score, final_score, rank, was_injected, relevance_score, fts_hit_count, created_at
		FROM session_memories WHERE session_key = $1 AND was_injected = TRUE ORDER BY rank ASC`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("injected memories: %w", err)
	}
	defer rows.Close()

	var out []types.SessionMemory
	for rows.Next() {
		var sm types.SessionMemory
		var source string
		var relevance sql.NullFloat64
		if err := rows.Scan(&sm.ID, &sm.SessionKey, &sm.MemoryID, &source, &sm.EffectiveScore, &sm.FinalScore,
			&sm.Rank, &sm.WasInjected, &relevance, &sm.FTSHitCount, &sm.CreatedAt); err != nil {
			return nil, err
		}
		sm.Source = types.RecallSource(source)
		if relevance.Valid {
			v := relevance.Float64
			sm.RelevanceScore = &v
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// CountSessionMemories returns how many candidates were recalled for
// sessionKey, injected or not (spec.md §4.5 "memories_recalled").
func (s *Store) CountSessionMemories(ctx context.Context, sessionKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_memories WHERE session_key = $1`, sessionKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session memories: %w", err)
	}
	return n, nil
}

// UpdateRelevanceScores writes the continuity scorer's per-memory verdict
// back onto the matching session_memory rows (spec.md §4.5 step 7).
func (s *Store) UpdateRelevanceScores(ctx context.Context, sessionKey string, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for memoryID, score := range scores {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_memories SET relevance_score = $1 WHERE session_key = $2 AND memory_id = $3`,
			score, sessionKey, memoryID); err != nil {
			return fmt.Errorf("update relevance score %s: %w", memoryID, err)
		}
	}
	return tx.Commit()
}

// SaveCheckpoint persists one flushed digest row (spec.md §4.4 step 5
// "debounced flush"). Capacity enforcement is a separate call
// (PruneCheckpoints) so the caller can decide whether to run it on every
// flush or on a slower cadence.
func (s *Store) SaveCheckpoint(ctx context.Context, cp types.SessionCheckpoint) (*types.SessionCheckpoint, error) {
	id := newID()
	now := time.Now()
	queries, err := json.Marshal(cp.MemoryQueries)
	if err != nil {
		return nil, fmt.Errorf("marshal memory_queries: %w", err)
	}
	remembers, err := json.Marshal(cp.RecentRemembers)
	if err != nil {
		return nil, fmt.Errorf("marshal recent_remembers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_checkpoints
			(id, session_key, harness, project, project_normalized, trigger, digest, prompt_count, memory_queries, recent_remembers, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		id, cp.SessionKey, cp.Harness, cp.Project, cp.ProjectNorm, string(cp.Trigger), cp.Digest,
		cp.PromptCount, queries, remembers, now,
	)
	if err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	cp.ID = id
	cp.CreatedAt = now
	return &cp, nil
}

// LatestCheckpoint finds the most recent checkpoint for a normalized
// project within the recovery window (spec.md §4.4 "getLatestCheckpoint").
func (s *Store) LatestCheckpoint(ctx context.Context, projectNormalized string, within time.Duration) (*types.SessionCheckpoint, error) {
	cutoff := time.Now().Add(-within)
	row := s.db.QueryRowContext(ctx, checkpointSelectQuery+`
		WHERE project_normalized = $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT 1`, projectNormalized, cutoff)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, nil
}

// PruneCheckpoints keeps only the newest `keep` checkpoints for a session,
// deleting the rest (spec.md §4.4 "per-session checkpoint cap, default 50,
// oldest deleted").
func (s *Store) PruneCheckpoints(ctx context.Context, sessionKey string, keep int) error {
	if keep <= 0 {
		keep = 50
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM session_checkpoints
		WHERE session_key = $1 AND id NOT IN (
			SELECT id FROM session_checkpoints WHERE session_key = $1
			ORDER BY created_at DESC LIMIT $2
		)`, sessionKey, keep)
	if err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

// PurgeCheckpointsOlderThan strictly deletes checkpoints past retention,
// independent of the per-session cap (spec.md §4.4 "pruning,
// retentionDays=7").
func (s *Store) PurgeCheckpointsOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_checkpoints WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// SaveSessionScore persists a continuity-scoring verdict (spec.md §4.5
// step 7).
func (s *Store) SaveSessionScore(ctx context.Context, sc types.SessionScore) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_scores
			(id, session_key, project, harness, score, memories_recalled, memories_used, novel_context_count, reasoning, confidence, continuity_reasoning, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		newID(), sc.SessionKey, sc.Project, sc.Harness, sc.Score, sc.MemoriesRecalled, sc.MemoriesUsed,
		sc.NovelContextCount, nullIfEmpty(sc.Reasoning), nullableFloat(sc.Confidence), nullIfEmpty(sc.ContinuityReasoning), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save session score: %w", err)
	}
	return nil
}

const checkpointSelectQuery = `SELECT
	id, session_key, harness, project, project_normalized, trigger, digest, prompt_count, memory_queries, recent_remembers, created_at
	FROM session_checkpoints`

func scanCheckpoint(row rowScanner) (*types.SessionCheckpoint, error) {
	var cp types.SessionCheckpoint
	var queries, remembers []byte
	err := row.Scan(&cp.ID, &cp.SessionKey, &cp.Harness, &cp.Project, &cp.ProjectNorm, &cp.Trigger,
		&cp.Digest, &cp.PromptCount, &queries, &remembers, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(queries) > 0 {
		if err := json.Unmarshal(queries, &cp.MemoryQueries); err != nil {
			return nil, fmt.Errorf("unmarshal memory_queries: %w", err)
		}
	}
	if len(remembers) > 0 {
		if err := json.Unmarshal(remembers, &cp.RecentRemembers); err != nil {
			return nil, fmt.Errorf("unmarshal recent_remembers: %w", err)
		}
	}
	return &cp, nil
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
