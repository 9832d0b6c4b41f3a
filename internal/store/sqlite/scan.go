package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/memento-core/daemon/pkg/types"
)

func newID() string { return uuid.NewString() }

const selectColumns = `SELECT
	id, content, normalized_content, content_hash, type, importance, confidence, pinned,
	project, session_id, who, source_type, tags, runtime_path,
	version, is_deleted, deleted_at, idempotency_key,
	created_at, updated_at, updated_by, embedding_model, extraction_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var tagsJSON sql.NullString
	var deletedAt sql.NullTime
	var idempotencyKey sql.NullString
	var pinned int

	err := row.Scan(
		&m.ID, &m.Content, &m.NormalizedContent, &m.ContentHash, &m.Type, &m.Importance, &m.Confidence, &pinned,
		&m.Project, &m.SessionID, &m.Who, &m.SourceType, &tagsJSON, &m.RuntimePath,
		&m.Version, &m.IsDeleted, &deletedAt, &idempotencyKey,
		&m.CreatedAt, &m.UpdatedAt, &m.UpdatedBy, &m.EmbeddingModel, &m.ExtractionStatus,
	)
	if err != nil {
		return nil, err
	}

	m.Pinned = pinned != 0
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Time
	}
	if idempotencyKey.Valid {
		m.IdempotencyKey = idempotencyKey.String
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]types.Memory, error) {
	var out []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func scanMemoryTx(ctx context.Context, tx *sql.Tx, id string) (*types.Memory, error) {
	row := tx.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ?`, id)
	return scanMemory(row)
}

func marshalTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal tags: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func writeHistory(ctx context.Context, tx *sql.Tx, historyID, memoryID string, event types.HistoryEvent, oldContent, newContent *string, changedBy, reason, metadata string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_history (id, memory_id, event, old_content, new_content, changed_by, reason, metadata)
		VALUES (?,?,?,?,?,?,?,?)`,
		historyID, memoryID, string(event), oldContent, newContent, changedBy, reason, nullIfEmpty(metadata),
	)
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
