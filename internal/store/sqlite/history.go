package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memento-core/daemon/pkg/types"
)

// History returns every append-only audit row for a memory, oldest first.
func (s *Store) History(ctx context.Context, memoryID string) ([]types.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, event, old_content, new_content, changed_by, reason, metadata, created_at
		FROM memory_history WHERE memory_id = ? ORDER BY created_at ASC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []types.HistoryEntry
	for rows.Next() {
		var h types.HistoryEntry
		var oldContent, newContent, metadata sql.NullString
		if err := rows.Scan(&h.ID, &h.MemoryID, &h.Event, &oldContent, &newContent, &h.ChangedBy, &h.Reason, &metadata, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if oldContent.Valid {
			h.OldContent = &oldContent.String
		}
		if newContent.Valid {
			h.NewContent = &newContent.String
		}
		if metadata.Valid {
			h.Metadata = metadata.String
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
