package postgres

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

const (
	batchConfirmThreshold = 25
	confirmTokenBucket    = 5 * time.Minute
)

func (s *Store) matchBatchSelector(ctx context.Context, sel store.BatchSelector) ([]string, error) {
	limit := sel.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	where = append(where, "is_deleted = FALSE")
	if len(sel.IDs) > 0 {
		placeholders := make([]string, len(sel.IDs))
		for i, id := range sel.IDs {
			placeholders[i] = arg(id)
		}
		where = append(where, fmt.Sprintf("id IN (%s)", strings.Join(placeholders, ",")))
	}
	if sel.Type != "" {
		where = append(where, "type = "+arg(string(sel.Type)))
	}
	if sel.Project != "" {
		where = append(where, "project = "+arg(sel.Project))
	}
	if !sel.OlderThan.IsZero() {
		where = append(where, "created_at < "+arg(sel.OlderThan))
	}

	limitArg := arg(limit)
	query := fmt.Sprintf("SELECT id FROM memories WHERE %s ORDER BY created_at ASC LIMIT %s",
		strings.Join(where, " AND "), limitArg)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("match batch selector: %w", err)
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

func (s *Store) confirmToken(sel store.BatchSelector, count int, bucket int64) string {
	mac := hmac.New(sha256.New, s.batchSecret())
	fmt.Fprintf(mac, "%v|%d|%d", sel, count, bucket)
	return hex.EncodeToString(mac.Sum(nil))
}

// BatchForget mirrors internal/store/sqlite.Store.BatchForget's
// preview/execute semantics and HMAC confirm-token verification
// (spec.md §4.1 "batch_forget").
func (s *Store) BatchForget(ctx context.Context, sel store.BatchSelector, mode store.BatchMode, confirmToken string, reason string) (*store.BatchResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, store.ErrMissingReason()
	}

	ids, err := s.matchBatchSelector(ctx, sel)
	if err != nil {
		return nil, err
	}
	bucket := time.Now().Unix() / int64(confirmTokenBucket.Seconds())

	if mode == store.BatchPreview {
		return &store.BatchResult{Count: len(ids), MatchedIDs: ids, ConfirmToken: s.confirmToken(sel, len(ids), bucket)}, nil
	}

	if len(ids) > batchConfirmThreshold {
		valid := confirmToken != "" && (confirmToken == s.confirmToken(sel, len(ids), bucket) ||
			confirmToken == s.confirmToken(sel, len(ids), bucket-1))
		if confirmToken == "" {
			return nil, store.ErrBatchThresholdRequiresConfirm(len(ids), s.confirmToken(sel, len(ids), bucket))
		}
		if !valid {
			return nil, store.ErrBatchConfirmInvalid()
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, id := range ids {
		var pinned bool
		if err := tx.QueryRowContext(ctx, `SELECT pinned FROM memories WHERE id = $1`, id).Scan(&pinned); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		if pinned {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET is_deleted=TRUE, deleted_at=$1 WHERE id=$2`, now, id); err != nil {
			return nil, fmt.Errorf("batch soft delete %s: %w", id, err)
		}
		if err := writeHistory(ctx, tx, newID(), id, types.EventDelete, nil, nil, "", reason, `{"batch":true}`); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &store.BatchResult{Count: len(ids), MatchedIDs: ids}, nil
}
