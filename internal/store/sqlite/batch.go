package sqlite

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

// batchConfirmThreshold is the match count above which BatchForget's
// execute mode requires a confirm_token from a prior preview call
// (spec.md §4.1 "batch_forget").
const batchConfirmThreshold = 25

// confirmTokenBucket is the width of the time bucket folded into the HMAC
// so a token is only valid for a short window after preview.
const confirmTokenBucket = 5 * time.Minute

func (s *Store) matchBatchSelector(ctx context.Context, sel store.BatchSelector) ([]string, error) {
	limit := sel.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	var where []string
	var args []any
	where = append(where, "is_deleted = 0")
	if len(sel.IDs) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(sel.IDs)), ",")
		where = append(where, fmt.Sprintf("id IN (%s)", placeholders))
		for _, id := range sel.IDs {
			args = append(args, id)
		}
	}
	if sel.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(sel.Type))
	}
	if sel.Project != "" {
		where = append(where, "project = ?")
		args = append(args, sel.Project)
	}
	if !sel.OlderThan.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, sel.OlderThan)
	}

	query := fmt.Sprintf("SELECT id FROM memories WHERE %s ORDER BY created_at ASC LIMIT ?",
		strings.Join(where, " AND "))
	args = append(args, limit)

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

func (s *Store) batchSecret() []byte {
	if len(s.hmacKey) > 0 {
		return s.hmacKey
	}
	return []byte("memento-core-batch-forget")
}

// BatchForget previews or executes a bounded soft-delete across a selector
// (spec.md §4.1 "batch_forget"). Counts above batchConfirmThreshold require
// a confirm_token minted by a prior preview call within confirmTokenBucket.
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
		return &store.BatchResult{
			Count:        len(ids),
			MatchedIDs:   ids,
			ConfirmToken: s.confirmToken(sel, len(ids), bucket),
		}, nil
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
		var pinned int
		if err := tx.QueryRowContext(ctx, `SELECT pinned FROM memories WHERE id = ?`, id).Scan(&pinned); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		if pinned != 0 {
			continue // batch_forget never forces a pinned delete
		}
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET is_deleted=1, deleted_at=? WHERE id=?`, now, id); err != nil {
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
