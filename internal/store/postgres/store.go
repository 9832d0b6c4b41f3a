// Package postgres is the PostgreSQL implementation of store.MemoryStore,
// used in place of internal/store/sqlite when the daemon is configured with
// a postgres:// DSN (SPEC_FULL.md's "Storage backend parity" note).
// Grounded on internal/storage/postgres/memory_store.go's connection-pool
// setup and schema-application sequence.
package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

// Store implements store.MemoryStore against PostgreSQL with an optional
// pgvector-accelerated vector search path.
type Store struct {
	db                *sql.DB
	pgvectorAvailable bool
	hmacKey           []byte
}

// Open connects to dsn, applies the base schema and FTS migration (both
// idempotent), and attempts the pgvector extension + column migration,
// degrading to a linear-scan vector search when pgvector is unavailable
// (grounded on the teacher's "log and continue" pattern for optional
// extensions).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{db: db}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	if _, err := db.Exec(MigrationFTS); err != nil {
		log.Printf("postgres: FTS migration failed (full-text search degraded to ILIKE): %v", err)
	}
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (vector search falls back to linear scan): %v", err)
	} else {
		s.pgvectorAvailable = true
		if _, err := db.Exec(MigrationPgvector); err != nil {
			log.Printf("postgres: pgvector column migration failed: %v", err)
			s.pgvectorAvailable = false
		}
	}

	return s, nil
}

func (s *Store) SetBatchSecret(key []byte) { s.hmacKey = key }
func (s *Store) Close() error              { return s.db.Close() }
func (s *Store) DB() *sql.DB                { return s.db }

func (s *Store) batchSecret() []byte {
	if len(s.hmacKey) > 0 {
		return s.hmacKey
	}
	return []byte("memento-core-batch-forget")
}

const dedupWindow = 7 * 24 * time.Hour

// Ingest mirrors internal/store/sqlite.Store.Ingest's dedup rule (spec.md
// §4.1 "ingest"), adapted to $N placeholders and RETURNING-free two-step
// lookup/insert since Postgres's ON CONFLICT needs a declared constraint
// per target, and idempotency_key/content_hash dedup are two separate
// lookups rather than one conflict target.
func (s *Store) Ingest(ctx context.Context, env store.IngestEnvelope) (store.IngestResult, error) {
	if strings.TrimSpace(env.Content) == "" {
		return store.IngestResult{}, fmt.Errorf("%w: content is required", store.ErrInvalidInput)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(env.Content)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.IngestResult{}, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	if env.IdempotencyKey != "" {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE idempotency_key = $1`, env.IdempotencyKey).Scan(&id)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return store.IngestResult{}, err
			}
			return store.IngestResult{ID: id, Deduped: true}, nil
		}
		if err != sql.ErrNoRows {
			return store.IngestResult{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	cutoff := time.Now().Add(-dedupWindow)
	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM memories
		WHERE content_hash = $1 AND project = $2 AND who = $3 AND is_deleted = FALSE AND created_at >= $4
		ORDER BY created_at DESC LIMIT 1`,
		hash, env.Project, env.Who, cutoff,
	).Scan(&existingID)
	if err == nil {
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET updated_at = $1 WHERE id = $2`, time.Now(), existingID); err != nil {
			return store.IngestResult{}, fmt.Errorf("touch deduped memory: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return store.IngestResult{}, err
		}
		return store.IngestResult{ID: existingID, Deduped: true}, nil
	}
	if err != sql.ErrNoRows {
		return store.IngestResult{}, fmt.Errorf("dedup lookup: %w", err)
	}

	id := newID()
	now := time.Now()
	mtype := env.Type
	if mtype == "" {
		mtype = types.TypeGeneral
	}
	tagsJSON, err := marshalTags(env.Tags)
	if err != nil {
		return store.IngestResult{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (
			id, content, normalized_content, content_hash, type, importance, confidence,
			project, session_id, who, source_type, tags, runtime_path,
			version, is_deleted, idempotency_key, created_at, updated_at, extraction_status
		) VALUES ($1,$2,$3,$4,$5,$6,1.0,$7,$8,$9,$10,$11,$12,1,FALSE,$13,$14,$15,'pending')`,
		id, env.Content, env.Content, hash, string(mtype), env.Importance,
		env.Project, env.SessionID, env.Who, env.SourceType, tagsJSON, env.RuntimePath,
		nullIfEmpty(env.IdempotencyKey), now, now,
	)
	if err != nil {
		return store.IngestResult{}, fmt.Errorf("insert memory: %w", err)
	}

	if err := writeHistory(ctx, tx, newID(), id, types.EventAdd, nil, &env.Content, env.Who, "ingest", ""); err != nil {
		return store.IngestResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.IngestResult{}, err
	}
	return store.IngestResult{ID: id, Deduped: false}, nil
}

func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", store.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.PaginatedResult[types.Memory], error) {
	opts.Normalize()

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !opts.IncludeDel {
		where = append(where, "is_deleted = FALSE")
	} else if opts.OnlyDel {
		where = append(where, "is_deleted = TRUE")
	}
	if opts.Project != "" {
		where = append(where, "project = "+arg(opts.Project))
	}
	if opts.SessionID != "" {
		where = append(where, "session_id = "+arg(opts.SessionID))
	}
	if opts.Type != "" {
		where = append(where, "type = "+arg(opts.Type))
	}
	if opts.Pinned != nil {
		where = append(where, "pinned = "+arg(*opts.Pinned))
	}
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "created_at >= "+arg(opts.CreatedAfter))
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at <= "+arg(opts.CreatedBefore))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM memories %s", whereClause)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}

	limitArg := arg(opts.Limit)
	offsetArg := arg(opts.Offset())
	query := fmt.Sprintf("%s FROM memories %s ORDER BY %s %s LIMIT %s OFFSET %s",
		selectColumns, whereClause, opts.SortBy, strings.ToUpper(opts.SortOrder), limitArg, offsetArg)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	items, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	return &store.PaginatedResult[types.Memory]{
		Items: items, Total: total, Page: opts.Page, PageSize: opts.Limit,
		HasMore: opts.Offset()+len(items) < total,
	}, nil
}

func (s *Store) Update(ctx context.Context, id string, patch types.MemoryPatch, reason string, ifVersion *int) (*types.Memory, bool, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, false, store.ErrMissingReason()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	current, err := scanMemoryTx(ctx, tx, id)
	if err == sql.ErrNoRows {
		return nil, false, store.ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	if ifVersion != nil && *ifVersion != current.Version {
		return nil, false, store.ErrVersionConflictDetail(current.Version)
	}

	oldContent := current.Content
	contentChanged := false
	if patch.Content != nil && *patch.Content != current.Content {
		current.Content = *patch.Content
		current.NormalizedContent = *patch.Content
		current.ContentHash = fmt.Sprintf("%x", sha256.Sum256([]byte(*patch.Content)))
		contentChanged = true
	}
	if patch.Type != nil {
		current.Type = *patch.Type
	}
	if patch.Importance != nil {
		current.Importance = *patch.Importance
	}
	if patch.Tags != nil {
		current.Tags = *patch.Tags
	}
	current.Version++
	current.UpdatedAt = time.Now()

	tagsJSON, err := marshalTags(current.Tags)
	if err != nil {
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memories SET content=$1, normalized_content=$2, content_hash=$3, type=$4,
			importance=$5, tags=$6, version=$7, updated_at=$8
		WHERE id = $9`,
		current.Content, current.NormalizedContent, current.ContentHash, string(current.Type),
		current.Importance, tagsJSON, current.Version, current.UpdatedAt, id,
	)
	if err != nil {
		return nil, false, fmt.Errorf("update memory: %w", err)
	}

	var oldPtr, newPtr *string
	if contentChanged {
		oldPtr, newPtr = &oldContent, &current.Content
	}
	if err := writeHistory(ctx, tx, newID(), id, types.EventUpdate, oldPtr, newPtr, current.UpdatedBy, reason, ""); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return current, contentChanged, nil
}

func (s *Store) SoftDelete(ctx context.Context, id string, reason string, force bool) error {
	if strings.TrimSpace(reason) == "" {
		return store.ErrMissingReason()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m, err := scanMemoryTx(ctx, tx, id)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if m.IsDeleted {
		return store.ErrAlreadyDeleted
	}
	if m.Pinned && !force {
		return store.ErrPinnedRequiresForce()
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE memories SET is_deleted=TRUE, deleted_at=$1 WHERE id=$2`, now, id); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if err := writeHistory(ctx, tx, newID(), id, types.EventDelete, nil, nil, "", reason, ""); err != nil {
		return err
	}
	return tx.Commit()
}

const tombstoneRetention = 30 * 24 * time.Hour

func (s *Store) Recover(ctx context.Context, id string, reason string) (*types.Memory, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := scanMemoryTx(ctx, tx, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !m.IsDeleted {
		return nil, fmt.Errorf("%w: memory is not deleted", store.ErrInvalidInput)
	}
	if m.DeletedAt == nil || time.Since(*m.DeletedAt) > tombstoneRetention {
		return nil, store.ErrRetentionExpired()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE memories SET is_deleted=FALSE, deleted_at=NULL WHERE id=$1`, id); err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	if err := writeHistory(ctx, tx, newID(), id, types.EventRecover, nil, nil, "", reason, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	m.IsDeleted = false
	m.DeletedAt = nil
	return m, nil
}

// History returns the append-only audit trail for memoryID, oldest first.
func (s *Store) History(ctx context.Context, memoryID string) ([]types.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, event, old_content, new_content, changed_by, reason, metadata, created_at
		FROM memory_history WHERE memory_id = $1 ORDER BY created_at ASC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []types.HistoryEntry
	for rows.Next() {
		var h types.HistoryEntry
		var metadata sql.NullString
		if err := rows.Scan(&h.ID, &h.MemoryID, &h.Event, &h.OldContent, &h.NewContent, &h.ChangedBy, &h.Reason, &metadata, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Metadata = metadata.String
		out = append(out, h)
	}
	return out, rows.Err()
}
