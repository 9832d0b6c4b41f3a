// Package sqlite is the SQLite-backed implementation of store.MemoryStore.
// Grounded on internal/storage/sqlite/memory_store.go's connection setup and
// stale-WAL self-healing; the CRUD and search logic is new, generalized to
// this domain's optimistic-concurrency and soft-delete semantics
// (spec.md §4.1).
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

// Store implements store.MemoryStore using SQLite in WAL mode with a
// single writer connection (spec.md §5 "all writes are serialized").
type Store struct {
	db      *sql.DB
	hmacKey []byte
}

// SetBatchSecret sets the key used to mint/verify BatchForget confirm
// tokens. Callers wire this to the auth package's configured secret; if
// never called, a fixed in-process default is used (fine for a single-user
// local daemon, since the token only needs to defeat accidental double
// execution, not a determined attacker with filesystem access already).
func (s *Store) SetBatchSecret(key []byte) { s.hmacKey = key }

// Open opens a SQLite database at dsn, configuring WAL mode, a busy
// timeout, and foreign keys, then creates the schema if absent. If the
// initial open fails in a way consistent with a stale WAL left behind by a
// crashed process, it retries once after removing the stale -shm/-wal
// files (grounded on NewMemoryStore's recovery path).
func Open(dsn string) (*Store, error) {
	s, err := open(dsn)
	if err == nil {
		return s, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}
	if !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath)

	s, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("store/sqlite: recovered from stale WAL files for %s", dbPath)
	return s, nil
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports exactly one writer; serialize on a single connection
	// and let WAL mode keep readers from blocking on it (spec.md §5).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection for packages that need raw
// access (the jobqueue and session packages share this database file).
func (s *Store) DB() *sql.DB { return s.db }

const dedupWindow = 7 * 24 * time.Hour

// Ingest inserts a new memory or returns an existing one's id per the
// idempotency-key / content-hash dedup rule (spec.md §4.1 "ingest").
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
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM memories WHERE idempotency_key = ?`, env.IdempotencyKey,
		).Scan(&id)
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
		WHERE content_hash = ? AND project = ? AND who = ? AND is_deleted = 0 AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		hash, env.Project, env.Who, cutoff,
	).Scan(&existingID)
	if err == nil {
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET updated_at = ? WHERE id = ?`, time.Now(), existingID); err != nil {
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
		) VALUES (?,?,?,?,?,?,1.0,?,?,?,?,?,?,1,0,?,?,?,'pending')`,
		id, env.Content, normalizeContent(env.Content), hash, string(mtype), env.Importance,
		env.Project, env.SessionID, env.Who, env.SourceType, tagsJSON, env.RuntimePath,
		nullableString(env.IdempotencyKey), now, now,
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

// Get returns a single live-or-deleted memory by id.
func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", store.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// List returns a page of memories matching opts.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.PaginatedResult[types.Memory], error) {
	opts.Normalize()

	var where []string
	var args []any
	if !opts.IncludeDel {
		where = append(where, "is_deleted = 0")
	} else if opts.OnlyDel {
		where = append(where, "is_deleted = 1")
	}
	if opts.Project != "" {
		where = append(where, "project = ?")
		args = append(args, opts.Project)
	}
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.Pinned != nil {
		where = append(where, "pinned = ?")
		args = append(args, boolToInt(*opts.Pinned))
	}
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, opts.CreatedBefore)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countArgs := append([]any{}, args...)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories `+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}

	query := fmt.Sprintf("%s FROM memories %s ORDER BY %s %s LIMIT ? OFFSET ?",
		selectColumns, whereSQL, opts.SortBy, strings.ToUpper(opts.SortOrder))
	args = append(args, opts.Limit, opts.Offset())

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
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// Update applies a partial patch with optimistic-concurrency and history
// recording (spec.md §4.1 "update").
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
		current.NormalizedContent = normalizeContent(*patch.Content)
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
		UPDATE memories SET content=?, normalized_content=?, content_hash=?, type=?,
			importance=?, tags=?, version=?, updated_at=?
		WHERE id = ?`,
		current.Content, current.NormalizedContent, current.ContentHash, string(current.Type),
		current.Importance, tagsJSON, current.Version, current.UpdatedAt, id,
	)
	if err != nil {
		return nil, false, fmt.Errorf("update memory: %w", err)
	}

	var oldPtr, newPtr *string
	if contentChanged {
		oldPtr = &oldContent
		newPtr = &current.Content
	}
	if err := writeHistory(ctx, tx, newID(), id, types.EventUpdate, oldPtr, newPtr, current.UpdatedBy, reason, ""); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return current, contentChanged, nil
}

// SoftDelete tombstones a memory (spec.md §4.1 "soft_delete").
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
	if m.Pinned && !force {
		return store.ErrPinnedRequiresForce()
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE memories SET is_deleted=1, deleted_at=? WHERE id=?`, now, id); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if err := writeHistory(ctx, tx, newID(), id, types.EventDelete, nil, nil, "", reason, ""); err != nil {
		return err
	}
	return tx.Commit()
}

const tombstoneRetention = 30 * 24 * time.Hour

// Recover clears the soft-delete tombstone within the retention window
// (spec.md §4.1 "recover").
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

	if _, err := tx.ExecContext(ctx, `UPDATE memories SET is_deleted=0, deleted_at=NULL WHERE id=?`, id); err != nil {
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// dbPathFromDSN, isRecoverableWALError, isWALStale, removeStaleWAL, and
// fileExists are carried forward from the teacher's
// internal/storage/sqlite/memory_store.go near-verbatim; the recovery
// heuristic (check lsof, remove -shm/-wal if nothing holds them) does not
// depend on the domain, only on how the process is deployed.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}
	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}
	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("store/sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
