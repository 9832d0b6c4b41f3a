package store

import (
	"context"
	"time"

	"github.com/memento-core/daemon/pkg/types"
)

// IngestEnvelope is the normalized input to MemoryStore.Ingest (spec.md §4.1
// "ingest(envelope)").
type IngestEnvelope struct {
	Content        string
	Type           types.MemoryType
	Importance     float64
	Project        string
	SessionID      string
	Who            string
	SourceType     string
	Tags           []string
	RuntimePath    string
	IdempotencyKey string
}

// IngestResult reports whether Ingest matched an existing row instead of
// inserting a new one.
type IngestResult struct {
	ID     string
	Deduped bool
}

// BatchSelector narrows the set of memories a batch_forget call targets
// (spec.md §4.1 "batch_forget").
type BatchSelector struct {
	IDs     []string
	Type    types.MemoryType
	Project string
	// OlderThan, when non-zero, restricts matches to memories created
	// before this instant (spec.md §4.1 "batch_forget" age threshold).
	OlderThan time.Time
	Limit     int
}

// BatchMode distinguishes a dry-run preview from an executing batch_forget.
type BatchMode string

const (
	BatchPreview BatchMode = "preview"
	BatchExecute BatchMode = "execute"
)

// BatchResult is returned from a preview call and echoed back (via
// ConfirmToken) on the matching execute call.
type BatchResult struct {
	Count        int
	MatchedIDs   []string
	ConfirmToken string
}

// MemoryStore is the durable record for memories: CRUD with optimistic
// concurrency, soft-delete/recovery, history, and full-text/vector search
// (spec.md §4.1, §4.3). Interface-segregated the way the teacher's
// storage.MemoryStore / storage.SearchProvider split does, but collapsed
// to one interface per backend implementation since this daemon only ever
// runs a single backend at a time.
type MemoryStore interface {
	Ingest(ctx context.Context, env IngestEnvelope) (IngestResult, error)
	Get(ctx context.Context, id string) (*types.Memory, error)
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Memory], error)
	// Update applies a partial patch and reports whether Content changed, so
	// callers can re-enqueue extraction/embedding for the new text (spec.md
	// §4.1 "update": "on content change, schedule a new extract+embed job
	// pair").
	Update(ctx context.Context, id string, patch types.MemoryPatch, reason string, ifVersion *int) (*types.Memory, bool, error)
	SoftDelete(ctx context.Context, id string, reason string, force bool) error
	Recover(ctx context.Context, id string, reason string) (*types.Memory, error)
	BatchForget(ctx context.Context, sel BatchSelector, mode BatchMode, confirmToken string, reason string) (*BatchResult, error)

	History(ctx context.Context, memoryID string) ([]types.HistoryEntry, error)

	FullTextSearch(ctx context.Context, opts SearchOptions) ([]ScoredMemory, error)
	VectorSearch(ctx context.Context, vector []float32, opts SearchOptions) ([]ScoredMemory, error)
	HybridSearch(ctx context.Context, opts SearchOptions) ([]ScoredMemory, error)

	StoreEmbedding(ctx context.Context, emb types.Embedding) error
	GetEmbedding(ctx context.Context, sourceType, sourceID string) (*types.Embedding, error)
	SetExtractionStatus(ctx context.Context, memoryID string, status types.ExtractionStatus) error

	UpsertEntity(ctx context.Context, name, entityType string) (*types.Entity, error)
	LinkEntityMention(ctx context.Context, memoryID, entityID string) error
	UpsertRelation(ctx context.Context, sourceEntityID, targetEntityID, relationType string, observedConfidence float64) (*types.Relation, error)
	DecrementEntityMentions(ctx context.Context, entityID string, by int) error

	RecordDecisionProposal(ctx context.Context, p types.DecisionProposal) error

	PurgeRetention(ctx context.Context, batchLimit int) (PurgeStats, error)

	Close() error
}

// PurgeStats reports how many rows the retention sweeper removed in each
// step of its strict ordering (spec.md §4.2 "Retention sweeper").
type PurgeStats struct {
	MentionsDeleted   int
	EmbeddingsDeleted int
	MemoriesDeleted   int
	HistoryDeleted    int
	CompletedJobsGone int
	DeadJobsGone      int
}

// SessionStore persists the session-continuity state internal/session
// tracks in memory between debounced flushes: which memories were
// recalled into a session's hook context, the periodic/compaction/agent
// digests checkpointed for recovery, and the continuity-scoring verdicts
// produced once a session ends (spec.md §4.4, §4.5 step 7).
type SessionStore interface {
	RecordSessionMemories(ctx context.Context, rows []types.SessionMemory) error
	MarkInjected(ctx context.Context, sessionKey string, memoryIDs []string) error

	// InjectedMemories returns the session_memory rows actually put in
	// front of the model (was_injected=1), the candidate set a continuity
	// score is computed against (spec.md §4.5 step 7).
	InjectedMemories(ctx context.Context, sessionKey string) ([]types.SessionMemory, error)
	// CountSessionMemories returns how many candidates a session recalled
	// in total, injected or not (spec.md §4.5 "memories_recalled").
	CountSessionMemories(ctx context.Context, sessionKey string) (int, error)
	// UpdateRelevanceScores records the continuity scorer's per-memory
	// coverage verdict against the matching session_memory rows.
	UpdateRelevanceScores(ctx context.Context, sessionKey string, scores map[string]float64) error

	SaveCheckpoint(ctx context.Context, cp types.SessionCheckpoint) (*types.SessionCheckpoint, error)
	LatestCheckpoint(ctx context.Context, projectNormalized string, within time.Duration) (*types.SessionCheckpoint, error)
	PruneCheckpoints(ctx context.Context, sessionKey string, keep int) error
	PurgeCheckpointsOlderThan(ctx context.Context, retention time.Duration) (int, error)

	SaveSessionScore(ctx context.Context, sc types.SessionScore) error
}

// JobQueue is the durable at-least-once job table backing
// internal/jobqueue (spec.md §4.2). Split from MemoryStore the way the
// teacher keeps storage.MemoryStore and storage.SearchProvider separate,
// since a job-dispatch worker has no business calling Ingest/Update
// directly — it goes through MemoryStore for that.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType types.JobType, memoryID string, payload string) (*types.Job, error)
	Lease(ctx context.Context, workerID string, batch int, leaseTimeout time.Duration) ([]types.Job, error)
	Complete(ctx context.Context, jobID string, result string) error
	Fail(ctx context.Context, jobID string, errMsg string) error
}
