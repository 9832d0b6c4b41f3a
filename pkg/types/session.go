package types

import "time"

// CheckpointTrigger records why a session checkpoint was flushed
// (SPEC_FULL.md §4.4 "session_checkpoint").
type CheckpointTrigger string

const (
	TriggerPeriodic      CheckpointTrigger = "periodic"
	TriggerPreCompaction CheckpointTrigger = "pre_compaction"
	TriggerAgent         CheckpointTrigger = "agent"
	TriggerExplicit      CheckpointTrigger = "explicit"
)

var validCheckpointTriggers = []CheckpointTrigger{
	TriggerPeriodic, TriggerPreCompaction, TriggerAgent, TriggerExplicit,
}

// IsValidCheckpointTrigger reports whether t is one of the recognized
// checkpoint triggers.
func IsValidCheckpointTrigger(t CheckpointTrigger) bool {
	for _, v := range validCheckpointTriggers {
		if v == t {
			return true
		}
	}
	return false
}

// SessionCheckpoint is one flushed digest row for a session_key
// (SPEC_FULL.md §4.4). Two queued writes for the same session before flush
// are merged by the session tracker before a row is ever persisted here.
type SessionCheckpoint struct {
	ID              string            `json:"id"`
	SessionKey      string            `json:"session_key"`
	Harness         string            `json:"harness"`
	Project         string            `json:"project"`
	ProjectNorm     string            `json:"project_normalized"`
	Trigger         CheckpointTrigger `json:"trigger"`
	Digest          string            `json:"digest"`
	PromptCount     int               `json:"prompt_count"`
	MemoryQueries   []string          `json:"memory_queries,omitempty"`
	RecentRemembers []string          `json:"recent_remembers,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// RecallSource distinguishes how a memory entered a session's candidate set.
type RecallSource string

const (
	SourceEffective RecallSource = "effective"
	SourceFTSOnly   RecallSource = "fts_only"
)

// SessionMemory is one row tracking a memory considered for injection into
// a session (SPEC_FULL.md §3 "session records"). Unique on
// (SessionKey, MemoryID).
type SessionMemory struct {
	ID             string       `json:"id"`
	SessionKey     string       `json:"session_key"`
	MemoryID       string       `json:"memory_id"`
	Source         RecallSource `json:"source"`
	EffectiveScore float64      `json:"effective_score"`
	FinalScore     float64      `json:"final_score"`
	Rank           int          `json:"rank"`
	WasInjected    bool         `json:"was_injected"`
	RelevanceScore *float64     `json:"relevance_score,omitempty"`
	FTSHitCount    int          `json:"fts_hit_count"`
	CreatedAt      time.Time    `json:"created_at"`
}

// SessionScore is a continuity-scoring verdict for one session interval
// (SPEC_FULL.md §3 "session records").
type SessionScore struct {
	ID                  string    `json:"id"`
	SessionKey          string    `json:"session_key"`
	Project             string    `json:"project"`
	Harness             string    `json:"harness"`
	Score               float64   `json:"score"`
	MemoriesRecalled    int       `json:"memories_recalled"`
	MemoriesUsed        int       `json:"memories_used"`
	NovelContextCount   int       `json:"novel_context_count"`
	Reasoning           string    `json:"reasoning,omitempty"`
	Confidence          *float64  `json:"confidence,omitempty"`
	ContinuityReasoning string    `json:"continuity_reasoning,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// SummaryJob is the enqueue-time request to turn a raw session transcript
// into a dated markdown note plus atomic facts (spec.md §4.5
// "enqueueSummaryJob"). It is marshaled directly into a generic Job's
// Payload (job_type=summarize) rather than backed by its own lease table —
// the lifecycle fields (status/attempts/leased_at) a dedicated table would
// need already exist on Job, so summarize reuses the same worker pool and
// dead-letter policy as extract/decide/embed instead of duplicating it.
type SummaryJob struct {
	SessionKey string `json:"session_key,omitempty"`
	Harness    string `json:"harness"`
	Project    string `json:"project,omitempty"`
	Transcript string `json:"transcript"`
}
