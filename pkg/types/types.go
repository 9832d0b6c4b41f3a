// Package types defines the core data structures shared across the daemon:
// memories, jobs, embeddings, the extracted entity graph, and session
// records (SPEC_FULL.md §3). These are storage-shape structs; behavior
// lives in the packages that own each table (internal/store,
// internal/jobqueue, internal/recall, internal/session).
package types

import "time"

// JobType enumerates the pipeline stages the job queue dispatches.
type JobType string

const (
	JobExtract   JobType = "extract"
	JobDecide    JobType = "decide"
	JobEmbed     JobType = "embed"
	JobSummarize JobType = "summarize"
)

// JobStatus tracks a Job's position in the lease lifecycle.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDead       JobStatus = "dead"
)

// Job is a persistent unit of background work (spec.md §3 "Job").
type Job struct {
	ID          string     `json:"id"`
	MemoryID    string     `json:"memory_id"`
	JobType     JobType    `json:"job_type"`
	Status      JobStatus  `json:"status"`
	Payload     string     `json:"payload,omitempty"` // raw JSON
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LeasedAt    *time.Time `json:"leased_at,omitempty"`
	LeasedBy    string     `json:"leased_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      string     `json:"result,omitempty"` // raw JSON
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DecisionAction is the disposition an LLM proposes for an extracted fact
// during the shadow-decision stage (spec.md §4.2 "decide").
type DecisionAction string

const (
	ActionAdd    DecisionAction = "add"
	ActionUpdate DecisionAction = "update"
	ActionDelete DecisionAction = "delete"
	ActionNone   DecisionAction = "none"
)

// IsValidDecisionAction reports whether a is one of the four actions the
// decide stage is allowed to propose.
func IsValidDecisionAction(a DecisionAction) bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionDelete, ActionNone:
		return true
	default:
		return false
	}
}

// DecisionProposal is a recorded-but-not-applied shadow decision. It is
// never promoted to a mutation by this daemon (spec.md §9 Open Questions).
type DecisionProposal struct {
	ID         string         `json:"id"`
	MemoryID   string         `json:"memory_id"` // the newly extracted fact, stored pending review
	TargetID   string         `json:"target_id,omitempty"`
	Action     DecisionAction `json:"action"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Embedding is dense vector bytes keyed by (source_type, source_id)
// (spec.md §3 "Embedding").
type Embedding struct {
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
