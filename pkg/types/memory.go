package types

import "time"

// MemoryType classifies the kind of note a Memory represents.
type MemoryType string

const (
	TypeFact       MemoryType = "fact"
	TypePreference MemoryType = "preference"
	TypeDecision   MemoryType = "decision"
	TypeProcedural MemoryType = "procedural"
	TypeSemantic   MemoryType = "semantic"
	TypeIssue      MemoryType = "issue"
	TypeRule       MemoryType = "rule"
	TypeLearning   MemoryType = "learning"
	TypeGeneral    MemoryType = "general"
)

// ValidMemoryTypes lists every type value the store accepts. Unknown
// incoming values are coerced to TypeFact by the extraction stage and
// TypeGeneral by direct remember calls.
var ValidMemoryTypes = []MemoryType{
	TypeFact, TypePreference, TypeDecision, TypeProcedural,
	TypeSemantic, TypeIssue, TypeRule, TypeLearning, TypeGeneral,
}

// IsValidMemoryType reports whether t is one of ValidMemoryTypes.
func IsValidMemoryType(t MemoryType) bool {
	for _, v := range ValidMemoryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ExtractionStatus tracks where a memory's content sits in the enrichment
// pipeline (extract -> decide -> embed).
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// Memory is the central mutable record (spec.md §3 "Memory"). It carries
// optimistic-concurrency versioning and a soft-delete tombstone; mutation is
// always performed by the store package, never by mutating a Memory value
// directly and writing it back.
type Memory struct {
	ID                string     `json:"id"`
	Content           string     `json:"content"`
	NormalizedContent string     `json:"normalized_content"`
	ContentHash       string     `json:"content_hash"`
	Type              MemoryType `json:"type"`
	Importance        float64    `json:"importance"`
	Confidence        float64    `json:"confidence"`
	Pinned            bool       `json:"pinned"`

	Project     string   `json:"project,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	Who         string   `json:"who,omitempty"`
	SourceType  string   `json:"source_type,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	RuntimePath string   `json:"runtime_path,omitempty"`

	Version int `json:"version"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`

	EmbeddingModel   string           `json:"embedding_model,omitempty"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
}

// Clone returns a copy of m safe to use as a pre-mutation snapshot — the
// read half of the "read snapshot -> external call -> short write
// transaction" pattern required by SPEC_FULL.md §5.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.DeletedAt != nil {
		d := *m.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// MemoryPatch is the partial-update shape accepted by Store.Update. Nil
// fields are left unchanged; this mirrors the tagged-variant pattern called
// for by SPEC_FULL.md §9 for dynamic-shape HTTP boundaries.
type MemoryPatch struct {
	Content    *string     `json:"content,omitempty"`
	Type       *MemoryType `json:"type,omitempty"`
	Importance *float64    `json:"importance,omitempty"`
	Tags       *[]string   `json:"tags,omitempty"`
}

// HistoryEvent enumerates the kinds of mutation recorded in memory_history.
type HistoryEvent string

const (
	EventAdd     HistoryEvent = "ADD"
	EventUpdate  HistoryEvent = "UPDATE"
	EventDelete  HistoryEvent = "DELETE"
	EventRecover HistoryEvent = "RECOVER"
)

// HistoryEntry is one append-only audit row (spec.md §3 "Memory History").
type HistoryEntry struct {
	ID         string       `json:"id"`
	MemoryID   string       `json:"memory_id"`
	Event      HistoryEvent `json:"event"`
	OldContent *string      `json:"old_content,omitempty"`
	NewContent *string      `json:"new_content,omitempty"`
	ChangedBy  string       `json:"changed_by,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Metadata   string       `json:"metadata,omitempty"` // raw JSON, e.g. extraction warnings
	CreatedAt  time.Time    `json:"created_at"`
}
