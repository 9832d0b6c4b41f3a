package types

import (
	"strings"
	"time"
)

// Entity is a named thing mentioned by one or more memories, extracted
// during the "extract" pipeline stage (spec.md §3 "Extracted entity graph").
// EntityType is an open string (whatever the LLM extraction produced),
// not a closed enum, since extraction is free-form.
type Entity struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CanonicalName string    `json:"canonical_name"` // lowercased, whitespace-normalized; unique
	EntityType    string    `json:"entity_type"`
	Mentions      int       `json:"mentions"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CanonicalizeEntityName lowercases and collapses internal whitespace, the
// normalization used for the entities.canonical_name uniqueness constraint.
func CanonicalizeEntityName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	return strings.Join(fields, " ")
}

// MemoryEntityMention links a memory to an entity it mentions
// (spec.md §3 "memory_entity_mention"); unique on (MemoryID, EntityID).
type MemoryEntityMention struct {
	ID        string    `json:"id"`
	MemoryID  string    `json:"memory_id"`
	EntityID  string    `json:"entity_id"`
	CreatedAt time.Time `json:"created_at"`
}
