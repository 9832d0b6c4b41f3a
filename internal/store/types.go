// Package store defines the MemoryStore contract and the shared option/result
// types used by both storage backends (internal/store/sqlite,
// internal/store/postgres). No behavior lives here beyond pure option
// normalization; each backend owns its own schema and queries.
package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested memory, job, or entity does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates the caller supplied invalid arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrVersionConflict indicates an optimistic-concurrency check failed: the
	// caller's expected version does not match the stored row's current version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyDeleted indicates an operation that requires a live row was
	// attempted against a soft-deleted one (e.g. double delete).
	ErrAlreadyDeleted = errors.New("memory already deleted")
)

// PaginatedResult is a generic page of results with a total count.
type PaginatedResult[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
	HasMore  bool
}

// ListOptions controls pagination, sorting, and filtering for List.
type ListOptions struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string

	Project    string
	SessionID  string
	Type       string
	Pinned     *bool
	IncludeDel bool // include soft-deleted rows
	OnlyDel    bool // restrict to soft-deleted rows (requires IncludeDel)

	CreatedAfter  time.Time
	CreatedBefore time.Time
}

var allowedSortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"importance": true,
	"id":         true,
}

// Normalize applies defaults and whitelists SortBy against a fixed set of
// columns so it is safe to interpolate into an ORDER BY clause.
func (o *ListOptions) Normalize() {
	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at"
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
}

// Offset computes the SQL OFFSET implied by Page/Limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// SearchOptions controls a FullText/Vector/Hybrid search call.
type SearchOptions struct {
	Query         string
	Vector        []float32
	Alpha         float64 // vector weight in [0,1]; 1-Alpha is the BM25 weight
	Limit         int
	Offset        int
	MinScore      float64
	Project       string
	Type          string
	FuzzyFallback bool
}

// Normalize applies defaults and clamps to SearchOptions.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Alpha < 0 {
		o.Alpha = 0
	}
	if o.Alpha > 1 {
		o.Alpha = 1
	}
	if o.MinScore < 0 {
		o.MinScore = 0
	}
}

// ScoredMemory pairs a memory ID with the fused relevance score and the
// source of the match, for callers that need ranking detail beyond the
// hydrated Memory records (spec.md §4.3 "Returns").
type ScoredMemory struct {
	MemoryID string
	Score    float64
	Source   string // "vector" | "bm25" | "hybrid"
}
