// Package recall implements the hook-context half of the hybrid recall
// engine (spec.md §4.3): it layers recency/pinning decay on top of
// internal/store's alpha-blended BM25+vector fusion. The decision worker
// (internal/pipeline's decide stage) calls store.MemoryStore.HybridSearch
// directly and keeps the raw fused score — decay only applies when recall
// is invoked to inject memories into a harness's context.
package recall

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/memento-core/daemon/internal/llm"
	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

// decayPerDay is the per-day multiplicative decay (spec.md §4.3
// step 5: "effective = pinned ? 1.0 : importance * 0.95^age_days"), a
// deliberate deviation from the teacher's additive
// (importance+decayFactor)/2 combination in internal/engine/decay_manager.go
// — the spec's alpha boundary tests pin this exact formula.
const decayPerDay = 0.95

// Options controls a Recall call (spec.md §4.3 "Inputs").
type Options struct {
	Project  string
	Type     string
	Limit    int
	MinScore float64
	Alpha    float64 // vector weight in [0,1]
}

func (o *Options) normalize() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Alpha < 0 {
		o.Alpha = 0
	}
	if o.Alpha > 1 {
		o.Alpha = 1
	}
}

// Result is one recalled memory (spec.md §4.3 "Returns").
type Result struct {
	ID         string           `json:"id"`
	Content    string           `json:"content"`
	Type       types.MemoryType `json:"type"`
	Importance float64          `json:"importance"`
	CreatedAt  time.Time        `json:"created_at"`
	Score      float64          `json:"score"`
	Source     string           `json:"source"` // "vector" | "bm25" | "hybrid"
}

// Engine computes the query embedding, fuses it with BM25 via the store's
// HybridSearch, and re-ranks by decay score for context injection.
type Engine struct {
	store    store.MemoryStore
	embedder llm.EmbeddingGenerator
	breaker  *llm.CircuitBreaker
}

// New wires a recall Engine. embedder/breaker may be nil, in which case
// recall degrades to BM25-only (spec.md §4.3 step 3: "If null/unavailable, skip").
func New(st store.MemoryStore, embedder llm.EmbeddingGenerator, breaker *llm.CircuitBreaker) *Engine {
	return &Engine{store: st, embedder: embedder, breaker: breaker}
}

// Recall returns the top-K memories for query, decay-ranked for
// hook-injection (spec.md §4.3 steps 1-6).
func (e *Engine) Recall(ctx context.Context, query string, opts Options) ([]Result, error) {
	opts.normalize()

	var vector []float32
	if e.embedder != nil {
		v, err := e.queryVector(ctx, query)
		if err != nil {
			log.Printf("recall: query embedding unavailable, falling back to bm25-only: %v", err)
		} else {
			vector = v
		}
	}

	candidateLimit := opts.Limit * 3
	fused, err := e.store.HybridSearch(ctx, store.SearchOptions{
		Query:    query,
		Vector:   vector,
		Alpha:    opts.Alpha,
		Limit:    candidateLimit,
		MinScore: opts.MinScore,
		Project:  opts.Project,
		Type:     opts.Type,
	})
	if err != nil {
		return nil, fmt.Errorf("recall: hybrid search: %w", err)
	}

	now := time.Now()
	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		mem, err := e.store.Get(ctx, f.MemoryID)
		if err != nil {
			continue
		}
		results = append(results, Result{
			ID:         mem.ID,
			Content:    mem.Content,
			Type:       mem.Type,
			Importance: mem.Importance,
			CreatedAt:  mem.CreatedAt,
			Score:      effectiveScore(mem, now),
			Source:     f.Source,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// effectiveScore applies spec.md §4.3 step 5's decay formula. Pinned
// memories never decay.
func effectiveScore(mem *types.Memory, now time.Time) float64 {
	if mem.Pinned {
		return 1.0
	}
	ageDays := now.Sub(mem.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return mem.Importance * math.Pow(decayPerDay, ageDays)
}

func (e *Engine) queryVector(ctx context.Context, query string) ([]float32, error) {
	if e.breaker == nil {
		return e.embedder.Embed(ctx, query)
	}
	result, err := e.breaker.Execute(ctx, func() (interface{}, error) {
		return e.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}
