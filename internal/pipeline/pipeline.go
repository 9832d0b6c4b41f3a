// Package pipeline implements the four background job stages the worker
// pool dispatches by job_type (spec.md §4.2): extract, decide, embed, and
// summarize. It is the generalized replacement for the teacher's
// EnrichmentService — the shape (prompt construction, Complete, parse,
// validate, store) is kept, but extraction is a single combined
// {facts, entities} LLM call instead of the teacher's separate entity and
// relationship calls, and the decide stage is new: it proposes but never
// applies a disposition for every extracted fact (spec.md §9 Open
// Question 4).
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/memento-core/daemon/internal/llm"
	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

// Default per-stage timeouts (spec.md §4.2 line 459: "90s summaries, 30s
// extraction, 10s decision"). These bound the external generate/embed call,
// tighter than internal/jobqueue.Config.JobTimeout which bounds the whole
// dispatch including store round-trips.
const (
	extractTimeout    = 30 * time.Second
	decideTimeout     = 10 * time.Second
	embedTimeout      = 15 * time.Second
	summarizeTimeout  = 90 * time.Second
	continuityTimeout = 30 * time.Second
)

// Pipeline implements jobqueue.Dispatcher, routing a leased job to the
// stage function matching its JobType.
type Pipeline struct {
	store      store.MemoryStore
	sessions   store.SessionStore
	generator  llm.TextGenerator
	embedder   llm.EmbeddingGenerator
	genBreaker *llm.CircuitBreaker
	embBreaker *llm.CircuitBreaker
	queue      Enqueuer
	memoryDir  string
}

// Enqueuer is the subset of internal/jobqueue's persistence the pipeline
// needs to schedule follow-on jobs (a "decide" job per extracted fact).
// Kept narrow so this package never depends on internal/jobqueue directly;
// the store backends' Enqueue method satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType types.JobType, memoryID string, payload string) (*types.Job, error)
}

// New wires a Pipeline from the storage backend, the session store (needed
// by the summarize stage's continuity-scoring sub-step), LLM providers, the
// circuit breakers guarding each provider call (spec.md's [DOMAIN] "Worker
// pool grounding" note: every generate/embed call passes through
// internal/llm.CircuitBreaker), and the directory session summaries are
// written to (spec.md §4.5 steps 4-5).
func New(st store.MemoryStore, sessions store.SessionStore, queue Enqueuer, generator llm.TextGenerator, embedder llm.EmbeddingGenerator, genBreaker, embBreaker *llm.CircuitBreaker, memoryDir string) *Pipeline {
	return &Pipeline{
		store: st, sessions: sessions, queue: queue, generator: generator, embedder: embedder,
		genBreaker: genBreaker, embBreaker: embBreaker, memoryDir: memoryDir,
	}
}

// Dispatch implements jobqueue.Dispatcher.
func (p *Pipeline) Dispatch(ctx context.Context, job types.Job) (string, error) {
	switch job.JobType {
	case types.JobExtract:
		return p.extract(ctx, job)
	case types.JobDecide:
		return p.decide(ctx, job)
	case types.JobEmbed:
		return p.embed(ctx, job)
	case types.JobSummarize:
		return p.summarize(ctx, job)
	default:
		return "", fmt.Errorf("pipeline: unknown job type %q", job.JobType)
	}
}

// generate runs prompt through the text generator behind the generation
// circuit breaker, with a stage-specific timeout.
func (p *Pipeline) generate(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := p.genBreaker.Execute(ctx, func() (interface{}, error) {
		return p.generator.Complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// embedText runs text through the embedding generator behind the
// embedding circuit breaker, with a stage-specific timeout.
func (p *Pipeline) embedText(ctx context.Context, text string, timeout time.Duration) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := p.embBreaker.Execute(ctx, func() (interface{}, error) {
		return p.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}
