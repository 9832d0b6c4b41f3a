// Package session tracks per-session continuity state between a harness's
// recall and remember calls and the periodically-flushed checkpoint rows
// that let a new process recover where an old one left off (spec.md §4.4
// "session continuity"). Grounded on internal/engine/memory_engine.go's
// MemoryEngine: one mutex-guarded struct per live unit of work, a bounded
// background queue instead of per-call synchronous writes, and a
// started/shuttingDown guard around the background goroutine's lifetime
// generalized here to per-session debounce timers instead of one shared
// worker pool.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/memento-core/daemon/internal/pipeline"
	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

func marshalSummaryJob(job types.SummaryJob) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal summary job: %w", err)
	}
	return string(b), nil
}

const (
	maxPendingQueries   = 20
	maxPendingRemembers = 10
	maxPromptSnippets   = 10
	snippetTruncateLen  = 200

	// FlushDelay debounces a checkpoint write so a burst of prompts within
	// the window collapses into one row instead of one per prompt
	// (spec.md §4.4 step 5 "FLUSH_DELAY_MS=2500").
	FlushDelay = 2500 * time.Millisecond

	// DefaultCheckpointCap is the per-session row cap before the oldest
	// checkpoint is deleted (spec.md §4.4 "default 50").
	DefaultCheckpointCap = 50

	// DefaultRetention strictly deletes checkpoints past this age,
	// independent of the per-session cap (spec.md §4.4 "retentionDays=7").
	DefaultRetention = 7 * 24 * time.Hour

	// periodicCheckpointPrompts triggers an automatic periodic checkpoint
	// every N recorded prompts absent an explicit/agent/pre_compaction
	// trigger from the harness.
	periodicCheckpointPrompts = 20
)

// state is the in-memory accumulator for one session_key, flushed to a
// SessionCheckpoint row on debounce or explicit trigger.
type state struct {
	mu sync.Mutex

	sessionKey  string
	harness     string
	project     string
	projectNorm string

	promptCount      int // interval count; consumed by flush
	totalPromptCount int // session lifetime count; never reset by flush
	pendingQueries   []string
	pendingRemember  []string
	pendingPrompts   []string

	flushTimer *time.Timer
	dirty      bool
}

func (s *state) pushCapped(list []string, item string, cap int) []string {
	list = append(list, item)
	if len(list) > cap {
		list = list[len(list)-cap:]
	}
	return list
}

// Manager owns the live session-state map and the durable checkpoint/
// session-memory store behind it.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*state

	store    store.SessionStore
	mem      store.MemoryStore
	queue    pipeline.Enqueuer
	redactor *Redactor

	checkpointCap int
	retention     time.Duration
}

// New wires a Manager. queue may be nil if the caller never needs
// EnqueueSummary (e.g. a read-only diagnostics process).
func New(sessionStore store.SessionStore, memStore store.MemoryStore, queue pipeline.Enqueuer) *Manager {
	return &Manager{
		sessions:      make(map[string]*state),
		store:         sessionStore,
		mem:           memStore,
		queue:         queue,
		redactor:      NewRedactor(),
		checkpointCap: DefaultCheckpointCap,
		retention:     DefaultRetention,
	}
}

func (m *Manager) entry(sessionKey, harness, project, projectNorm string) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionKey]
	if !ok {
		st = &state{sessionKey: sessionKey, harness: harness, project: project, projectNorm: projectNorm}
		m.sessions[sessionKey] = st
	}
	return st
}

// RecordPrompt accumulates a truncated prompt snippet and bumps the
// prompt counter that drives periodic checkpointing (spec.md §4.4
// "pendingPromptSnippets <=10 truncated to 200 chars").
func (m *Manager) RecordPrompt(ctx context.Context, sessionKey, harness, project, projectNorm, snippet string) {
	st := m.entry(sessionKey, harness, project, projectNorm)
	st.mu.Lock()
	if len(snippet) > snippetTruncateLen {
		snippet = snippet[:snippetTruncateLen]
	}
	st.pendingPrompts = st.pushCapped(st.pendingPrompts, snippet, maxPromptSnippets)
	st.promptCount++
	st.totalPromptCount++
	shouldCheckpoint := st.promptCount%periodicCheckpointPrompts == 0
	st.dirty = true
	st.mu.Unlock()

	if shouldCheckpoint {
		m.scheduleFlush(ctx, st, types.TriggerPeriodic)
	}
}

// RecordQuery remembers a recall query issued within the session
// (spec.md §4.4 "pendingQueries <=20").
func (m *Manager) RecordQuery(sessionKey, harness, project, projectNorm, query string) {
	st := m.entry(sessionKey, harness, project, projectNorm)
	st.mu.Lock()
	st.pendingQueries = st.pushCapped(st.pendingQueries, query, maxPendingQueries)
	st.dirty = true
	st.mu.Unlock()
}

// RecordRemember notes a fact stored within the session
// (spec.md §4.4 "pendingRemembers <=10").
func (m *Manager) RecordRemember(sessionKey, harness, project, projectNorm, content string) {
	st := m.entry(sessionKey, harness, project, projectNorm)
	st.mu.Lock()
	st.pendingRemember = st.pushCapped(st.pendingRemember, content, maxPendingRemembers)
	st.dirty = true
	st.mu.Unlock()
}

// Checkpoint forces an immediate (still debounced) flush for an explicit,
// agent-driven, or pre-compaction trigger rather than waiting for the
// periodic prompt-count threshold.
func (m *Manager) Checkpoint(ctx context.Context, sessionKey string, trigger types.CheckpointTrigger) {
	m.mu.Lock()
	st, ok := m.sessions[sessionKey]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.scheduleFlush(ctx, st, trigger)
}

// scheduleFlush (re)arms the per-session debounce timer. A write that
// lands while a timer is already pending merges into the same pending
// state instead of producing a second row (spec.md §4.4 "merge-on-
// duplicate-write semantics") — the merge is implicit here because every
// Record* call mutates the same *state the eventual flush reads.
func (m *Manager) scheduleFlush(ctx context.Context, st *state, trigger types.CheckpointTrigger) {
	st.mu.Lock()
	if st.flushTimer != nil {
		st.flushTimer.Stop()
	}
	st.flushTimer = time.AfterFunc(FlushDelay, func() {
		if err := m.flush(ctx, st, trigger); err != nil {
			log.Printf("session: flush failed for %s: %v", st.sessionKey, err)
		}
	})
	st.mu.Unlock()
}

// flush redacts and persists the session's accumulated state as one
// checkpoint row, then enforces the per-session cap (spec.md §4.4 steps
// 5-6). It consumes the interval counter and rolling buffers as it
// snapshots them (§4.4 "consume(session_key) ... resets interval
// counters/buffers"), so prompt_count on each checkpoint reflects only
// activity since the previous one rather than the session's running total.
func (m *Manager) flush(ctx context.Context, st *state, trigger types.CheckpointTrigger) error {
	st.mu.Lock()
	if !st.dirty {
		st.mu.Unlock()
		return nil
	}
	cp := types.SessionCheckpoint{
		SessionKey:      st.sessionKey,
		Harness:         st.harness,
		Project:         st.project,
		ProjectNorm:     st.projectNorm,
		Trigger:         trigger,
		PromptCount:     st.promptCount,
		MemoryQueries:   append([]string(nil), st.pendingQueries...),
		RecentRemembers: append([]string(nil), st.pendingRemember...),
		Digest:          m.redactor.Redact(buildDigest(st.pendingPrompts)),
	}
	st.dirty = false
	st.promptCount = 0
	st.pendingQueries = nil
	st.pendingRemember = nil
	st.pendingPrompts = nil
	st.mu.Unlock()

	cp.MemoryQueries = redactAll(m.redactor, cp.MemoryQueries)
	cp.RecentRemembers = redactAll(m.redactor, cp.RecentRemembers)

	if _, err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := m.store.PruneCheckpoints(ctx, st.sessionKey, m.checkpointCap); err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

func redactAll(r *Redactor, in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = r.Redact(s)
	}
	return out
}

func buildDigest(snippets []string) string {
	digest := ""
	for _, s := range snippets {
		digest += s + "\n"
	}
	return digest
}

// Recover returns the most recent checkpoint for a normalized project
// within the recovery window, or nil if none exists (spec.md §4.4
// "getLatestCheckpoint").
func (m *Manager) Recover(ctx context.Context, projectNormalized string, within time.Duration) (*types.SessionCheckpoint, error) {
	return m.store.LatestCheckpoint(ctx, projectNormalized, within)
}

// Prune strictly deletes checkpoints older than the retention window,
// independent of any session's per-key cap (spec.md §4.4 "pruning").
func (m *Manager) Prune(ctx context.Context) (int, error) {
	return m.store.PurgeCheckpointsOlderThan(ctx, m.retention)
}

// RecordSessionMemories forwards the candidates a recall pass surfaced so
// a later continuity score can tell memories_recalled from memories_used
// (spec.md §4.5 step 7).
func (m *Manager) RecordSessionMemories(ctx context.Context, rows []types.SessionMemory) error {
	return m.store.RecordSessionMemories(ctx, rows)
}

// MarkInjected flags which of those candidates the harness actually put
// in front of the model.
func (m *Manager) MarkInjected(ctx context.Context, sessionKey string, memoryIDs []string) error {
	return m.store.MarkInjected(ctx, sessionKey, memoryIDs)
}

// EnqueueSummary schedules a transcript for asynchronous summarization
// (spec.md §4.5 "enqueueSummaryJob"), dispatched through the same
// memory_jobs queue as extract/decide/embed.
func (m *Manager) EnqueueSummary(ctx context.Context, job types.SummaryJob) error {
	if m.queue == nil {
		return fmt.Errorf("session: no job queue configured")
	}
	payload, err := marshalSummaryJob(job)
	if err != nil {
		return err
	}
	_, err = m.queue.Enqueue(ctx, types.JobSummarize, "", payload)
	if err != nil {
		return fmt.Errorf("enqueue summary job: %w", err)
	}
	return nil
}

// Clear drops a session's in-memory state (e.g. once a harness reports
// the session ended and its final checkpoint has flushed). Pending
// timers are stopped so they don't fire against a removed entry.
func (m *Manager) Clear(sessionKey string) {
	m.mu.Lock()
	st, ok := m.sessions[sessionKey]
	delete(m.sessions, sessionKey)
	m.mu.Unlock()
	if ok {
		st.mu.Lock()
		if st.flushTimer != nil {
			st.flushTimer.Stop()
		}
		st.mu.Unlock()
	}
}

// NormalizeProject trims trailing separators from a project path and
// hashes it down into the stable key session_checkpoints.project_normalized
// groups recovery lookups by, so "/Users/a/proj" and "/Users/a/proj/"
// resolve to the same bucket. Case is preserved: paths that differ only in
// case map to different buckets.
func NormalizeProject(project string) string {
	if project == "" {
		return ""
	}
	clean := project
	for len(clean) > 1 && clean[len(clean)-1] == '/' {
		clean = clean[:len(clean)-1]
	}
	sum := sha256.Sum256([]byte(clean))
	return fmt.Sprintf("%x", sum)[:16]
}
