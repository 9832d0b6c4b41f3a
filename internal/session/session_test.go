package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/memento-core/daemon/internal/store/sqlite"
	"github.com/memento-core/daemon/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, st, st), st
}

func TestRecordPromptAccumulatesAndFlushes(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	m.RecordQuery("sess-1", "claude-code", "/repo", NormalizeProject("/repo"), "how does auth work")
	m.RecordRemember("sess-1", "claude-code", "/repo", NormalizeProject("/repo"), "auth uses JWT bearer tokens")
	m.RecordPrompt(ctx, "sess-1", "claude-code", "/repo", NormalizeProject("/repo"), "explain the auth flow")

	entry := m.entry("sess-1", "claude-code", "/repo", NormalizeProject("/repo"))
	if err := m.flush(ctx, entry, types.TriggerExplicit); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	cp, err := st.LatestCheckpoint(ctx, NormalizeProject("/repo"), 100*365*24*time.Hour)
	if err != nil {
		t.Fatalf("LatestCheckpoint failed: %v", err)
	}
	if cp == nil {
		t.Fatal("expected a checkpoint to have been saved")
	}
	if len(cp.MemoryQueries) != 1 || cp.MemoryQueries[0] != "how does auth work" {
		t.Errorf("MemoryQueries = %v, want [how does auth work]", cp.MemoryQueries)
	}
	if len(cp.RecentRemembers) != 1 {
		t.Errorf("RecentRemembers = %v, want 1 entry", cp.RecentRemembers)
	}
}

func TestRecordPromptCapsPendingSnippets(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	sessionKey := "sess-cap"
	for i := 0; i < maxPromptSnippets+5; i++ {
		m.RecordPrompt(ctx, sessionKey, "claude-code", "/repo", NormalizeProject("/repo"), "prompt")
	}
	entry := m.entry(sessionKey, "claude-code", "/repo", NormalizeProject("/repo"))
	entry.mu.Lock()
	n := len(entry.pendingPrompts)
	entry.mu.Unlock()
	if n != maxPromptSnippets {
		t.Errorf("pendingPrompts len = %d, want %d", n, maxPromptSnippets)
	}
}

func TestFlushRedactsSecrets(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)
	sessionKey := "sess-secret"
	projNorm := NormalizeProject("/repo")

	m.RecordPrompt(ctx, sessionKey, "claude-code", "/repo", projNorm, "my api_key=sk-abcdef1234567890 please don't leak it")
	entry := m.entry(sessionKey, "claude-code", "/repo", projNorm)
	if err := m.flush(ctx, entry, types.TriggerExplicit); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	cp, err := st.LatestCheckpoint(ctx, projNorm, 100*365*24*time.Hour)
	if err != nil {
		t.Fatalf("LatestCheckpoint failed: %v", err)
	}
	if cp == nil {
		t.Fatal("expected a checkpoint")
	}
	if strings.Contains(cp.Digest, "sk-abcdef1234567890") {
		t.Errorf("digest still contains the secret: %q", cp.Digest)
	}
	if !strings.Contains(cp.Digest, redactedPlaceholder) {
		t.Errorf("digest missing redaction placeholder: %q", cp.Digest)
	}
}

func TestPruneCheckpointsEnforcesCap(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)
	m.checkpointCap = 2
	sessionKey := "sess-prune"
	projNorm := NormalizeProject("/repo")

	for i := 0; i < 5; i++ {
		m.RecordPrompt(ctx, sessionKey, "claude-code", "/repo", projNorm, "prompt")
		entry := m.entry(sessionKey, "claude-code", "/repo", projNorm)
		if err := m.flush(ctx, entry, types.TriggerPeriodic); err != nil {
			t.Fatalf("flush failed: %v", err)
		}
	}

	var count int
	if err := st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM session_checkpoints WHERE session_key = ?`, sessionKey).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("checkpoint count = %d, want 2 (cap enforced)", count)
	}
}

func TestEnqueueSummaryRequiresQueue(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer st.Close()
	m := New(st, st, nil)
	if err := m.EnqueueSummary(ctx, types.SummaryJob{SessionKey: "sess-1", Harness: "claude-code", Transcript: "hi"}); err == nil {
		t.Fatal("expected an error with no queue configured")
	}
}

func TestEnqueueSummary(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)
	if err := m.EnqueueSummary(ctx, types.SummaryJob{SessionKey: "sess-1", Harness: "claude-code", Transcript: "a transcript"}); err != nil {
		t.Fatalf("EnqueueSummary failed: %v", err)
	}
	jobs, err := st.Lease(ctx, "worker-1", 1, 0)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobType != types.JobSummarize {
		t.Fatalf("expected one summarize job, got %+v", jobs)
	}
}

func TestSignablePayloadRejectsPipeAndBadHash(t *testing.T) {
	if _, err := SignablePayloadV1("deadbeef", "2026-01-01T00:00:00Z", "did:key:abc"); err != nil {
		t.Fatalf("valid v1 payload should not error: %v", err)
	}
	if _, err := SignablePayloadV1("not-hex", "2026-01-01T00:00:00Z", "did:key:abc"); err == nil {
		t.Fatal("expected an error for a non-hex contentHash")
	}
	if _, err := SignablePayloadV2("mem-1", "deadbeef", "2026-01-01T00:00:00Z", "did:key:abc"); err != nil {
		t.Fatalf("valid v2 payload should not error: %v", err)
	}
	if _, err := SignablePayloadV2("mem-1|evil", "deadbeef", "2026-01-01T00:00:00Z", "did:key:abc"); err == nil {
		t.Fatal("expected an error for a pipe in memoryId")
	}
}
