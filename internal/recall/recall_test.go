package recall

import (
	"context"
	"testing"
	"time"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/internal/store/sqlite"
	"github.com/memento-core/daemon/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecallRanksPinnedAboveDecayed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	old, err := st.Ingest(ctx, store.IngestEnvelope{Content: "golang concurrency patterns for workers", Type: types.TypeFact, Importance: 0.9})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	// Backdate the "old" memory so decay measurably reduces its score
	// relative to a freshly pinned one with lower importance.
	if _, err := st.DB().ExecContext(ctx, `UPDATE memories SET created_at = ? WHERE id = ?`,
		time.Now().Add(-60*24*time.Hour), old.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	pinned, err := st.Ingest(ctx, store.IngestEnvelope{Content: "golang concurrency pinned note about workers", Type: types.TypeFact, Importance: 0.2})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	// MemoryStore has no dedicated Pin method; set it directly for the test.
	if _, err := st.DB().ExecContext(ctx, `UPDATE memories SET pinned = 1 WHERE id = ?`, pinned.ID); err != nil {
		t.Fatalf("pin: %v", err)
	}

	engine := New(st, nil, nil)
	results, err := engine.Recall(ctx, "golang concurrency workers", Options{Limit: 5})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("got %d results, want at least 2", len(results))
	}
	if results[0].ID != pinned.ID {
		t.Errorf("top result = %s, want pinned memory %s (score %v vs %v)", results[0].ID, pinned.ID, results[0].Score, results[1].Score)
	}
	if results[0].Score != 1.0 {
		t.Errorf("pinned score = %v, want 1.0", results[0].Score)
	}
}

func TestRecallRespectsLimit(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	topics := []string{
		"deployment pipelines run nightly for the backend service",
		"deployment pipelines also cover the frontend bundle",
		"deployment pipelines retry on transient network failures",
		"deployment pipelines notify the team channel on failure",
		"deployment pipelines archive build artifacts for a week",
	}
	for _, content := range topics {
		if _, err := st.Ingest(ctx, store.IngestEnvelope{Content: content, Type: types.TypeFact, Importance: 0.5}); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}
	engine := New(st, nil, nil)
	results, err := engine.Recall(ctx, "deployment pipelines", Options{Limit: 2})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}
