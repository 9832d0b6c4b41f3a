package sqlite

import (
	"context"
	"testing"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustIngest(t *testing.T, s *Store, env store.IngestEnvelope) store.IngestResult {
	t.Helper()
	res, err := s.Ingest(context.Background(), env)
	if err != nil {
		t.Fatalf("Ingest(%q) failed: %v", env.Content, err)
	}
	return res
}

func TestIngestAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := mustIngest(t, s, store.IngestEnvelope{Content: "the quick brown fox", Type: types.TypeGeneral, Project: "p1"})
	if res.Deduped {
		t.Fatal("first ingest reported Deduped = true")
	}

	got, err := s.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", res.ID, err)
	}
	if got.Content != "the quick brown fox" {
		t.Errorf("Get content = %q, want original content", got.Content)
	}
	if got.Version != 1 {
		t.Errorf("new memory Version = %d, want 1", got.Version)
	}
}

func TestIngestContentHashDedup(t *testing.T) {
	s := newTestStore(t)
	env := store.IngestEnvelope{Content: "duplicate content", Project: "p1", Who: "agent-a"}

	first := mustIngest(t, s, env)
	second := mustIngest(t, s, env)

	if !second.Deduped {
		t.Error("repeated ingest within dedup window: expected Deduped = true")
	}
	if second.ID != first.ID {
		t.Errorf("deduped ingest returned id %s, want %s", second.ID, first.ID)
	}
}

func TestIngestIdempotencyKeyTakesPriority(t *testing.T) {
	s := newTestStore(t)
	first := mustIngest(t, s, store.IngestEnvelope{Content: "version one", IdempotencyKey: "req-123"})
	second := mustIngest(t, s, store.IngestEnvelope{Content: "version two, different text", IdempotencyKey: "req-123"})

	if !second.Deduped || second.ID != first.ID {
		t.Errorf("ingest with repeated idempotency key: got %+v, want Deduped matching %s", second, first.ID)
	}
}

func TestUpdateVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := mustIngest(t, s, store.IngestEnvelope{Content: "original"})

	staleVersion := 99
	_, _, err := s.Update(ctx, res.ID, types.MemoryPatch{}, "correction", &staleVersion)
	if err == nil {
		t.Fatal("Update with stale if_version: expected version-conflict error")
	}
}

func TestSoftDeleteRequiresReason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := mustIngest(t, s, store.IngestEnvelope{Content: "to be forgotten"})

	if err := s.SoftDelete(ctx, res.ID, "", false); err == nil {
		t.Fatal("SoftDelete with empty reason: expected error")
	}
}

func TestSoftDeletePinnedRequiresForce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := mustIngest(t, s, store.IngestEnvelope{Content: "pin me"})

	// Pinning has no public Update path (spec.md §4.1's patch shape omits
	// it); exercise the invariant directly against the row, the way the
	// extraction pipeline would mark a memory pinned internally.
	if _, err := s.DB().ExecContext(ctx, `UPDATE memories SET pinned = 1 WHERE id = ?`, res.ID); err != nil {
		t.Fatalf("pin fixture setup failed: %v", err)
	}

	if err := s.SoftDelete(ctx, res.ID, "cleanup", false); err == nil {
		t.Fatal("SoftDelete of pinned memory without force: expected error")
	}
	if err := s.SoftDelete(ctx, res.ID, "cleanup", true); err != nil {
		t.Fatalf("SoftDelete of pinned memory with force: %v", err)
	}
}

func TestRecover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := mustIngest(t, s, store.IngestEnvelope{Content: "oops"})

	if err := s.SoftDelete(ctx, res.ID, "mistake", false); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	got, err := s.Recover(ctx, res.ID, "undo mistake")
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if got.DeletedAt != nil {
		t.Error("Recover: expected DeletedAt cleared")
	}
}

func TestFullTextSearchBasicMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustIngest(t, s, store.IngestEnvelope{Content: "the quick brown fox jumps over the lazy dog"})
	mustIngest(t, s, store.IngestEnvelope{Content: "completely unrelated machinery and engines"})

	results, err := s.FullTextSearch(ctx, store.SearchOptions{Query: "fox", Limit: 10})
	if err != nil {
		t.Fatalf("FullTextSearch failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("FullTextSearch('fox'): got %d results, want 1", len(results))
	}
}

func TestFullTextSearchNoMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustIngest(t, s, store.IngestEnvelope{Content: "the quick brown fox"})

	results, err := s.FullTextSearch(ctx, store.SearchOptions{Query: "xylophone", Limit: 10})
	if err != nil {
		t.Fatalf("FullTextSearch failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("FullTextSearch('xylophone'): got %d results, want 0", len(results))
	}
}

func TestHybridSearchAlphaBoundaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lexicalOnly := mustIngest(t, s, store.IngestEnvelope{Content: "lexical match term appears here"})
	vectorOnly := mustIngest(t, s, store.IngestEnvelope{Content: "no shared terms at all"})

	if err := s.StoreEmbedding(ctx, types.Embedding{SourceType: "memory", SourceID: lexicalOnly.ID, Vector: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}
	if err := s.StoreEmbedding(ctx, types.Embedding{SourceType: "memory", SourceID: vectorOnly.ID, Vector: []float32{0, 1, 0}}); err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}

	// alpha=0 should rank purely by BM25: the lexical match wins.
	pureLexical, err := s.HybridSearch(ctx, store.SearchOptions{Query: "lexical match term", Vector: []float32{0, 1, 0}, Alpha: 0, Limit: 5})
	if err != nil {
		t.Fatalf("HybridSearch(alpha=0) failed: %v", err)
	}
	if len(pureLexical) == 0 || pureLexical[0].MemoryID != lexicalOnly.ID {
		t.Errorf("HybridSearch(alpha=0): top result = %+v, want lexical match first", pureLexical)
	}

	// alpha=1 should rank purely by vector cosine similarity: the closer
	// vector (vectorOnly, matching [0,1,0] exactly) wins regardless of text.
	pureVector, err := s.HybridSearch(ctx, store.SearchOptions{Query: "lexical match term", Vector: []float32{0, 1, 0}, Alpha: 1, Limit: 5})
	if err != nil {
		t.Fatalf("HybridSearch(alpha=1) failed: %v", err)
	}
	if len(pureVector) == 0 || pureVector[0].MemoryID != vectorOnly.ID {
		t.Errorf("HybridSearch(alpha=1): top result = %+v, want vector match first", pureVector)
	}
}

func TestBatchForgetPreviewThenExecute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := mustIngest(t, s, store.IngestEnvelope{Content: "batchable", Project: "proj-x"})

	sel := store.BatchSelector{Project: "proj-x"}
	preview, err := s.BatchForget(ctx, sel, store.BatchPreview, "", "cleanup")
	if err != nil {
		t.Fatalf("BatchForget(preview) failed: %v", err)
	}
	if preview.Count != 1 {
		t.Fatalf("BatchForget(preview).Count = %d, want 1", preview.Count)
	}

	result, err := s.BatchForget(ctx, sel, store.BatchExecute, "", "cleanup")
	if err != nil {
		t.Fatalf("BatchForget(execute, below threshold) failed: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("BatchForget(execute).Count = %d, want 1", result.Count)
	}

	got, err := s.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get after BatchForget failed: %v", err)
	}
	if !got.IsDeleted {
		t.Error("Get after BatchForget: expected IsDeleted = true")
	}
}

func TestEntityMentionCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entity, err := s.UpsertEntity(ctx, "Redis", "technology")
	if err != nil {
		t.Fatalf("UpsertEntity failed: %v", err)
	}
	if entity.Mentions != 1 {
		t.Fatalf("new entity Mentions = %d, want 1", entity.Mentions)
	}

	again, err := s.UpsertEntity(ctx, "redis", "technology")
	if err != nil {
		t.Fatalf("UpsertEntity (repeat) failed: %v", err)
	}
	if again.ID != entity.ID {
		t.Error("UpsertEntity: canonicalization should have matched the existing Redis entity")
	}
	if again.Mentions != 2 {
		t.Errorf("UpsertEntity (repeat) Mentions = %d, want 2", again.Mentions)
	}

	if err := s.DecrementEntityMentions(ctx, entity.ID, 2); err != nil {
		t.Fatalf("DecrementEntityMentions failed: %v", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE id = ?`, entity.ID).Scan(&count); err != nil {
		t.Fatalf("count entities failed: %v", err)
	}
	if count != 0 {
		t.Errorf("entity with zero mentions should cascade-delete, found %d rows", count)
	}
}

func TestPurgeRetentionSkipsFreshTombstones(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := mustIngest(t, s, store.IngestEnvelope{Content: "recently forgotten"})
	if err := s.SoftDelete(ctx, res.ID, "cleanup", false); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	stats, err := s.PurgeRetention(ctx, 100)
	if err != nil {
		t.Fatalf("PurgeRetention failed: %v", err)
	}
	if stats.MemoriesDeleted != 0 {
		t.Errorf("PurgeRetention on a fresh tombstone: MemoriesDeleted = %d, want 0", stats.MemoriesDeleted)
	}
}
