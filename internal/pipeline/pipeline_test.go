package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/memento-core/daemon/internal/llm"
	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/internal/store/sqlite"
	"github.com/memento-core/daemon/pkg/types"
)

type stubGenerator struct{ response string }

func (g *stubGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return g.response, nil
}
func (g *stubGenerator) GetModel() string { return "stub-llm" }

type stubEmbedder struct{ dims int }

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for i := range vec {
		vec[i] = 0.1
	}
	return vec, nil
}
func (e *stubEmbedder) GetModel() string { return "stub-embedder" }

func newTestPipeline(t *testing.T, genResponse string) (*Pipeline, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	p := New(st, st, st, &stubGenerator{response: genResponse}, &stubEmbedder{dims: 8},
		llm.NewCircuitBreaker(), llm.NewCircuitBreaker(), t.TempDir())
	return p, st
}

func TestExtractStoresFactsAndRelations(t *testing.T) {
	ctx := context.Background()
	resp := `{"facts":[{"content":"The deploy pipeline runs every night at 2am UTC.","type":"fact","confidence":0.9}],"entities":[{"source":"Alice","relationship":"owns","target":"deploy-pipeline","confidence":0.8}]}`
	p, st := newTestPipeline(t, resp)

	res, err := st.Ingest(ctx, store.IngestEnvelope{Content: "Alice set up the nightly deploy pipeline.", Type: types.TypeGeneral})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	job := types.Job{ID: "job-1", MemoryID: res.ID, JobType: types.JobExtract}
	out, err := p.Dispatch(ctx, job)
	if err != nil {
		t.Fatalf("Dispatch(extract) failed: %v", err)
	}

	var result extractResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.FactsCreated != 1 {
		t.Errorf("FactsCreated = %d, want 1", result.FactsCreated)
	}
	if result.Relations != 1 {
		t.Errorf("Relations = %d, want 1", result.Relations)
	}

	mem, err := st.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if mem.ExtractionStatus != types.ExtractionCompleted {
		t.Errorf("ExtractionStatus = %q, want completed", mem.ExtractionStatus)
	}
}

func TestExtractToleratesMalformedOutput(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, "not json at all")

	res, err := st.Ingest(ctx, store.IngestEnvelope{Content: "some content", Type: types.TypeGeneral})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	out, err := p.Dispatch(ctx, types.Job{ID: "job-2", MemoryID: res.ID, JobType: types.JobExtract})
	if err != nil {
		t.Fatalf("Dispatch(extract) on malformed output should not error, got: %v", err)
	}
	var result extractResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for malformed output")
	}
}

func TestEmbedStoresVector(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, "")

	res, err := st.Ingest(ctx, store.IngestEnvelope{Content: "remember this", Type: types.TypeGeneral})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if _, err := p.Dispatch(ctx, types.Job{ID: "job-3", MemoryID: res.ID, JobType: types.JobEmbed}); err != nil {
		t.Fatalf("Dispatch(embed) failed: %v", err)
	}

	emb, err := st.GetEmbedding(ctx, "memory", res.ID)
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if emb.Dimensions != 8 {
		t.Errorf("Dimensions = %d, want 8", emb.Dimensions)
	}

	mem, err := st.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if mem.EmbeddingModel != "stub-embedder" {
		t.Errorf("EmbeddingModel = %q, want stub-embedder", mem.EmbeddingModel)
	}
}

func TestDecideProposesAddWhenNoCandidates(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, "")

	res, err := st.Ingest(ctx, store.IngestEnvelope{Content: "a brand new unrelated fact about zebras", Type: types.TypeFact})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	out, err := p.Dispatch(ctx, types.Job{ID: "job-4", MemoryID: res.ID, JobType: types.JobDecide})
	if err != nil {
		t.Fatalf("Dispatch(decide) failed: %v", err)
	}
	var result decideResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Proposed {
		t.Error("expected a proposal to be recorded")
	}
}

func TestDispatchUnknownJobType(t *testing.T) {
	p, _ := newTestPipeline(t, "")
	_, err := p.Dispatch(context.Background(), types.Job{JobType: types.JobType("bogus")})
	if err == nil {
		t.Fatal("expected an error for an unknown job type")
	}
}
