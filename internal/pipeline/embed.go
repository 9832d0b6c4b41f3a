package pipeline

import (
	"context"
	"fmt"

	"github.com/memento-core/daemon/pkg/types"
)

// embed implements the §4.2 "embed" stage: call embed(text) and store the
// resulting vector as a byte-packed float32 array keyed by
// (source_type="memory", source_id=memory_id).
func (p *Pipeline) embed(ctx context.Context, job types.Job) (string, error) {
	mem, err := p.store.Get(ctx, job.MemoryID)
	if err != nil {
		return "", fmt.Errorf("embed: load memory: %w", err)
	}

	vec, err := p.embedText(ctx, mem.Content, embedTimeout)
	if err != nil {
		return "", fmt.Errorf("embed: generate: %w", err)
	}

	err = p.store.StoreEmbedding(ctx, types.Embedding{
		SourceType: "memory",
		SourceID:   job.MemoryID,
		Vector:     vec,
		Dimensions: len(vec),
		Model:      p.embedder.GetModel(),
	})
	if err != nil {
		return "", fmt.Errorf("embed: store: %w", err)
	}
	return `{"stored":true}`, nil
}
