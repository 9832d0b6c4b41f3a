package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

const (
	maxFacts       = 20
	minFactChars   = 20
	maxFactChars   = 2000
	maxEntityPairs = 50
)

type extractedFact struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type extractedRelation struct {
	Source       string  `json:"source"`
	Relationship string  `json:"relationship"`
	Target       string  `json:"target"`
	Confidence   float64 `json:"confidence"`
}

type extractResponse struct {
	Facts    []extractedFact     `json:"facts"`
	Entities []extractedRelation `json:"entities"`
}

type extractResult struct {
	FactsCreated int      `json:"facts_created"`
	Relations    int      `json:"relations"`
	Warnings     []string `json:"warnings,omitempty"`
}

// extract implements the §4.2 "extract" stage: one combined {facts,
// entities} generate() call, clamped/filtered per the spec's per-item
// constraints, never raising on malformed output — only warning.
func (p *Pipeline) extract(ctx context.Context, job types.Job) (string, error) {
	mem, err := p.store.Get(ctx, job.MemoryID)
	if err != nil {
		return "", fmt.Errorf("extract: load memory: %w", err)
	}

	raw, err := p.generate(ctx, buildExtractPrompt(mem.Content), extractTimeout)
	if err != nil {
		return "", fmt.Errorf("extract: generate: %w", err)
	}

	var resp extractResponse
	var warnings []string
	if jsonErr := json.Unmarshal([]byte(extractJSONObject(raw)), &resp); jsonErr != nil {
		warnings = append(warnings, fmt.Sprintf("malformed extraction output: %v", jsonErr))
		return p.finishExtract(ctx, job.MemoryID, extractResult{Warnings: warnings})
	}

	if len(resp.Facts) > maxFacts {
		warnings = append(warnings, fmt.Sprintf("truncated %d facts to %d", len(resp.Facts), maxFacts))
		resp.Facts = resp.Facts[:maxFacts]
	}
	if len(resp.Entities) > maxEntityPairs {
		warnings = append(warnings, fmt.Sprintf("truncated %d relations to %d", len(resp.Entities), maxEntityPairs))
		resp.Entities = resp.Entities[:maxEntityPairs]
	}

	created := 0
	for _, f := range resp.Facts {
		if len(f.Content) < minFactChars || len(f.Content) > maxFactChars {
			warnings = append(warnings, fmt.Sprintf("skipped fact of length %d (want %d-%d)", len(f.Content), minFactChars, maxFactChars))
			continue
		}
		factType := types.MemoryType(f.Type)
		if !types.IsValidMemoryType(factType) {
			factType = types.TypeFact
		}
		confidence := clamp01(f.Confidence)

		factID, ingestErr := p.ingestFact(ctx, mem, f.Content, factType, confidence)
		if ingestErr != nil {
			warnings = append(warnings, fmt.Sprintf("failed to store fact: %v", ingestErr))
			continue
		}
		if _, err := p.queue.Enqueue(ctx, types.JobEmbed, factID, ""); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to enqueue embed for %s: %v", factID, err))
		}
		if _, err := p.queue.Enqueue(ctx, types.JobDecide, factID, f.Content); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to enqueue decide for %s: %v", factID, err))
		}
		created++
	}

	relations := 0
	for _, rel := range resp.Entities {
		if rel.Source == "" || rel.Relationship == "" || rel.Target == "" {
			warnings = append(warnings, "skipped relation triple with empty source/relationship/target")
			continue
		}
		confidence := clamp01(rel.Confidence)
		if err := p.upsertRelationTriple(ctx, job.MemoryID, rel.Source, rel.Target, rel.Relationship, confidence); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to store relation %s->%s: %v", rel.Source, rel.Target, err))
			continue
		}
		relations++
	}

	return p.finishExtract(ctx, job.MemoryID, extractResult{FactsCreated: created, Relations: relations, Warnings: warnings})
}

func (p *Pipeline) finishExtract(ctx context.Context, memoryID string, result extractResult) (string, error) {
	if err := p.store.SetExtractionStatus(ctx, memoryID, types.ExtractionCompleted); err != nil {
		return "", fmt.Errorf("extract: set status: %w", err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ingestFact stores an extracted fact as its own memory row, inheriting
// the parent's project/session/runtime_path, so it gets its own embed and
// decide jobs the same way a directly-remembered memory would.
func (p *Pipeline) ingestFact(ctx context.Context, parent *types.Memory, content string, factType types.MemoryType, confidence float64) (string, error) {
	res, err := p.store.Ingest(ctx, store.IngestEnvelope{
		Content:     content,
		Type:        factType,
		Importance:  confidence,
		Project:     parent.Project,
		SessionID:   parent.SessionID,
		Who:         parent.Who,
		SourceType:  "extraction",
		RuntimePath: parent.RuntimePath,
	})
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (p *Pipeline) upsertRelationTriple(ctx context.Context, memoryID, source, target, relationship string, confidence float64) error {
	srcEntity, err := p.store.UpsertEntity(ctx, source, "unknown")
	if err != nil {
		return fmt.Errorf("upsert source entity: %w", err)
	}
	tgtEntity, err := p.store.UpsertEntity(ctx, target, "unknown")
	if err != nil {
		return fmt.Errorf("upsert target entity: %w", err)
	}
	if err := p.store.LinkEntityMention(ctx, memoryID, srcEntity.ID); err != nil {
		return fmt.Errorf("link source mention: %w", err)
	}
	if err := p.store.LinkEntityMention(ctx, memoryID, tgtEntity.ID); err != nil {
		return fmt.Errorf("link target mention: %w", err)
	}
	if _, err := p.store.UpsertRelation(ctx, srcEntity.ID, tgtEntity.ID, relationship, confidence); err != nil {
		return fmt.Errorf("upsert relation: %w", err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
