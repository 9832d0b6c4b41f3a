package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

const decideCandidateLimit = 5

type decideResponse struct {
	Action     types.DecisionAction `json:"action"`
	TargetID   string                `json:"targetId"`
	Confidence float64               `json:"confidence"`
	Reason     string                `json:"reason"`
}

type decideResult struct {
	Proposed bool     `json:"proposed"`
	Warnings []string `json:"warnings,omitempty"`
}

// decide implements the §4.2 "decide" (shadow) stage: it proposes a
// disposition for an extracted fact against up to five similar existing
// memories but never mutates anything (spec.md §9 Open Question 4).
func (p *Pipeline) decide(ctx context.Context, job types.Job) (string, error) {
	fact, err := p.store.Get(ctx, job.MemoryID)
	if err != nil {
		return "", fmt.Errorf("decide: load fact: %w", err)
	}

	candidates, err := p.store.HybridSearch(ctx, store.SearchOptions{
		Query: fact.Content,
		Alpha: 0.5,
		Limit: decideCandidateLimit,
	})
	if err != nil {
		return "", fmt.Errorf("decide: hybrid search: %w", err)
	}
	candidates = excludeSelf(candidates, job.MemoryID)

	if len(candidates) == 0 {
		if err := p.store.RecordDecisionProposal(ctx, types.DecisionProposal{
			MemoryID:   job.MemoryID,
			Action:     types.ActionAdd,
			Confidence: fact.Confidence,
			Reason:     "no similar existing memory found",
		}); err != nil {
			return "", fmt.Errorf("decide: record proposal: %w", err)
		}
		return marshalDecideResult(decideResult{Proposed: true})
	}

	lookup := make(map[string]string, len(candidates))
	presented := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if m, err := p.store.Get(ctx, c.MemoryID); err == nil {
			lookup[c.MemoryID] = m.Content
		}
		presented[c.MemoryID] = true
	}

	raw, err := p.generate(ctx, buildDecidePrompt(fact.Content, candidates, lookup), decideTimeout)
	if err != nil {
		return "", fmt.Errorf("decide: generate: %w", err)
	}

	var resp decideResponse
	if jsonErr := json.Unmarshal([]byte(extractJSONObject(raw)), &resp); jsonErr != nil {
		return marshalDecideResult(decideResult{Warnings: []string{fmt.Sprintf("malformed decision output: %v", jsonErr)}})
	}
	if !types.IsValidDecisionAction(resp.Action) {
		return marshalDecideResult(decideResult{Warnings: []string{fmt.Sprintf("invalid action %q", resp.Action)}})
	}
	if resp.Reason == "" {
		return marshalDecideResult(decideResult{Warnings: []string{"empty reason"}})
	}
	if (resp.Action == types.ActionUpdate || resp.Action == types.ActionDelete) && !presented[resp.TargetID] {
		return marshalDecideResult(decideResult{Warnings: []string{fmt.Sprintf("targetId %q was not among the presented candidates", resp.TargetID)}})
	}

	if err := p.store.RecordDecisionProposal(ctx, types.DecisionProposal{
		MemoryID:   job.MemoryID,
		TargetID:   resp.TargetID,
		Action:     resp.Action,
		Confidence: clamp01(resp.Confidence),
		Reason:     resp.Reason,
	}); err != nil {
		return "", fmt.Errorf("decide: record proposal: %w", err)
	}
	return marshalDecideResult(decideResult{Proposed: true})
}

func excludeSelf(candidates []store.ScoredMemory, id string) []store.ScoredMemory {
	out := candidates[:0]
	for _, c := range candidates {
		if c.MemoryID != id {
			out = append(out, c)
		}
	}
	return out
}

func marshalDecideResult(r decideResult) (string, error) {
	out, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
