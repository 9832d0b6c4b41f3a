package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/memento-core/daemon/internal/store"
)

var tokenSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// tokenize lowercases and splits on non-word characters, dropping tokens
// shorter than 3 characters and capping at 10 (spec.md §4.6 "duplicate
// detection", reused verbatim from §4.3's query tokenization rule).
func tokenize(text string) []string {
	fields := tokenSplit.Split(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 3 {
			tokens = append(tokens, f)
		}
		if len(tokens) == 10 {
			break
		}
	}
	return tokens
}

// isDuplicate reports whether content shares at least 70% of its token set
// with an already-stored memory, per spec.md §4.6's duplicate-detection
// rule used by both hooks and the summarizer.
func isDuplicate(ctx context.Context, st store.MemoryStore, content string) (bool, error) {
	tokens := tokenize(content)
	if len(tokens) == 0 {
		return false, nil
	}
	wanted := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		wanted[t] = true
	}

	hits, err := st.FullTextSearch(ctx, store.SearchOptions{Query: strings.Join(tokens, " "), Limit: 10})
	if err != nil {
		return false, err
	}
	for _, hit := range hits {
		mem, err := st.Get(ctx, hit.MemoryID)
		if err != nil {
			continue
		}
		candidateTokens := tokenize(mem.Content)
		if overlapRatio(wanted, candidateTokens) >= 0.7 {
			return true, nil
		}
	}
	return false, nil
}

func overlapRatio(wanted map[string]bool, candidateTokens []string) float64 {
	if len(wanted) == 0 {
		return 0
	}
	shared := 0
	seen := make(map[string]bool, len(candidateTokens))
	for _, t := range candidateTokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		if wanted[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(wanted))
}
