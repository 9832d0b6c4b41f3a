package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/memento-core/daemon/internal/store"
)

// FullTextSearch performs an FTS5 MATCH query and normalizes SQLite's raw
// bm25() rank (negative, more negative is a better match) to a [0,1]-ish
// "larger is better" score via 1/(1+|raw|) (spec.md §4.3 "BM25 path").
// Query sanitisation is grounded on
// internal/storage/sqlite/search_provider.go's sanitiseFTSQuery: FTS5
// special characters are stripped, common stop words are dropped, and each
// remaining term becomes a prefix match, OR'd together.
func (s *Store) FullTextSearch(ctx context.Context, opts store.SearchOptions) ([]store.ScoredMemory, error) {
	opts.Normalize()
	if strings.TrimSpace(opts.Query) == "" {
		return nil, nil
	}

	ftsQuery := sanitiseFTSQuery(opts.Query)

	var where []string
	var args []any
	args = append(args, ftsQuery)
	where = append(where, "m.is_deleted = 0")
	if opts.Project != "" {
		where = append(where, "m.project = ?")
		args = append(args, opts.Project)
	}
	if opts.Type != "" {
		where = append(where, "m.type = ?")
		args = append(args, opts.Type)
	}

	query := fmt.Sprintf(`
		SELECT m.id, bm25(memories_fts) AS rank
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ? AND %s
		ORDER BY rank
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, opts.Limit+opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fts match %q: %w", opts.Query, err)
	}
	defer rows.Close()

	var out []store.ScoredMemory
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		score := 1.0 / (1.0 + math.Abs(rank))
		if score < opts.MinScore {
			continue
		}
		out = append(out, store.ScoredMemory{MemoryID: id, Score: score, Source: "bm25"})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) == 0 && opts.FuzzyFallback {
		terms := strings.Fields(opts.Query)
		if len(terms) > 1 {
			relaxed := opts
			relaxed.Query = strings.Join(terms, " OR ")
			relaxed.FuzzyFallback = false
			return s.FullTextSearch(ctx, relaxed)
		}
	}

	out = paginateScored(out, opts.Offset, opts.Limit)
	return out, nil
}

// vectorSearchMaxCandidates caps the candidate pool loaded into Go memory
// for a linear cosine scan, newest-first (spec.md §4.3 "Vector path";
// grounded on internal/storage/sqlite/search_provider.go's
// vectorSearchMaxCandidates — for datasets beyond this, internal/store/postgres
// with pgvector should be used for indexed ANN search instead).
const vectorSearchMaxCandidates = 10_000

// VectorSearch ranks memories by cosine similarity to the query vector.
func (s *Store) VectorSearch(ctx context.Context, query []float32, opts store.SearchOptions) ([]store.ScoredMemory, error) {
	opts.Normalize()
	if len(query) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.source_id, e.vector, e.dimensions
		FROM embeddings e
		JOIN memories m ON m.id = e.source_id
		WHERE e.source_type = 'memory' AND m.is_deleted = 0
		ORDER BY m.created_at DESC
		LIMIT ?`, vectorSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	var candidates []store.ScoredMemory
	for rows.Next() {
		var id string
		var blob []byte
		var dims int
		if err := rows.Scan(&id, &blob, &dims); err != nil {
			continue
		}
		vec, err := deserializeEmbedding(blob, dims)
		if err != nil {
			continue
		}
		sim := cosineSimilarity(query, vec)
		if float64(sim) < opts.MinScore {
			continue
		}
		candidates = append(candidates, store.ScoredMemory{MemoryID: id, Score: float64(sim), Source: "vector"})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return paginateScored(candidates, opts.Offset, opts.Limit), nil
}

// HybridSearch fuses BM25 and vector results by alpha-blend, not rank
// fusion — a deliberate deviation from the teacher's Reciprocal Rank
// Fusion (see SPEC_FULL.md §4.3 grounding note): the spec's boundary tests
// require alpha=0 to yield pure BM25 ordering and alpha=1 to yield pure
// vector ordering, which RRF (merging by rank position) cannot express.
func (s *Store) HybridSearch(ctx context.Context, opts store.SearchOptions) ([]store.ScoredMemory, error) {
	opts.Normalize()

	candidateLimit := opts.Limit * 3
	if candidateLimit < 30 {
		candidateLimit = 30
	}
	wideOpts := opts
	wideOpts.Limit = candidateLimit
	wideOpts.Offset = 0

	bm25, err := s.FullTextSearch(ctx, wideOpts)
	if err != nil {
		return nil, fmt.Errorf("hybrid fts: %w", err)
	}
	var vec []store.ScoredMemory
	if len(opts.Vector) > 0 {
		vec, err = s.VectorSearch(ctx, opts.Vector, wideOpts)
		if err != nil {
			return nil, fmt.Errorf("hybrid vector: %w", err)
		}
	}

	bm25Scores := make(map[string]float64, len(bm25))
	for _, r := range bm25 {
		bm25Scores[r.MemoryID] = r.Score
	}
	vecScores := make(map[string]float64, len(vec))
	for _, r := range vec {
		vecScores[r.MemoryID] = r.Score
	}

	seen := make(map[string]bool, len(bm25)+len(vec))
	var fused []store.ScoredMemory
	for _, r := range append(append([]store.ScoredMemory{}, bm25...), vec...) {
		if seen[r.MemoryID] {
			continue
		}
		seen[r.MemoryID] = true

		b, hasB := bm25Scores[r.MemoryID]
		v, hasV := vecScores[r.MemoryID]

		var score float64
		var source string
		switch {
		case hasB && hasV:
			score = opts.Alpha*v + (1-opts.Alpha)*b
			source = "hybrid"
		case hasV:
			score = v
			source = "vector"
		default:
			score = b
			source = "bm25"
		}
		if score < opts.MinScore {
			continue
		}
		fused = append(fused, store.ScoredMemory{MemoryID: r.MemoryID, Score: score, Source: source})
	}

	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	return paginateScored(fused, opts.Offset, opts.Limit), nil
}

func paginateScored(items []store.ScoredMemory, offset, limit int) []store.ScoredMemory {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// sanitiseFTSQuery converts free-form input into a safe FTS5 MATCH
// expression: strip special characters, drop stop words, and OR together
// prefix terms (grounded on
// internal/storage/sqlite/search_provider.go#sanitiseFTSQuery).
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `, `'`, ` `, `(`, ` `, `)`, ` `, `*`, ` `, `-`, ` `, `^`, ` `, `?`, ` `, `:`, ` `,
	)
	cleaned := replacer.Replace(query)
	words := strings.Fields(strings.ToLower(cleaned))

	stopWords := map[string]bool{
		"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
		"be": true, "been": true, "being": true, "have": true, "has": true, "had": true,
		"do": true, "does": true, "did": true, "will": true, "would": true, "could": true,
		"should": true, "may": true, "might": true, "shall": true, "can": true,
		"to": true, "of": true, "in": true, "on": true, "at": true, "by": true, "for": true,
		"with": true, "from": true, "as": true, "about": true, "into": true, "through": true,
		"what": true, "how": true, "when": true, "where": true, "why": true, "who": true, "which": true,
		"this": true, "that": true, "these": true, "those": true,
		"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
		"and": true, "or": true, "but": true, "if": true, "not": true,
	}

	var terms []string
	for _, w := range words {
		if !stopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}
	if len(terms) == 0 {
		return strings.ToLower(strings.TrimSpace(cleaned))
	}
	return strings.Join(terms, " OR ")
}
