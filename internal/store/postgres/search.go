package postgres

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/memento-core/daemon/internal/store"
)

// FullTextSearch ranks by ts_rank over the generated content_tsv column
// (spec.md §4.3 "BM25 path"; the Postgres analogue of the sqlite backend's
// FTS5 bm25() rank — see SPEC_FULL.md's "Storage backend parity" note).
// Falls back to a plain ILIKE scan if the MigrationFTS column was never
// applied (e.g. insufficient privilege to add a generated column).
func (s *Store) FullTextSearch(ctx context.Context, opts store.SearchOptions) ([]store.ScoredMemory, error) {
	opts.Normalize()
	if strings.TrimSpace(opts.Query) == "" {
		return nil, nil
	}

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	queryArg := arg(opts.Query)
	where = append(where, "is_deleted = FALSE")
	if opts.Project != "" {
		where = append(where, "project = "+arg(opts.Project))
	}
	if opts.Type != "" {
		where = append(where, "type = "+arg(opts.Type))
	}
	limitArg := arg(opts.Limit + opts.Offset)

	query := fmt.Sprintf(`
		SELECT id, ts_rank(content_tsv, plainto_tsquery('english', %s)) AS rank
		FROM memories
		WHERE content_tsv @@ plainto_tsquery('english', %s) AND %s
		ORDER BY rank DESC
		LIMIT %s`, queryArg, queryArg, strings.Join(where, " AND "), limitArg)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return s.fullTextSearchFallback(ctx, opts)
	}
	defer rows.Close()

	var out []store.ScoredMemory
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		if rank < opts.MinScore {
			continue
		}
		out = append(out, store.ScoredMemory{MemoryID: id, Score: rank, Source: "bm25"})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return paginateScored(out, opts.Offset, opts.Limit), nil
}

// fullTextSearchFallback runs when content_tsv is unavailable (MigrationFTS
// did not apply) — a degraded ILIKE scan rather than failing recall outright.
func (s *Store) fullTextSearchFallback(ctx context.Context, opts store.SearchOptions) ([]store.ScoredMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE is_deleted = FALSE AND content ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC LIMIT $2`, opts.Query, opts.Limit+opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("fts ilike fallback: %w", err)
	}
	defer rows.Close()

	var out []store.ScoredMemory
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, store.ScoredMemory{MemoryID: id, Score: 0.5, Source: "bm25"})
	}
	return paginateScored(out, opts.Offset, opts.Limit), rows.Err()
}

const vectorSearchMaxCandidates = 10_000

// VectorSearch uses pgvector's <=> cosine-distance operator for an indexed
// ANN scan when available, otherwise a linear cosine scan over the BYTEA
// payload identical to internal/store/sqlite's approach.
func (s *Store) VectorSearch(ctx context.Context, query []float32, opts store.SearchOptions) ([]store.ScoredMemory, error) {
	opts.Normalize()
	if len(query) == 0 {
		return nil, nil
	}

	if s.pgvectorAvailable {
		vec := pgvector.NewVector(query)
		rows, err := s.db.QueryContext(ctx, `
			SELECT m.id, 1 - (e.embedding_vec <=> $1) AS similarity
			FROM embeddings e
			JOIN memories m ON m.id = e.source_id
			WHERE e.source_type = 'memory' AND m.is_deleted = FALSE AND e.embedding_vec IS NOT NULL
			ORDER BY e.embedding_vec <=> $1
			LIMIT $2`, vec, opts.Limit+opts.Offset)
		if err == nil {
			defer rows.Close()
			var out []store.ScoredMemory
			for rows.Next() {
				var id string
				var sim float64
				if err := rows.Scan(&id, &sim); err != nil {
					return nil, err
				}
				if sim < opts.MinScore {
					continue
				}
				out = append(out, store.ScoredMemory{MemoryID: id, Score: sim, Source: "vector"})
			}
			if err := rows.Err(); err == nil {
				return paginateScored(out, opts.Offset, opts.Limit), nil
			}
		}
	}

	return s.vectorSearchLinearScan(ctx, query, opts)
}

func (s *Store) vectorSearchLinearScan(ctx context.Context, query []float32, opts store.SearchOptions) ([]store.ScoredMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.source_id, e.vector, e.dimensions
		FROM embeddings e
		JOIN memories m ON m.id = e.source_id
		WHERE e.source_type = 'memory' AND m.is_deleted = FALSE
		ORDER BY m.created_at DESC
		LIMIT $1`, vectorSearchMaxCandidates)
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

// HybridSearch alpha-blends FullTextSearch and VectorSearch scores rather
// than rank-fusing them, matching internal/store/sqlite's deliberate
// deviation from the teacher's RRF (see that package's search.go doc).
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
			score, source = opts.Alpha*v+(1-opts.Alpha)*b, "hybrid"
		case hasV:
			score, source = v, "vector"
		default:
			score, source = b, "bm25"
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
