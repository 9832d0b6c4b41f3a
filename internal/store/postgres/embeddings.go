package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

// serializeEmbedding packs a []float32 into a little-endian BYTEA payload,
// the same wire format internal/store/sqlite uses, so the two backends
// agree on what an embeddings.vector blob means independent of whether
// pgvector is installed.
func serializeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(buf []byte, dims int) ([]float32, error) {
	if len(buf) != dims*4 {
		return nil, fmt.Errorf("embedding blob length %d does not match dimensions %d", len(buf), dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// StoreEmbedding upserts the BYTEA payload always, and additionally the
// pgvector column when the extension is available — grounded on
// internal/storage/postgres/embedding_provider.go's "store both, prefer
// pgvector for querying" pattern.
func (s *Store) StoreEmbedding(ctx context.Context, emb types.Embedding) error {
	if emb.SourceType == "" || emb.SourceID == "" {
		return fmt.Errorf("%w: source_type and source_id are required", store.ErrInvalidInput)
	}
	now := time.Now()
	blob := serializeEmbedding(emb.Vector)

	if s.pgvectorAvailable {
		vec := pgvector.NewVector(emb.Vector)
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO embeddings (source_type, source_id, vector, dimensions, model, embedding_vec, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT(source_type, source_id) DO UPDATE SET
				vector = excluded.vector, dimensions = excluded.dimensions,
				model = excluded.model, embedding_vec = excluded.embedding_vec, updated_at = excluded.updated_at`,
			emb.SourceType, emb.SourceID, blob, len(emb.Vector), emb.Model, vec, now, now,
		)
		if err != nil {
			log.Printf("postgres: embedding_vec upsert failed (falling back to BYTEA only): %v", err)
		} else {
			return s.stampEmbeddingModel(ctx, emb, now)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (source_type, source_id, vector, dimensions, model, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT(source_type, source_id) DO UPDATE SET
			vector = excluded.vector, dimensions = excluded.dimensions,
			model = excluded.model, updated_at = excluded.updated_at`,
		emb.SourceType, emb.SourceID, blob, len(emb.Vector), emb.Model, now, now,
	)
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return s.stampEmbeddingModel(ctx, emb, now)
}

func (s *Store) stampEmbeddingModel(ctx context.Context, emb types.Embedding, now time.Time) error {
	if emb.SourceType != "memory" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE memories SET embedding_model = $1, updated_at = $2 WHERE id = $3`,
		emb.Model, now, emb.SourceID); err != nil {
		return fmt.Errorf("stamp embedding_model: %w", err)
	}
	return nil
}

// SetExtractionStatus stamps a memory's pipeline attribution column
// (spec.md §3 "embedding_model / extraction_status: latest pipeline
// attribution").
func (s *Store) SetExtractionStatus(ctx context.Context, memoryID string, status types.ExtractionStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET extraction_status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), memoryID)
	if err != nil {
		return fmt.Errorf("set extraction status: %w", err)
	}
	return nil
}

func (s *Store) GetEmbedding(ctx context.Context, sourceType, sourceID string) (*types.Embedding, error) {
	var blob []byte
	var dims int
	e := types.Embedding{SourceType: sourceType, SourceID: sourceID}
	err := s.db.QueryRowContext(ctx, `
		SELECT vector, dimensions, model, created_at, updated_at
		FROM embeddings WHERE source_type = $1 AND source_id = $2`, sourceType, sourceID,
	).Scan(&blob, &dims, &e.Model, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	vec, err := deserializeEmbedding(blob, dims)
	if err != nil {
		return nil, err
	}
	e.Vector = vec
	e.Dimensions = dims
	return &e, nil
}
