package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

// serializeEmbedding packs a []float32 into a little-endian byte blob.
// Uses math.Float32bits rather than the teacher's unsafe.Pointer bit-cast,
// since this domain's vectors are float32 (the teacher's were float64) and
// there is no need to reach for unsafe for a 4-byte-per-element pack.
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

// StoreEmbedding upserts the dense vector for (source_type, source_id). For
// a memory source this also stamps memories.embedding_model, the "latest
// pipeline attribution" column spec.md §3 describes.
func (s *Store) StoreEmbedding(ctx context.Context, emb types.Embedding) error {
	if emb.SourceType == "" || emb.SourceID == "" {
		return fmt.Errorf("%w: source_type and source_id are required", store.ErrInvalidInput)
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (source_type, source_id, vector, dimensions, model, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(source_type, source_id) DO UPDATE SET
			vector = excluded.vector, dimensions = excluded.dimensions,
			model = excluded.model, updated_at = excluded.updated_at`,
		emb.SourceType, emb.SourceID, serializeEmbedding(emb.Vector), len(emb.Vector), emb.Model, now, now,
	)
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	if emb.SourceType == "memory" {
		if _, err := s.db.ExecContext(ctx, `UPDATE memories SET embedding_model = ?, updated_at = ? WHERE id = ?`,
			emb.Model, now, emb.SourceID); err != nil {
			return fmt.Errorf("stamp embedding_model: %w", err)
		}
	}
	return nil
}

// SetExtractionStatus stamps a memory's pipeline attribution column
// (spec.md §3 "embedding_model / extraction_status: latest pipeline
// attribution").
func (s *Store) SetExtractionStatus(ctx context.Context, memoryID string, status types.ExtractionStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET extraction_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), memoryID)
	if err != nil {
		return fmt.Errorf("set extraction status: %w", err)
	}
	return nil
}

// GetEmbedding returns the stored vector for (source_type, source_id).
func (s *Store) GetEmbedding(ctx context.Context, sourceType, sourceID string) (*types.Embedding, error) {
	var blob []byte
	var dims int
	e := types.Embedding{SourceType: sourceType, SourceID: sourceID}
	err := s.db.QueryRowContext(ctx, `
		SELECT vector, dimensions, model, created_at, updated_at
		FROM embeddings WHERE source_type = ? AND source_id = ?`, sourceType, sourceID,
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
