package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

func (s *Store) UpsertEntity(ctx context.Context, name, entityType string) (*types.Entity, error) {
	canon := types.CanonicalizeEntityName(name)
	if canon == "" {
		return nil, fmt.Errorf("%w: entity name is required", store.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var e types.Entity
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, canonical_name, entity_type, mentions, created_at, updated_at
		FROM entities WHERE canonical_name = $1`, canon,
	).Scan(&e.ID, &e.Name, &e.CanonicalName, &e.EntityType, &e.Mentions, &e.CreatedAt, &e.UpdatedAt)

	now := time.Now()
	if err == sql.ErrNoRows {
		e = types.Entity{ID: newID(), Name: name, CanonicalName: canon, EntityType: entityType, Mentions: 1, CreatedAt: now, UpdatedAt: now}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, name, canonical_name, entity_type, mentions, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.ID, e.Name, e.CanonicalName, e.EntityType, e.Mentions, e.CreatedAt, e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("insert entity: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("lookup entity: %w", err)
	} else {
		e.Mentions++
		e.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `UPDATE entities SET mentions=$1, updated_at=$2 WHERE id=$3`, e.Mentions, e.UpdatedAt, e.ID); err != nil {
			return nil, fmt.Errorf("bump entity mentions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) LinkEntityMention(ctx context.Context, memoryID, entityID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entity_mentions (id, memory_id, entity_id)
		VALUES ($1,$2,$3) ON CONFLICT(memory_id, entity_id) DO NOTHING`,
		newID(), memoryID, entityID)
	if err != nil {
		return fmt.Errorf("link entity mention: %w", err)
	}
	return nil
}

func (s *Store) UpsertRelation(ctx context.Context, sourceEntityID, targetEntityID, relationType string, observedConfidence float64) (*types.Relation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var r types.Relation
	err = tx.QueryRowContext(ctx, `
		SELECT id, source_entity_id, target_entity_id, relation_type, strength, mentions, confidence, created_at, updated_at
		FROM relations WHERE source_entity_id=$1 AND target_entity_id=$2 AND relation_type=$3`,
		sourceEntityID, targetEntityID, relationType,
	).Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationType, &r.Strength, &r.Mentions, &r.Confidence, &r.CreatedAt, &r.UpdatedAt)

	now := time.Now()
	if err == sql.ErrNoRows {
		r = types.Relation{
			ID: newID(), SourceEntityID: sourceEntityID, TargetEntityID: targetEntityID,
			RelationType: relationType, Strength: 1.0, Mentions: 1, Confidence: observedConfidence,
			CreatedAt: now, UpdatedAt: now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relations (id, source_entity_id, target_entity_id, relation_type, strength, mentions, confidence, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			r.ID, r.SourceEntityID, r.TargetEntityID, r.RelationType, r.Strength, r.Mentions, r.Confidence, r.CreatedAt, r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("insert relation: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("lookup relation: %w", err)
	} else {
		r.UpdateConfidence(observedConfidence)
		r.Mentions++
		r.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `UPDATE relations SET mentions=$1, confidence=$2, updated_at=$3 WHERE id=$4`,
			r.Mentions, r.Confidence, r.UpdatedAt, r.ID); err != nil {
			return nil, fmt.Errorf("update relation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) DecrementEntityMentions(ctx context.Context, entityID string, by int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var mentions int
	if err := tx.QueryRowContext(ctx, `SELECT mentions FROM entities WHERE id=$1`, entityID).Scan(&mentions); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("lookup entity mentions: %w", err)
	}

	mentions -= by
	if mentions <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id=$1`, entityID); err != nil {
			return fmt.Errorf("cascade delete entity: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE entities SET mentions=$1, updated_at=$2 WHERE id=$3`, mentions, time.Now(), entityID); err != nil {
			return fmt.Errorf("decrement entity mentions: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) RecordDecisionProposal(ctx context.Context, p types.DecisionProposal) error {
	if !types.IsValidDecisionAction(p.Action) {
		return fmt.Errorf("%w: invalid decision action %q", store.ErrInvalidInput, p.Action)
	}
	if p.ID == "" {
		p.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_proposals (id, memory_id, target_id, action, confidence, reason)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.MemoryID, p.TargetID, string(p.Action), p.Confidence, p.Reason)
	if err != nil {
		return fmt.Errorf("record decision proposal: %w", err)
	}
	return nil
}
