package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/continuity/internal/domain"
)

// Edge is a relationship row addressed by entity ids rather than names.
type Edge struct {
	SourceID       string
	TargetID       string
	Type           string
	Context        string
	Strength       string
	LastSeenIn     string
	UpdatedChapter int
}

// CurrentRelationship returns the pair's most recently updated edge, the
// one whose type governs transition checks.
func (t *Tx) CurrentRelationship(ctx context.Context, sourceID, targetID string) (*Edge, error) {
	var e Edge
	err := t.tx.QueryRowContext(ctx, `
		SELECT source_id, target_id, type, context, strength, last_seen_in, updated_chapter
		FROM relationships
		WHERE source_id = ? AND target_id = ?
		ORDER BY updated_chapter DESC
		LIMIT 1`,
		sourceID, targetID,
	).Scan(&e.SourceID, &e.TargetID, &e.Type, &e.Context, &e.Strength, &e.LastSeenIn, &e.UpdatedChapter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("current relationship: %w", err)
	}
	return &e, nil
}

// MergeRelationship applies an allowed relationship update. When the pair
// already holds an edge of a different type, that edge transitions in
// place so its identity is preserved; otherwise the typed edge is created
// or its attributes overwritten.
func (t *Tx) MergeRelationship(ctx context.Context, sourceID, targetID, oldType, newType, relContext, sceneID string, chapter int) error {
	if oldType != "" && oldType != newType {
		_, err := t.tx.ExecContext(ctx, `
			UPDATE relationships
			SET type = ?, context = ?, last_seen_in = ?, updated_chapter = ?
			WHERE source_id = ? AND target_id = ? AND type = ?`,
			newType, relContext, sceneID, chapter, sourceID, targetID, oldType)
		if err != nil {
			return fmt.Errorf("transition relationship: %w", err)
		}
		return nil
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO relationships (source_id, target_id, type, context, strength, last_seen_in, updated_chapter)
		VALUES (?, ?, ?, ?, 'high', ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET
			context = excluded.context,
			last_seen_in = excluded.last_seen_in,
			updated_chapter = excluded.updated_chapter`,
		sourceID, targetID, newType, relContext, sceneID, chapter)
	if err != nil {
		return fmt.Errorf("merge relationship: %w", err)
	}
	return nil
}

// HasBridgingEvent reports whether an event of the required type involving
// both entities (either direction) was recorded after the edge's last
// update and no later than the asserted chapter.
func (t *Tx) HasBridgingEvent(ctx context.Context, manuscriptID, aID, bID, eventType string, afterChapter, uptoChapter int) (bool, error) {
	var found int
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE manuscript_id = ? AND type = ?
			  AND chapter > ? AND chapter <= ?
			  AND ((source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?))
		)`,
		manuscriptID, eventType, afterChapter, uptoChapter, aID, bID, bID, aID,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("bridging event lookup: %w", err)
	}
	return found == 1, nil
}

// RecordEvent stores a narrative event between two known entities.
func (s *Store) RecordEvent(ctx context.Context, manuscriptID, eventType string, chapter int, sourceName, targetName, description string) (*domain.Event, error) {
	source, err := s.EntityByName(ctx, manuscriptID, sourceName)
	if err != nil {
		return nil, fmt.Errorf("event source %q: %w", sourceName, err)
	}
	target, err := s.EntityByName(ctx, manuscriptID, targetName)
	if err != nil {
		return nil, fmt.Errorf("event target %q: %w", targetName, err)
	}

	event := &domain.Event{
		ID:           uuid.New().String(),
		ManuscriptID: manuscriptID,
		Type:         eventType,
		Chapter:      chapter,
		Source:       source.Name,
		Target:       target.Name,
		Description:  description,
		CreatedAt:    time.Now(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, manuscript_id, type, chapter, source_id, target_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, manuscriptID, eventType, chapter, source.ID, target.ID, description, event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

// --- Facts and knowledge ---

func factByLabel(ctx context.Context, q querier, manuscriptID, label string) (*domain.Fact, error) {
	var f domain.Fact
	err := q.QueryRowContext(ctx,
		"SELECT id, manuscript_id, label, description, created_at FROM facts WHERE manuscript_id = ? AND norm_label = ?",
		manuscriptID, domain.NormalizeName(label),
	).Scan(&f.ID, &f.ManuscriptID, &f.Label, &f.Description, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fact by label: %w", err)
	}
	return &f, nil
}

// FactByLabel looks up a fact by case-insensitive label.
func (s *Store) FactByLabel(ctx context.Context, manuscriptID, label string) (*domain.Fact, error) {
	return factByLabel(ctx, s.db, manuscriptID, label)
}

// AddFact creates a fact, or returns the existing one with the same label.
func (s *Store) AddFact(ctx context.Context, manuscriptID, label, description string) (*domain.Fact, error) {
	if existing, err := s.FactByLabel(ctx, manuscriptID, label); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	fact := &domain.Fact{
		ID:           uuid.New().String(),
		ManuscriptID: manuscriptID,
		Label:        label,
		Description:  description,
		CreatedAt:    time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO facts (id, manuscript_id, label, norm_label, description, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		fact.ID, manuscriptID, label, domain.NormalizeName(label), description, fact.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert fact: %w", err)
	}
	return fact, nil
}

// HasKnowledge reports whether a KNOWS edge exists from the entity to the
// fact. The edge is only ever written by an explicit grant, never inferred.
func (s *Store) HasKnowledge(ctx context.Context, entityID, factID string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM knowledge WHERE entity_id = ? AND fact_id = ?)",
		entityID, factID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("knowledge lookup: %w", err)
	}
	return found == 1, nil
}

// GrantKnowledge records that a character learned a fact at a chapter.
func (s *Store) GrantKnowledge(ctx context.Context, manuscriptID, entityName, factLabel string, chapter int) error {
	entity, err := s.EntityByName(ctx, manuscriptID, entityName)
	if err != nil {
		return fmt.Errorf("grant knowledge to %q: %w", entityName, err)
	}
	fact, err := s.FactByLabel(ctx, manuscriptID, factLabel)
	if err != nil {
		return fmt.Errorf("grant knowledge of %q: %w", factLabel, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO knowledge (entity_id, fact_id, learned_chapter) VALUES (?, ?, ?)",
		entity.ID, fact.ID, chapter)
	if err != nil {
		return fmt.Errorf("insert knowledge: %w", err)
	}
	return nil
}

// PutRelationship seeds or overwrites a typed edge between two known
// entities, bypassing transition checks. Callers normalize and validate
// the type first; validation requests never use this path.
func (s *Store) PutRelationship(ctx context.Context, manuscriptID, sourceName, targetName, relType, relContext string, chapter int) error {
	return s.WithTx(ctx, func(t *Tx) error {
		source, err := t.EntityByName(ctx, manuscriptID, sourceName)
		if err != nil {
			return fmt.Errorf("relationship source %q: %w", sourceName, err)
		}
		target, err := t.EntityByName(ctx, manuscriptID, targetName)
		if err != nil {
			return fmt.Errorf("relationship target %q: %w", targetName, err)
		}

		// Seeding a different type for an existing pair transitions the
		// current edge in place, keeping one current row per pair.
		oldType := ""
		edge, err := t.CurrentRelationship(ctx, source.ID, target.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if edge != nil {
			oldType = edge.Type
		}

		return t.MergeRelationship(ctx, source.ID, target.ID, oldType, relType, relContext, "", chapter)
	})
}
