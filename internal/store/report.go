package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/continuity/internal/domain"
)

// Census is the character population summary for a manuscript.
type Census struct {
	TotalCharacters int `json:"total_characters"`
	ActiveCount     int `json:"active_count"`
	InactiveCount   int `json:"inactive_count"`
}

// Census counts characters by life status. Active means status alive.
func (s *Store) Census(ctx context.Context, manuscriptID string) (*Census, error) {
	var c Census
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'alive' THEN 1 ELSE 0 END), 0)
		FROM entities
		WHERE manuscript_id = ? AND kind = 'character'`,
		manuscriptID).Scan(&c.TotalCharacters, &c.ActiveCount)
	if err != nil {
		return nil, fmt.Errorf("census: %w", err)
	}
	c.InactiveCount = c.TotalCharacters - c.ActiveCount
	return &c, nil
}

// DormantCharacter is an alive character at risk of being forgotten.
type DormantCharacter struct {
	Name     string `json:"name"`
	LastSeen int    `json:"last_seen"`
	Gap      int    `json:"gap"`
}

// DormantCharacters returns alive characters whose chapter gap relative to
// the latest ingested chapter is at least minGap, ordered by descending
// gap, at most topN rows.
func (s *Store) DormantCharacters(ctx context.Context, manuscriptID string, minGap, topN int) ([]DormantCharacter, error) {
	maxChapter, err := s.MaxChapter(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, last_seen_chapter
		FROM entities
		WHERE manuscript_id = ? AND kind = 'character' AND status = 'alive'
		  AND ? - last_seen_chapter >= ?
		ORDER BY last_seen_chapter ASC, name
		LIMIT ?`,
		manuscriptID, maxChapter, minGap, topN)
	if err != nil {
		return nil, fmt.Errorf("dormant characters: %w", err)
	}
	defer rows.Close()

	var dormant []DormantCharacter
	for rows.Next() {
		var d DormantCharacter
		if err := rows.Scan(&d.Name, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scan dormant: %w", err)
		}
		d.Gap = maxChapter - d.LastSeen
		dormant = append(dormant, d)
	}
	return dormant, rows.Err()
}

// Node is an entity projected for the graph query surface, with its
// appearance bounds.
type Node struct {
	domain.Entity
	FirstAppearance *time.Time `json:"first_appearance,omitempty"`
	LastAppearance  *time.Time `json:"last_appearance,omitempty"`
}

// Nodes lists entities for a manuscript with pagination, optionally
// filtered by kind.
func (s *Store) Nodes(ctx context.Context, manuscriptID string, kind domain.EntityKind, limit, offset int) ([]Node, int, error) {
	args := []any{manuscriptID}
	filter := ""
	if kind != "" {
		filter = " AND e.kind = ?"
		args = append(args, kind)
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities e WHERE e.manuscript_id = ?"+filter, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count nodes: %w", err)
	}

	query := `
		SELECT e.id, e.manuscript_id, e.name, e.kind, e.status, e.archetype, e.goal, e.atmosphere,
		       e.first_seen_chapter, e.last_seen_chapter,
		       MIN(s.created_at), MAX(s.created_at)
		FROM entities e
		LEFT JOIN appearances a ON a.entity_id = e.id
		LEFT JOIN scenes s ON s.id = a.scene_id
		WHERE e.manuscript_id = ?` + filter + `
		GROUP BY e.id
		ORDER BY e.name
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var first, last sql.NullTime
		err := rows.Scan(&n.ID, &n.ManuscriptID, &n.Name, &n.Kind, &n.Status,
			&n.Archetype, &n.Goal, &n.Atmosphere, &n.FirstSeenChapter, &n.LastSeenChapter,
			&first, &last)
		if err != nil {
			return nil, 0, fmt.Errorf("scan node: %w", err)
		}
		if first.Valid {
			n.FirstAppearance = &first.Time
		}
		if last.Valid {
			n.LastAppearance = &last.Time
		}
		nodes = append(nodes, n)
	}
	return nodes, total, rows.Err()
}

// Edges lists relationships for a manuscript with pagination, optionally
// filtered by source name, target name and type.
func (s *Store) Edges(ctx context.Context, manuscriptID, source, target, relType string, limit, offset int) ([]domain.Relationship, int, error) {
	where := "a.manuscript_id = ? AND b.manuscript_id = ?"
	args := []any{manuscriptID, manuscriptID}
	if source != "" {
		where += " AND a.norm_name = ?"
		args = append(args, domain.NormalizeName(source))
	}
	if target != "" {
		where += " AND b.norm_name = ?"
		args = append(args, domain.NormalizeName(target))
	}
	if relType != "" {
		where += " AND r.type = ?"
		args = append(args, relType)
	}

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM relationships r
		JOIN entities a ON a.id = r.source_id
		JOIN entities b ON b.id = r.target_id
		WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count edges: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.name, b.name, r.type, r.context, r.strength, r.last_seen_in, r.updated_chapter
		FROM relationships r
		JOIN entities a ON a.id = r.source_id
		JOIN entities b ON b.id = r.target_id
		WHERE `+where+`
		ORDER BY a.name, b.name, r.type
		LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var edges []domain.Relationship
	for rows.Next() {
		var e domain.Relationship
		err := rows.Scan(&e.Source, &e.Target, &e.Type, &e.Context, &e.Strength, &e.LastSeenIn, &e.UpdatedChapter)
		if err != nil {
			return nil, 0, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, total, rows.Err()
}

// NodeDetail is a single entity with its outgoing relationships and
// appearance history.
type NodeDetail struct {
	Node          Node                  `json:"node"`
	Relationships []domain.Relationship `json:"relationships"`
	Appearances   []domain.Appearance   `json:"appearances"`
}

// NodeDetail returns one entity by name with relationships and appearances.
func (s *Store) NodeDetail(ctx context.Context, manuscriptID, name string) (*NodeDetail, error) {
	entity, err := s.EntityByName(ctx, manuscriptID, name)
	if err != nil {
		return nil, err
	}

	detail := &NodeDetail{
		Node:          Node{Entity: *entity},
		Relationships: []domain.Relationship{},
		Appearances:   []domain.Appearance{},
	}

	edges, _, err := s.Edges(ctx, manuscriptID, entity.Name, "", "", 500, 0)
	if err != nil {
		return nil, err
	}
	detail.Relationships = append(detail.Relationships, edges...)

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.chapter, s.created_at
		FROM appearances a
		JOIN scenes s ON s.id = a.scene_id
		WHERE a.entity_id = ?
		ORDER BY s.chapter, s.created_at`,
		entity.ID)
	if err != nil {
		return nil, fmt.Errorf("list appearances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ap domain.Appearance
		if err := rows.Scan(&ap.SceneID, &ap.Chapter, &ap.Timestamp); err != nil {
			return nil, fmt.Errorf("scan appearance: %w", err)
		}
		detail.Appearances = append(detail.Appearances, ap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(detail.Appearances) > 0 {
		detail.Node.FirstAppearance = &detail.Appearances[0].Timestamp
		detail.Node.LastAppearance = &detail.Appearances[len(detail.Appearances)-1].Timestamp
	}
	return detail, nil
}
