package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/example/continuity/internal/domain"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a requested node or edge does not exist.
var ErrNotFound = errors.New("not found")

// Store is the property-graph adapter backed by sqlite. Pure reads go
// through Store methods directly; every read-modify-write sequence runs
// inside a single transaction via WithTx.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and initializes the schema.
// The connection uses WAL and immediate write transactions so concurrent
// validation requests serialize on writes instead of failing.
func New(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a write transaction over the graph.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a single write transaction, committing on nil
// and rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so lookups can be
// shared between snapshot reads and transactional reads.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- Manuscripts and scenes ---

// EnsureManuscript creates the manuscript if it does not exist yet.
func (t *Tx) EnsureManuscript(ctx context.Context, id, title string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO manuscripts (id, title, created_at) VALUES (?, ?, ?)",
		id, title, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("ensure manuscript: %w", err)
	}
	return nil
}

// CreateScene appends a new scene for the chapter. Scene ids are derived
// from the manuscript, chapter and the chapter's ingestion sequence.
func (t *Tx) CreateScene(ctx context.Context, manuscriptID string, chapter int) (*domain.Scene, error) {
	var seq int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM scenes WHERE manuscript_id = ? AND chapter = ?",
		manuscriptID, chapter,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("count scenes: %w", err)
	}

	scene := &domain.Scene{
		ID:           fmt.Sprintf("%s_ch%d_p%d", manuscriptID, chapter, seq+1),
		ManuscriptID: manuscriptID,
		Chapter:      chapter,
		CreatedAt:    time.Now(),
	}

	_, err = t.tx.ExecContext(ctx,
		"INSERT INTO scenes (id, manuscript_id, chapter, created_at) VALUES (?, ?, ?, ?)",
		scene.ID, scene.ManuscriptID, scene.Chapter, scene.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert scene: %w", err)
	}
	return scene, nil
}

// --- Entities ---

const entityColumns = `id, manuscript_id, name, kind, status, archetype, goal, atmosphere,
	first_seen_chapter, last_seen_chapter`

func scanEntity(row *sql.Row) (*domain.Entity, error) {
	var e domain.Entity
	err := row.Scan(&e.ID, &e.ManuscriptID, &e.Name, &e.Kind, &e.Status,
		&e.Archetype, &e.Goal, &e.Atmosphere, &e.FirstSeenChapter, &e.LastSeenChapter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	return &e, nil
}

func entityByName(ctx context.Context, q querier, manuscriptID, name string) (*domain.Entity, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE manuscript_id = ? AND norm_name = ?",
		manuscriptID, domain.NormalizeName(name),
	)
	return scanEntity(row)
}

// EntityByName looks up an entity by case-insensitive name (snapshot read).
func (s *Store) EntityByName(ctx context.Context, manuscriptID, name string) (*domain.Entity, error) {
	return entityByName(ctx, s.db, manuscriptID, name)
}

// EntityByName looks up an entity inside the transaction, so a status
// check and its conditional update observe the same state.
func (t *Tx) EntityByName(ctx context.Context, manuscriptID, name string) (*domain.Entity, error) {
	return entityByName(ctx, t.tx, manuscriptID, name)
}

// CreateEntity inserts a new entity. The caller owns identity checks;
// a duplicate case-insensitive name in the same manuscript is an error.
func (t *Tx) CreateEntity(ctx context.Context, e *domain.Entity) (*domain.Entity, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = domain.StatusUnknown
	}
	if e.FirstSeenChapter == 0 {
		e.FirstSeenChapter = e.LastSeenChapter
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO entities (id, manuscript_id, name, norm_name, kind, status,
			archetype, goal, atmosphere, first_seen_chapter, last_seen_chapter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ManuscriptID, e.Name, domain.NormalizeName(e.Name), e.Kind, e.Status,
		e.Archetype, e.Goal, e.Atmosphere, e.FirstSeenChapter, e.LastSeenChapter,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}
	return e, nil
}

// TouchEntity records a validated appearance at chapter: last_seen_chapter
// only ever moves forward, and non-empty traits overwrite stored ones.
func (t *Tx) TouchEntity(ctx context.Context, id string, chapter int, archetype, goal, atmosphere string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE entities SET
			last_seen_chapter = MAX(last_seen_chapter, ?),
			archetype = COALESCE(NULLIF(?, ''), archetype),
			goal = COALESCE(NULLIF(?, ''), goal),
			atmosphere = COALESCE(NULLIF(?, ''), atmosphere)
		WHERE id = ?`,
		chapter, archetype, goal, atmosphere, id,
	)
	if err != nil {
		return fmt.Errorf("touch entity: %w", err)
	}
	return nil
}

// SetStatus overwrites the stored life status.
func (t *Tx) SetStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE entities SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// RecordAppearance marks the entity as present in the scene.
func (t *Tx) RecordAppearance(ctx context.Context, entityID, sceneID string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO appearances (entity_id, scene_id) VALUES (?, ?)",
		entityID, sceneID)
	if err != nil {
		return fmt.Errorf("record appearance: %w", err)
	}
	return nil
}

// EntityNames returns all known names for a manuscript (snapshot read,
// input to identity resolution).
func (s *Store) EntityNames(ctx context.Context, manuscriptID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM entities WHERE manuscript_id = ? ORDER BY name",
		manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("list entity names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RecentCharacterNames returns up to n character names ordered by most
// recent appearance; this feeds the extractor's active memory window.
func (s *Store) RecentCharacterNames(ctx context.Context, manuscriptID string, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM entities
		WHERE manuscript_id = ? AND kind = 'character'
		ORDER BY last_seen_chapter DESC, name
		LIMIT ?`,
		manuscriptID, n)
	if err != nil {
		return nil, fmt.Errorf("recent characters: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// MaxChapter returns the highest chapter with an ingested scene.
func (s *Store) MaxChapter(ctx context.Context, manuscriptID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(chapter), 0) FROM scenes WHERE manuscript_id = ?",
		manuscriptID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max chapter: %w", err)
	}
	return max, nil
}

// CreateEntity creates a named entity through its own transaction,
// failing if the case-insensitive name is already taken in the
// manuscript. Used by seeding and the entity admin surface; validation
// never creates characters.
func (s *Store) CreateEntity(ctx context.Context, e *domain.Entity) (*domain.Entity, error) {
	err := s.WithTx(ctx, func(t *Tx) error {
		if err := t.EnsureManuscript(ctx, e.ManuscriptID, ""); err != nil {
			return err
		}
		if _, err := t.EntityByName(ctx, e.ManuscriptID, e.Name); err == nil {
			return fmt.Errorf("entity %q already exists", e.Name)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		_, err := t.CreateEntity(ctx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// SetEntityStatus overwrites an entity's life status by name.
func (s *Store) SetEntityStatus(ctx context.Context, manuscriptID, name string, status domain.Status) error {
	return s.WithTx(ctx, func(t *Tx) error {
		entity, err := t.EntityByName(ctx, manuscriptID, name)
		if err != nil {
			return fmt.Errorf("set status of %q: %w", name, err)
		}
		return t.SetStatus(ctx, entity.ID, status)
	})
}
