package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/example/continuity/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateCharacter(t *testing.T, s *Store, manuscript, name string, status domain.Status, chapter int) *domain.Entity {
	t.Helper()
	e, err := s.CreateEntity(context.Background(), &domain.Entity{
		ManuscriptID:    manuscript,
		Name:            name,
		Kind:            domain.KindCharacter,
		Status:          status,
		LastSeenChapter: chapter,
	})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return e
}

func mustIngestScene(t *testing.T, s *Store, manuscript string, chapter int) *domain.Scene {
	t.Helper()
	var scene *domain.Scene
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.EnsureManuscript(context.Background(), manuscript, ""); err != nil {
			return err
		}
		var err error
		scene, err = tx.CreateScene(context.Background(), manuscript, chapter)
		return err
	})
	if err != nil {
		t.Fatalf("ingest scene: %v", err)
	}
	return scene
}

func TestCreateEntityAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := mustCreateCharacter(t, s, "m1", "Gandalf", domain.StatusAlive, 1)
	if created.ID == "" {
		t.Fatal("entity id not assigned")
	}

	got, err := s.EntityByName(ctx, "m1", "GANDALF")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Name != "Gandalf" {
		t.Errorf("name = %q, want stored casing %q", got.Name, "Gandalf")
	}
	if got.Status != domain.StatusAlive {
		t.Errorf("status = %q, want alive", got.Status)
	}
	if got.FirstSeenChapter != 1 {
		t.Errorf("first_seen = %d, want 1", got.FirstSeenChapter)
	}
}

func TestCreateEntityDuplicateName(t *testing.T) {
	s := newTestStore(t)
	mustCreateCharacter(t, s, "m1", "Gandalf", domain.StatusAlive, 1)

	_, err := s.CreateEntity(context.Background(), &domain.Entity{
		ManuscriptID: "m1",
		Name:         "gandalf",
		Kind:         domain.KindCharacter,
	})
	if err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
}

func TestEntitiesScopedByManuscript(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCharacter(t, s, "m1", "Gandalf", domain.StatusAlive, 1)
	mustCreateCharacter(t, s, "m2", "Gandalf", domain.StatusDead, 1)

	a, err := s.EntityByName(ctx, "m1", "Gandalf")
	if err != nil {
		t.Fatalf("m1 lookup: %v", err)
	}
	b, err := s.EntityByName(ctx, "m2", "Gandalf")
	if err != nil {
		t.Fatalf("m2 lookup: %v", err)
	}
	if a.ID == b.ID {
		t.Error("same entity shared across manuscripts")
	}
	if a.Status == b.Status {
		t.Error("statuses should be independent per manuscript")
	}

	if _, err := s.EntityByName(ctx, "m3", "Gandalf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound in an unrelated manuscript, got %v", err)
	}
}

func TestTouchEntityMonotonicLastSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := mustCreateCharacter(t, s, "m1", "Frodo", domain.StatusAlive, 5)

	touch := func(chapter int, archetype string) {
		t.Helper()
		err := s.WithTx(ctx, func(tx *Tx) error {
			return tx.TouchEntity(ctx, e.ID, chapter, archetype, "", "")
		})
		if err != nil {
			t.Fatalf("touch: %v", err)
		}
	}

	// An appearance in an earlier chapter must not move last_seen back.
	touch(2, "")
	got, err := s.EntityByName(ctx, "m1", "Frodo")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSeenChapter != 5 {
		t.Errorf("last_seen = %d after earlier-chapter touch, want 5", got.LastSeenChapter)
	}

	touch(8, "Ring-bearer")
	got, err = s.EntityByName(ctx, "m1", "Frodo")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSeenChapter != 8 {
		t.Errorf("last_seen = %d, want 8", got.LastSeenChapter)
	}
	if got.Archetype != "Ring-bearer" {
		t.Errorf("archetype = %q, want overwritten trait", got.Archetype)
	}

	// Empty traits keep the stored values.
	touch(9, "")
	got, err = s.EntityByName(ctx, "m1", "Frodo")
	if err != nil {
		t.Fatal(err)
	}
	if got.Archetype != "Ring-bearer" {
		t.Errorf("archetype = %q, empty update should not clear it", got.Archetype)
	}
}

func TestSetEntityStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCharacter(t, s, "m1", "Boromir", domain.StatusAlive, 1)
	if err := s.SetEntityStatus(ctx, "m1", "boromir", domain.StatusDead); err != nil {
		t.Fatalf("set status: %v", err)
	}

	got, err := s.EntityByName(ctx, "m1", "Boromir")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusDead {
		t.Errorf("status = %q, want dead", got.Status)
	}

	err = s.SetEntityStatus(ctx, "m1", "Sauron", domain.StatusDead)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown entity, got %v", err)
	}
}

func TestSceneIDsSequencePerChapter(t *testing.T) {
	s := newTestStore(t)

	first := mustIngestScene(t, s, "m1", 3)
	second := mustIngestScene(t, s, "m1", 3)
	other := mustIngestScene(t, s, "m1", 4)

	if first.ID != "m1_ch3_p1" || second.ID != "m1_ch3_p2" {
		t.Errorf("scene ids %q, %q: sequence should advance within a chapter", first.ID, second.ID)
	}
	if other.ID != "m1_ch4_p1" {
		t.Errorf("scene id %q: sequence should reset per chapter", other.ID)
	}
}

func TestMaxChapter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.MaxChapter(ctx, "m1")
	if err != nil || got != 0 {
		t.Fatalf("empty manuscript: got %d, %v; want 0, nil", got, err)
	}

	mustIngestScene(t, s, "m1", 2)
	mustIngestScene(t, s, "m1", 7)
	mustIngestScene(t, s, "other", 99)

	got, err = s.MaxChapter(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Errorf("max chapter = %d, want 7", got)
	}
}

func TestRecentCharacterNamesWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCharacter(t, s, "m1", "Aragorn", domain.StatusAlive, 9)
	mustCreateCharacter(t, s, "m1", "Boromir", domain.StatusDead, 2)
	mustCreateCharacter(t, s, "m1", "Frodo", domain.StatusAlive, 7)
	_, err := s.CreateEntity(ctx, &domain.Entity{
		ManuscriptID: "m1", Name: "Moria", Kind: domain.KindLocation, LastSeenChapter: 9,
	})
	if err != nil {
		t.Fatal(err)
	}

	names, err := s.RecentCharacterNames(ctx, "m1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "Aragorn" || names[1] != "Frodo" {
		t.Errorf("recent = %v, want [Aragorn Frodo]", names)
	}
}

func TestDormantCharacters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustIngestScene(t, s, "m1", 10)
	mustCreateCharacter(t, s, "m1", "Aragorn", domain.StatusAlive, 10) // not dormant
	mustCreateCharacter(t, s, "m1", "Bilbo", domain.StatusAlive, 2)    // gap 8
	mustCreateCharacter(t, s, "m1", "Boromir", domain.StatusDead, 1)   // dead, excluded
	mustCreateCharacter(t, s, "m1", "Gimli", domain.StatusAlive, 6)    // gap 4
	mustCreateCharacter(t, s, "m1", "Merry", domain.StatusAlive, 8)    // gap 2, below min

	dormant, err := s.DormantCharacters(ctx, "m1", 3, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(dormant) != 2 {
		t.Fatalf("dormant = %+v, want 2 rows", dormant)
	}
	if dormant[0].Name != "Bilbo" || dormant[0].Gap != 8 {
		t.Errorf("first = %+v, want Bilbo with gap 8", dormant[0])
	}
	if dormant[1].Name != "Gimli" || dormant[1].Gap != 4 {
		t.Errorf("second = %+v, want Gimli with gap 4", dormant[1])
	}

	// topN truncates from the smallest-gap end.
	top, err := s.DormantCharacters(ctx, "m1", 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Name != "Bilbo" {
		t.Errorf("top-1 = %+v, want only Bilbo", top)
	}
}

func TestCensus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCharacter(t, s, "m1", "Aragorn", domain.StatusAlive, 1)
	mustCreateCharacter(t, s, "m1", "Boromir", domain.StatusDead, 1)
	mustCreateCharacter(t, s, "m1", "Gollum", domain.StatusUnknown, 1)

	c, err := s.Census(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if c.TotalCharacters != 3 || c.ActiveCount != 1 || c.InactiveCount != 2 {
		t.Errorf("census = %+v, want total 3 active 1 inactive 2", c)
	}
}
