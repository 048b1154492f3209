// Package validator sequences one validation request: extract candidate
// facts from scene text, resolve identities, run the consistency rules,
// consult the adjudicator for ambiguous contradictions, and persist the
// accepted state changes. Rejected changes are skipped, never compensated.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/example/continuity/internal/domain"
	"github.com/example/continuity/internal/extractor"
	"github.com/example/continuity/internal/oracle"
	"github.com/example/continuity/internal/resolver"
	"github.com/example/continuity/internal/rules"
	"github.com/example/continuity/internal/store"
)

// Orchestrator is the per-request validation entry point.
type Orchestrator struct {
	store   *store.Store
	extract extractor.Extractor
	oracle  oracle.Adjudicator

	// memory is the rolling active-character window per manuscript. It
	// carries names across requests within the process, including names
	// that were flagged rather than persisted, so extraction sees them
	// on the very next scene.
	mu     sync.Mutex
	memory map[string][]string
}

// New wires the orchestrator. adjudicator may be nil, in which case every
// ambiguous contradiction receives the conservative fallback verdict.
func New(st *store.Store, ext extractor.Extractor, adjudicator oracle.Adjudicator) *Orchestrator {
	return &Orchestrator{
		store:   st,
		extract: ext,
		oracle:  adjudicator,
		memory:  make(map[string][]string),
	}
}

// activeCharacters returns the extraction memory window, seeding it from
// the graph on the first request for a manuscript.
func (o *Orchestrator) activeCharacters(ctx context.Context, manuscriptID string) ([]string, error) {
	o.mu.Lock()
	window, ok := o.memory[manuscriptID]
	o.mu.Unlock()
	if ok {
		return window, nil
	}
	return o.store.RecentCharacterNames(ctx, manuscriptID, extractor.MemoryWindow)
}

// remember folds newly extracted names into the manuscript's window.
func (o *Orchestrator) remember(manuscriptID string, window []string, ext *extractor.Extraction) {
	o.mu.Lock()
	o.memory[manuscriptID] = extractor.MergeMemory(window, ext)
	o.mu.Unlock()
}

// pendingContradiction is a dead→alive assertion awaiting adjudication.
// The oracle call happens after the graph transaction closed, so no lock
// is held across the network round-trip.
type pendingContradiction struct {
	slot   int
	entity domain.Entity
}

// Validate checks one text unit against the story graph and returns the
// alert list in extraction order.
func (o *Orchestrator) Validate(ctx context.Context, manuscriptID string, chapter int, text string) (*domain.Report, error) {
	memory, err := o.activeCharacters(ctx, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("load active characters: %w", err)
	}

	ext, err := o.extract.Extract(ctx, text, memory)
	if err != nil {
		// A malformed scene must not block the rest of the chapter:
		// degrade to an empty candidate set and keep going.
		log.Printf("warning: extraction failed, validating empty candidate set: %v", err)
		ext = &extractor.Extraction{}
	}
	o.remember(manuscriptID, memory, ext)

	known, err := o.store.EntityNames(ctx, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("load entity names: %w", err)
	}

	charAlerts := make([]*domain.Alert, len(ext.Characters))
	var pending []pendingContradiction
	var relAlerts []domain.Alert

	err = o.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.EnsureManuscript(ctx, manuscriptID, ""); err != nil {
			return err
		}
		scene, err := tx.CreateScene(ctx, manuscriptID, chapter)
		if err != nil {
			return err
		}

		for i, char := range ext.Characters {
			if !char.Present() {
				continue
			}

			match := resolver.Resolve(char.Name, known)
			var current *domain.Entity
			if match.Kind == resolver.MatchExact {
				current, err = tx.EntityByName(ctx, manuscriptID, match.Canonical)
				if err != nil {
					return err
				}
			}

			decision := rules.EvaluateStatus(char.Name, match, current, domain.ParseStatus(char.Status))
			if decision.Alert != nil {
				charAlerts[i] = decision.Alert
				continue
			}

			switch decision.Action {
			case rules.ActionTouch, rules.ActionRecordAlive, rules.ActionRecordDeath:
				if err := tx.TouchEntity(ctx, current.ID, chapter, char.Archetype, char.Goal, ""); err != nil {
					return err
				}
				if err := tx.RecordAppearance(ctx, current.ID, scene.ID); err != nil {
					return err
				}
				switch decision.Action {
				case rules.ActionRecordAlive:
					if err := tx.SetStatus(ctx, current.ID, domain.StatusAlive); err != nil {
						return err
					}
				case rules.ActionRecordDeath:
					if err := tx.SetStatus(ctx, current.ID, domain.StatusDead); err != nil {
						return err
					}
				}

			case rules.ActionAdjudicate:
				// No persistence now; the stored status stays dead
				// whatever the verdict turns out to be.
				pending = append(pending, pendingContradiction{slot: i, entity: *current})
			}
		}

		for _, loc := range ext.Locations {
			if err := o.mergeLocation(ctx, tx, manuscriptID, scene, loc, chapter); err != nil {
				return err
			}
		}

		for _, rel := range ext.Relationships {
			alert, err := o.applyRelationship(ctx, tx, manuscriptID, scene.ID, rel, chapter)
			if err != nil {
				return err
			}
			if alert != nil {
				relAlerts = append(relAlerts, *alert)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply graph changes: %w", err)
	}

	for _, p := range pending {
		verdict := o.adjudicate(ctx, oracle.Contradiction{
			Description:  fmt.Sprintf("%s is asserted alive in chapter %d but the story graph records them as dead.", p.entity.Name, chapter),
			SceneText:    text,
			PriorContext: fmt.Sprintf("%s died previously (last seen chapter %d).", p.entity.Name, p.entity.LastSeenChapter),
		})
		charAlerts[p.slot] = verdictAlert(verdict)
	}

	knowledgeAlerts, err := o.checkKnowledge(ctx, manuscriptID, ext.FactRefs, chapter)
	if err != nil {
		return nil, err
	}

	// Assemble in extraction order: characters, then relationships, then
	// knowledge references.
	var alerts []domain.Alert
	for _, a := range charAlerts {
		if a != nil {
			alerts = append(alerts, *a)
		}
	}
	alerts = append(alerts, relAlerts...)
	alerts = append(alerts, knowledgeAlerts...)

	return domain.NewReport(alerts), nil
}

// mergeLocation records a setting. Locations are scenery rather than
// agents, so unknown ones are created instead of flagged.
func (o *Orchestrator) mergeLocation(ctx context.Context, tx *store.Tx, manuscriptID string, scene *domain.Scene, loc extractor.LocationFact, chapter int) error {
	entity, err := tx.EntityByName(ctx, manuscriptID, loc.Name)
	if errors.Is(err, store.ErrNotFound) {
		entity, err = tx.CreateEntity(ctx, &domain.Entity{
			ManuscriptID:    manuscriptID,
			Name:            loc.Name,
			Kind:            domain.KindLocation,
			Status:          domain.StatusUnknown,
			Atmosphere:      loc.Atmosphere,
			LastSeenChapter: chapter,
		})
	}
	if err != nil {
		return err
	}

	if err := tx.TouchEntity(ctx, entity.ID, chapter, "", "", loc.Atmosphere); err != nil {
		return err
	}
	return tx.RecordAppearance(ctx, entity.ID, scene.ID)
}

// applyRelationship evaluates one extracted relationship against the
// transition table inside the open transaction. A disallowed transition
// leaves the edge unmodified and returns the violation alert.
func (o *Orchestrator) applyRelationship(ctx context.Context, tx *store.Tx, manuscriptID, sceneID string, rel extractor.RelationshipFact, chapter int) (*domain.Alert, error) {
	newType := rules.NormalizeType(rel.Type)
	if !rules.ValidType(newType) {
		log.Printf("warning: skipping relationship with unusable type %q", rel.Type)
		return nil, nil
	}

	source, err := tx.EntityByName(ctx, manuscriptID, rel.Source)
	if errors.Is(err, store.ErrNotFound) {
		// Unresolved endpoints were already flagged in the character
		// pass; there is no edge state to check against.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	target, err := tx.EntityByName(ctx, manuscriptID, rel.Target)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	oldType := ""
	edge, err := tx.CurrentRelationship(ctx, source.ID, target.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if edge != nil {
		oldType = edge.Type
	}

	if oldType != "" && oldType != newType {
		if requiredEvent, restricted := rules.RequiredBridge(oldType, newType); restricted {
			bridged, err := tx.HasBridgingEvent(ctx, manuscriptID, source.ID, target.ID, requiredEvent, edge.UpdatedChapter, chapter)
			if err != nil {
				return nil, err
			}
			if !bridged {
				alert := rules.TransitionAlert(source.Name, target.Name, oldType, newType, requiredEvent, chapter)
				return &alert, nil
			}
		}
	}

	if err := tx.MergeRelationship(ctx, source.ID, target.ID, oldType, newType, rel.Context, sceneID, chapter); err != nil {
		return nil, err
	}
	return nil, nil
}

// checkKnowledge verifies KNOWS edges for every fact reference. These are
// advisory reads; nothing is persisted either way.
func (o *Orchestrator) checkKnowledge(ctx context.Context, manuscriptID string, refs []extractor.FactReference, chapter int) ([]domain.Alert, error) {
	var alerts []domain.Alert
	for _, ref := range refs {
		entity, err := o.store.EntityByName(ctx, manuscriptID, ref.Character)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		fact, err := o.store.FactByLabel(ctx, manuscriptID, ref.Fact)
		if errors.Is(err, store.ErrNotFound) {
			// No such fact means no KNOWS edge either.
			alert := rules.KnowledgeAlert(entity.Name, ref.Fact, chapter)
			alerts = append(alerts, alert)
			continue
		}
		if err != nil {
			return nil, err
		}

		knows, err := o.store.HasKnowledge(ctx, entity.ID, fact.ID)
		if err != nil {
			return nil, err
		}
		if !knows {
			alert := rules.KnowledgeAlert(entity.Name, fact.Label, chapter)
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

// adjudicate consults the oracle, substituting the conservative fallback
// on any failure: a missed continuity error is worse than over-flagging.
func (o *Orchestrator) adjudicate(ctx context.Context, c oracle.Contradiction) *oracle.Verdict {
	if o.oracle == nil {
		return oracle.Fallback(c)
	}
	verdict, err := o.oracle.Adjudicate(ctx, c)
	if err != nil {
		log.Printf("warning: adjudicator unavailable, using conservative fallback: %v", err)
		return oracle.Fallback(c)
	}
	return verdict
}

func verdictAlert(v *oracle.Verdict) *domain.Alert {
	alertType := domain.AlertCriticalError
	if v.Kind == oracle.VerdictIntentional {
		alertType = domain.AlertNarrativeDevice
	}
	return &domain.Alert{
		Type:       alertType,
		Message:    v.Analysis,
		Suggestion: v.FixSuggestion,
		Confidence: v.Confidence,
	}
}
