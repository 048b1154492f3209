// Package rules is the deterministic core of continuity checking: the
// character status state machine and the relationship transition table.
// Decisions are pure; persistence and oracle calls stay with the caller.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/example/continuity/internal/domain"
	"github.com/example/continuity/internal/resolver"
)

// StatusAction says what the orchestrator should do for a character fact.
type StatusAction int

const (
	// ActionNone means nothing is persisted for this candidate.
	ActionNone StatusAction = iota
	// ActionTouch records the appearance and advances last_seen_chapter.
	ActionTouch
	// ActionRecordAlive records the appearance and persists status alive.
	ActionRecordAlive
	// ActionRecordDeath records the appearance and persists status dead.
	ActionRecordDeath
	// ActionAdjudicate delegates an ambiguous contradiction to the oracle.
	ActionAdjudicate
)

// StatusDecision is the outcome of one character status evaluation.
type StatusDecision struct {
	Action StatusAction
	Alert  *domain.Alert
}

// EvaluateStatus runs the status state machine for one extracted
// character against the current graph state. current is nil unless the
// match is exact. A dead→alive assertion is never accepted here; it is
// delegated so the adjudication step decides whether it is a narrative
// device, and even then the stored status is left untouched.
func EvaluateStatus(name string, match resolver.Match, current *domain.Entity, asserted domain.Status) StatusDecision {
	switch match.Kind {
	case resolver.MatchNone:
		return StatusDecision{Alert: &domain.Alert{
			Type:       domain.AlertUnknownCharacter,
			Message:    fmt.Sprintf("%q appears in the text but is not in the story graph.", name),
			Suggestion: "If this is a new character, add them; if it is a typo of an existing character, fix the name.",
			Confidence: 1.0,
		}}

	case resolver.MatchFuzzy:
		return StatusDecision{Alert: &domain.Alert{
			Type:       domain.AlertTypoSuspected,
			Message:    fmt.Sprintf("%q is not known, but closely resembles %q.", name, match.Canonical),
			Suggestion: fmt.Sprintf("Did you mean %q?", match.Canonical),
			Confidence: match.Score,
		}}
	}

	switch asserted {
	case domain.StatusAlive:
		if current.Status == domain.StatusDead {
			return StatusDecision{Action: ActionAdjudicate}
		}
		// Every validated alive appearance re-asserts the status, so a
		// character first seeded as unknown becomes alive here.
		return StatusDecision{Action: ActionRecordAlive}

	case domain.StatusDead:
		if current.Status == domain.StatusDead {
			return StatusDecision{Action: ActionTouch}
		}
		return StatusDecision{Action: ActionRecordDeath}

	default:
		return StatusDecision{Action: ActionTouch}
	}
}

// Bridging event types.
const (
	EventReconciliation = "RECONCILIATION"
	EventBetrayal       = "BETRAYAL"
)

// transitions maps restricted (from, to) relationship type pairs to the
// event type that must bridge them. Pairs not listed are unrestricted:
// relationship types are free-form verbs, only these flips need a
// justifying occurrence.
var transitions = map[[2]string]string{
	{"ENEMY", "ALLY"}:   EventReconciliation,
	{"ENEMY", "FRIEND"}: EventReconciliation,
	{"ALLY", "ENEMY"}:   EventBetrayal,
	{"FRIEND", "ENEMY"}: EventBetrayal,
}

// RequiredBridge reports the event type needed to move an existing edge
// from oldType to newType, if that transition is restricted.
func RequiredBridge(oldType, newType string) (string, bool) {
	event, restricted := transitions[[2]string{oldType, newType}]
	return event, restricted
}

// TransitionAlert builds the violation alert for a rejected transition.
func TransitionAlert(source, target, oldType, newType, requiredEvent string, chapter int) domain.Alert {
	return domain.Alert{
		Type: domain.AlertRelationshipViolation,
		Message: fmt.Sprintf("%s and %s were %s; they cannot become %s in chapter %d without an intervening event.",
			source, target, strings.ToLower(oldType), strings.ToLower(newType), chapter),
		Suggestion: fmt.Sprintf("Add a %s event between them before this chapter, or keep the relationship as %s.",
			strings.ToLower(requiredEvent), strings.ToLower(oldType)),
		Confidence: 1.0,
	}
}

// KnowledgeAlert builds the alert for a character discussing a fact they
// never learned.
func KnowledgeAlert(character, fact string, chapter int) domain.Alert {
	return domain.Alert{
		Type: domain.AlertKnowledgeLeak,
		Message: fmt.Sprintf("%s discusses %q in chapter %d but has not learned it yet.",
			character, fact, chapter),
		Suggestion: fmt.Sprintf("Add a scene where %s learns this before chapter %d, or remove the reference.",
			character, chapter),
		Confidence: 1.0,
	}
}

var relTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// NormalizeType canonicalizes a free-form relationship verb to
// UPPER_SNAKE form.
func NormalizeType(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(strings.TrimSpace(raw)), "_"))
}

// ValidType reports whether a normalized type is safe to store. Anything
// failing this never reaches SQL.
func ValidType(relType string) bool {
	return relTypePattern.MatchString(relType)
}
