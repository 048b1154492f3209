package domain

import (
	"strings"
	"time"
)

// EntityKind distinguishes the two tracked entity categories.
type EntityKind string

const (
	KindCharacter EntityKind = "character"
	KindLocation  EntityKind = "location"
)

// Status is the life state of a character in the story graph.
type Status string

const (
	StatusAlive   Status = "alive"
	StatusDead    Status = "dead"
	StatusUnknown Status = "unknown"
)

// ParseStatus maps free-form status text to a valid Status, defaulting to unknown.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusAlive:
		return StatusAlive
	case StatusDead:
		return StatusDead
	default:
		return StatusUnknown
	}
}

// NormalizeName lowercases and trims a name for case-insensitive identity.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Manuscript is the root container for one story's graph.
type Manuscript struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Scene is one ingested text unit; scenes are append-only.
type Scene struct {
	ID           string    `json:"id"`
	ManuscriptID string    `json:"manuscript_id"`
	Chapter      int       `json:"chapter"`
	CreatedAt    time.Time `json:"created_at"`
}

// Entity is a character or location, unique per manuscript by
// case-insensitive name. Entities are never deleted.
type Entity struct {
	ID               string     `json:"id"`
	ManuscriptID     string     `json:"manuscript_id"`
	Name             string     `json:"name"`
	Kind             EntityKind `json:"kind"`
	Status           Status     `json:"status"`
	Archetype        string     `json:"archetype,omitempty"`
	Goal             string     `json:"goal,omitempty"`
	Atmosphere       string     `json:"atmosphere,omitempty"`
	FirstSeenChapter int        `json:"first_seen_chapter"`
	LastSeenChapter  int        `json:"last_seen_chapter"`
}

// Fact is a piece of world knowledge a character may or may not possess.
type Fact struct {
	ID           string    `json:"id"`
	ManuscriptID string    `json:"manuscript_id"`
	Label        string    `json:"label"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Relationship is a typed directed edge between two entities. A
// (source, target) pair holds one current edge whose attributes are
// overwritten on allowed updates.
type Relationship struct {
	Source         string `json:"source"`
	Target         string `json:"target"`
	Type           string `json:"type"`
	Context        string `json:"context,omitempty"`
	Strength       string `json:"strength,omitempty"`
	LastSeenIn     string `json:"last_seen_in,omitempty"`
	UpdatedChapter int    `json:"updated_chapter"`
}

// Event is a narrative occurrence that can justify restricted
// relationship transitions (a bridging event).
type Event struct {
	ID           string    `json:"id"`
	ManuscriptID string    `json:"manuscript_id"`
	Type         string    `json:"type"`
	Chapter      int       `json:"chapter"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Appearance marks an entity's presence in a scene.
type Appearance struct {
	SceneID   string    `json:"scene_id"`
	Chapter   int       `json:"chapter"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertType classifies a continuity alert.
type AlertType string

const (
	AlertUnknownCharacter      AlertType = "UnknownCharacter"
	AlertTypoSuspected         AlertType = "TypoSuspected"
	AlertNarrativeDevice       AlertType = "NarrativeDevice"
	AlertCriticalError         AlertType = "CriticalError"
	AlertRelationshipViolation AlertType = "RelationshipViolation"
	AlertKnowledgeLeak         AlertType = "KnowledgeLeak"
)

// Alert is one continuity finding. Alerts are advisory: the validator
// never mutates graph state to resolve one.
type Alert struct {
	Type       AlertType `json:"type"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	Confidence float64   `json:"ai_confidence"`
}

// Report statuses for a validation request.
const (
	ReportValid     = "valid"
	ReportViolation = "violation"
)

// Report is the outcome of validating one text unit. Alerts keep
// extraction order so each finding traces back to its source position.
type Report struct {
	Status string  `json:"status"`
	Alerts []Alert `json:"alerts"`
}

// NewReport builds a report from accumulated alerts.
func NewReport(alerts []Alert) *Report {
	status := ReportValid
	if len(alerts) > 0 {
		status = ReportViolation
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return &Report{Status: status, Alerts: alerts}
}
