// Package extractor turns raw scene text into candidate facts about
// characters, locations, relationships and referenced knowledge. It
// produces candidates only; all validation happens downstream.
package extractor

import "context"

// Presence statuses reported for an extracted character.
const (
	PresenceAlive     = "alive"     // physically present and acting
	PresenceDead      = "dead"      // their body is present in the scene
	PresenceMentioned = "mentioned" // discussed or remembered, not present
)

// MemoryWindow is how many recently seen character names are fed back
// into extraction as context.
const MemoryWindow = 15

// CharacterFact is a character asserted by the scene text.
type CharacterFact struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Archetype string `json:"archetype,omitempty"`
	Goal      string `json:"goal,omitempty"`
}

// Present reports whether the character is asserted to be physically in
// the scene. Mentioned characters are never validated as appearances.
func (c CharacterFact) Present() bool {
	return c.Status != PresenceMentioned
}

// LocationFact is a setting asserted by the scene text.
type LocationFact struct {
	Name       string `json:"name"`
	Atmosphere string `json:"atmosphere,omitempty"`
}

// RelationshipFact is a typed connection between two named characters.
type RelationshipFact struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Type    string `json:"type"`
	Context string `json:"context,omitempty"`
}

// FactReference marks a character discussing a piece of world knowledge.
type FactReference struct {
	Character string `json:"character"`
	Fact      string `json:"fact"`
}

// Extraction is the full candidate set for one text unit. Slice order
// follows the order of assertion in the text.
type Extraction struct {
	Characters    []CharacterFact    `json:"characters"`
	Locations     []LocationFact     `json:"locations"`
	Relationships []RelationshipFact `json:"relationships"`
	FactRefs      []FactReference    `json:"fact_refs"`
}

// Extractor is the external text-analysis collaborator.
type Extractor interface {
	Extract(ctx context.Context, text string, activeCharacters []string) (*Extraction, error)
}

// MergeMemory folds newly extracted names into the rolling active
// character window, keeping the most recent MemoryWindow unique names.
func MergeMemory(memory []string, extracted *Extraction) []string {
	seen := make(map[string]bool, len(memory))
	var merged []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		merged = append(merged, name)
	}
	for _, c := range extracted.Characters {
		add(c.Name)
	}
	for _, name := range memory {
		add(name)
	}
	if len(merged) > MemoryWindow {
		merged = merged[:MemoryWindow]
	}
	return merged
}
