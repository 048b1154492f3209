// Package oracle adjudicates ambiguous continuity contradictions: cases
// where the graph says one thing and the scene may justify it as a
// narrative device (flashback, dream, vision). The oracle is an
// unreliable network collaborator; callers must substitute Fallback()
// on any error, never drop the contradiction.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// VerdictKind is the closed set of oracle classifications.
type VerdictKind string

const (
	VerdictIntentional VerdictKind = "INTENTIONAL"
	VerdictError       VerdictKind = "ERROR"
)

// Verdict is the oracle's judgment of one contradiction.
type Verdict struct {
	Kind          VerdictKind `json:"verdict"`
	Confidence    float64     `json:"confidence"`
	Analysis      string      `json:"detailed_analysis"`
	FixSuggestion string      `json:"fix_suggestion,omitempty"`
}

// Contradiction describes a conflict between the graph and a scene.
type Contradiction struct {
	Description  string // e.g. "Hero is asserted alive but died previously"
	SceneText    string // the text under validation
	PriorContext string // relevant stored state, e.g. "Hero died in chapter 2"
}

// Adjudicator classifies contradictions as intentional devices or errors.
type Adjudicator interface {
	Adjudicate(ctx context.Context, c Contradiction) (*Verdict, error)
}

// Fallback is the conservative default applied when the oracle is
// unavailable or returns garbage: a missed error is strictly worse than
// over-flagging, so the contradiction stands as an error.
func Fallback(c Contradiction) *Verdict {
	return &Verdict{
		Kind:          VerdictError,
		Confidence:    1.0,
		Analysis:      c.Description,
		FixSuggestion: "Review this passage against the story's established state.",
	}
}

// ParseVerdict decodes an oracle payload. The verdict field must be one
// of the known kinds and confidence must land in [0,1]; anything else is
// a parse error routed to the fallback path, never a partial read.
func ParseVerdict(raw string) (*Verdict, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}

	v.Kind = VerdictKind(strings.ToUpper(strings.TrimSpace(string(v.Kind))))
	switch v.Kind {
	case VerdictIntentional, VerdictError:
	default:
		return nil, fmt.Errorf("unknown verdict %q", v.Kind)
	}

	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", v.Confidence)
	}

	return &v, nil
}
