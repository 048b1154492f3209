// Package resolver matches extracted names against the known entities of
// a manuscript. Resolution is a pure function over a snapshot of names:
// it never creates entities and never silently corrects a candidate.
package resolver

import "github.com/example/continuity/internal/domain"

// FuzzyThreshold is the minimum similarity for a typo suggestion.
const FuzzyThreshold = 0.8

// MatchKind says how (or whether) a candidate name resolved.
type MatchKind int

const (
	// MatchNone means no known name is close enough; likely a new entity.
	MatchNone MatchKind = iota
	// MatchExact is a case-insensitive exact match.
	MatchExact
	// MatchFuzzy is an approximate match above FuzzyThreshold; the
	// canonical name is a suggestion, not a correction.
	MatchFuzzy
)

// Match is the result of resolving one candidate name.
type Match struct {
	Kind      MatchKind
	Canonical string
	Score     float64
}

// Resolve matches candidate against known names. Exact case-insensitive
// matches win; otherwise the most similar known name is suggested if its
// similarity reaches FuzzyThreshold. A single edit on a short name (Rob
// for Bob) never reaches 0.8 by ratio alone, so distance 1 qualifies on
// its own for names of three runes or more.
func Resolve(candidate string, known []string) Match {
	norm := domain.NormalizeName(candidate)
	if norm == "" {
		return Match{Kind: MatchNone}
	}

	best := Match{Kind: MatchNone}
	bestQualifies := false
	for _, name := range known {
		other := domain.NormalizeName(name)
		if other == norm {
			return Match{Kind: MatchExact, Canonical: name, Score: 1}
		}

		ra, rb := []rune(norm), []rune(other)
		longest := max(len(ra), len(rb))
		dist := levenshtein(ra, rb)
		score := 1 - float64(dist)/float64(longest)
		if score > best.Score {
			best = Match{Kind: MatchFuzzy, Canonical: name, Score: score}
			bestQualifies = score >= FuzzyThreshold || (dist == 1 && longest >= 3)
		}
	}

	if bestQualifies {
		return best
	}
	return Match{Kind: MatchNone}
}

// levenshtein computes edit distance with a single rolling row. The
// match score is the normalized ratio 1 - dist/max(len).
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		current := prev[0]
		prev[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			next := min(prev[j]+1, prev[j-1]+1, current+cost)
			current = prev[j]
			prev[j] = next
		}
	}
	return prev[len(b)]
}
