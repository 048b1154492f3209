// Package analytics produces read-only aggregate views of the story
// graph. All queries are advisory snapshot reads.
package analytics

import (
	"context"

	"github.com/example/continuity/internal/store"
)

// Dormancy policy: an alive character unmentioned for DefaultMinGap
// chapters relative to the latest ingested chapter is at risk of being
// forgotten; reports carry at most DefaultTopN of them.
const (
	DefaultMinGap = 3
	DefaultTopN   = 5
)

// Reporter answers aggregate queries over one graph store.
type Reporter struct {
	store  *store.Store
	MinGap int
	TopN   int
}

// New creates a Reporter with the default dormancy policy.
func New(st *store.Store) *Reporter {
	return &Reporter{store: st, MinGap: DefaultMinGap, TopN: DefaultTopN}
}

// Summary is the population census plus the dormancy report.
type Summary struct {
	TotalCharacters   int                      `json:"total_characters"`
	ActiveCount       int                      `json:"active_count"`
	InactiveCount     int                      `json:"inactive_count"`
	DormantCharacters []store.DormantCharacter `json:"dormant_characters"`
}

// Summary computes the census and dormancy report for a manuscript.
func (r *Reporter) Summary(ctx context.Context, manuscriptID string) (*Summary, error) {
	census, err := r.store.Census(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}

	dormant, err := r.Dormant(ctx, manuscriptID, r.TopN)
	if err != nil {
		return nil, err
	}

	return &Summary{
		TotalCharacters:   census.TotalCharacters,
		ActiveCount:       census.ActiveCount,
		InactiveCount:     census.InactiveCount,
		DormantCharacters: dormant,
	}, nil
}

// Dormant lists at-risk characters ranked by descending chapter gap.
func (r *Reporter) Dormant(ctx context.Context, manuscriptID string, topN int) ([]store.DormantCharacter, error) {
	if topN <= 0 {
		topN = r.TopN
	}
	dormant, err := r.store.DormantCharacters(ctx, manuscriptID, r.MinGap, topN)
	if err != nil {
		return nil, err
	}
	if dormant == nil {
		dormant = []store.DormantCharacter{}
	}
	return dormant, nil
}
