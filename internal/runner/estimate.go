package runner

import (
	"context"
	"strings"

	"soundbite/internal/budget"
	"soundbite/internal/services"
	"soundbite/internal/store"
)

// DiscoveryEstimate previews the allocation plan a run would receive right
// now, without reserving anything.
type DiscoveryEstimate struct {
	Period       string              `json:"period"`
	Remaining    int64               `json:"remaining"`
	TotalCalls   int64               `json:"total_calls"`
	FullyHonored bool                `json:"fully_honored"`
	Allocations  []budget.Allocation `json:"allocations"`
	NotSearched  []string            `json:"not_searched,omitempty"`
}

// EstimateDiscovery plans the discovery budget as a preview, reserving
// nothing. Explicit terms override the episode's stored keywords; they are
// planned at uniform weight in the order given.
func (r *Runner) EstimateDiscovery(ctx context.Context, episodeID int64, terms []string, targetResults int64) (*DiscoveryEstimate, error) {
	var keywords []store.Keyword
	if len(terms) > 0 {
		keywords = make([]store.Keyword, 0, len(terms))
		for i, term := range terms {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			keywords = append(keywords, store.Keyword{
				EpisodeID: episodeID,
				Term:      term,
				Weight:    1,
				Enabled:   true,
				Position:  i,
			})
		}
	} else {
		var err error
		keywords, err = r.store.Keywords(ctx, episodeID, true)
		if err != nil {
			return nil, err
		}
	}
	if len(keywords) == 0 {
		return nil, services.Wrap(services.ErrValidation, "runner", "estimate discovery",
			"episode has no enabled keywords", nil)
	}

	snapshot, err := r.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	plan := r.planner.Plan(keywords, targetResults, snapshot)
	return &DiscoveryEstimate{
		Period:       snapshot.Period,
		Remaining:    snapshot.Remaining(),
		TotalCalls:   plan.TotalCalls,
		FullyHonored: plan.FullyHonored,
		Allocations:  plan.Allocations,
		NotSearched:  plan.NotSearched,
	}, nil
}
