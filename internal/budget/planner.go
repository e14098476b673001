package budget

import (
	"math"
	"sort"

	"soundbite/internal/store"
)

// Snapshot is a point-in-time read of the usage ledger.
type Snapshot struct {
	Period string
	Limit  int64
	Used   int64
}

// Remaining reports the calls still available in the period, never negative.
func (s Snapshot) Remaining() int64 {
	if s.Used >= s.Limit {
		return 0
	}
	return s.Limit - s.Used
}

// Allocation grants one keyword a call cap. A zero cap means the keyword is
// reported, not searched.
type Allocation struct {
	Term    string  `json:"term"`
	Weight  float64 `json:"weight"`
	Desired int64   `json:"desired"`
	Granted int64   `json:"granted"`
}

// Plan is the ordered outcome of one budget round.
type Plan struct {
	Allocations  []Allocation
	TotalCalls   int64
	FullyHonored bool
	NotSearched  []string
}

// Planner turns keyword lists into allocation plans.
type Planner struct {
	safeFraction    float64
	callsPerKeyword int64
	resultsPerCall  int64
}

// NewPlanner builds a planner. safeFraction is clamped to (0, 1): the planner
// never commits the entire remaining quota to a single run.
func NewPlanner(safeFraction float64, callsPerKeyword, resultsPerCall int64) *Planner {
	if safeFraction <= 0 || safeFraction >= 1 {
		safeFraction = 0.8
	}
	if callsPerKeyword <= 0 {
		callsPerKeyword = 3
	}
	if resultsPerCall <= 0 {
		resultsPerCall = 100
	}
	return &Planner{
		safeFraction:    safeFraction,
		callsPerKeyword: callsPerKeyword,
		resultsPerCall:  resultsPerCall,
	}
}

// Plan distributes the safe share of the remaining quota across keywords in
// priority order: descending weight, ties broken by declared position. Every
// keyword appears in the result; those granted nothing are listed in
// NotSearched rather than silently dropped.
func (p *Planner) Plan(keywords []store.Keyword, targetResults int64, snapshot Snapshot) Plan {
	desired := p.desiredCalls(targetResults)

	ordered := make([]store.Keyword, len(keywords))
	copy(ordered, keywords)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Weight != ordered[j].Weight {
			return ordered[i].Weight > ordered[j].Weight
		}
		return ordered[i].Position < ordered[j].Position
	})

	available := int64(math.Floor(p.safeFraction * float64(snapshot.Remaining())))

	plan := Plan{FullyHonored: true}
	for _, kw := range ordered {
		granted := desired
		if granted > available {
			granted = available
		}
		available -= granted
		plan.TotalCalls += granted
		plan.Allocations = append(plan.Allocations, Allocation{
			Term:    kw.Term,
			Weight:  kw.Weight,
			Desired: desired,
			Granted: granted,
		})
		if granted < desired {
			plan.FullyHonored = false
		}
		if granted == 0 {
			plan.NotSearched = append(plan.NotSearched, kw.Term)
		}
	}
	return plan
}

// desiredCalls is the per-keyword call cap needed to reach targetResults,
// bounded by the configured ceiling.
func (p *Planner) desiredCalls(targetResults int64) int64 {
	if targetResults <= 0 {
		return p.callsPerKeyword
	}
	calls := (targetResults + p.resultsPerCall - 1) / p.resultsPerCall
	if calls > p.callsPerKeyword {
		return p.callsPerKeyword
	}
	if calls <= 0 {
		return 1
	}
	return calls
}
