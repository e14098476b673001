package budget_test

import (
	"context"
	"errors"
	"testing"

	"soundbite/internal/budget"
	"soundbite/internal/services"
	"soundbite/internal/store"
	"soundbite/internal/testsupport"
)

func keywords(specs ...store.Keyword) []store.Keyword {
	return specs
}

func TestPlanOrdersByWeightThenPosition(t *testing.T) {
	planner := budget.NewPlanner(0.8, 3, 100)
	plan := planner.Plan(keywords(
		store.Keyword{Term: "late-heavy", Weight: 0.9, Position: 5},
		store.Keyword{Term: "early-light", Weight: 0.3, Position: 0},
		store.Keyword{Term: "early-heavy", Weight: 0.9, Position: 1},
	), 300, budget.Snapshot{Limit: 1000, Used: 0})

	var got []string
	for _, alloc := range plan.Allocations {
		got = append(got, alloc.Term)
	}
	want := []string{"early-heavy", "late-heavy", "early-light"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("allocation order: got %v want %v", got, want)
		}
	}
	if !plan.FullyHonored {
		t.Fatal("ample quota must honor every keyword")
	}
	if len(plan.NotSearched) != 0 {
		t.Fatalf("expected no starved keywords, got %v", plan.NotSearched)
	}
}

func TestPlanNeverSilentlyDropsKeywords(t *testing.T) {
	planner := budget.NewPlanner(0.5, 3, 100)
	// Remaining 10, safe share 5: two keywords want 3 calls each, so the
	// third gets nothing but must still be reported.
	plan := planner.Plan(keywords(
		store.Keyword{Term: "a", Weight: 0.9, Position: 0},
		store.Keyword{Term: "b", Weight: 0.8, Position: 1},
		store.Keyword{Term: "c", Weight: 0.7, Position: 2},
	), 300, budget.Snapshot{Limit: 100, Used: 90})

	if len(plan.Allocations) != 3 {
		t.Fatalf("every keyword must appear in the plan, got %d", len(plan.Allocations))
	}
	if plan.FullyHonored {
		t.Fatal("starved plan must not report fully honored")
	}
	if plan.TotalCalls != 5 {
		t.Fatalf("expected 5 total calls, got %d", plan.TotalCalls)
	}
	if len(plan.NotSearched) != 1 || plan.NotSearched[0] != "c" {
		t.Fatalf("expected c reported not searched, got %v", plan.NotSearched)
	}
}

func TestPlanNeverCommitsFullRemainingQuota(t *testing.T) {
	planner := budget.NewPlanner(0.8, 10, 10)
	plan := planner.Plan(keywords(
		store.Keyword{Term: "greedy", Weight: 1, Position: 0},
	), 10_000, budget.Snapshot{Limit: 10, Used: 0})

	if plan.TotalCalls >= 10 {
		t.Fatalf("plan must leave headroom, committed %d of 10", plan.TotalCalls)
	}
}

func TestPlanBudgetMonotonicity(t *testing.T) {
	planner := budget.NewPlanner(0.8, 5, 100)
	kws := keywords(
		store.Keyword{Term: "a", Weight: 0.9, Position: 0},
		store.Keyword{Term: "b", Weight: 0.5, Position: 1},
		store.Keyword{Term: "c", Weight: 0.1, Position: 2},
	)

	var previous int64 = -1
	for used := int64(0); used <= 100; used += 5 {
		plan := planner.Plan(kws, 500, budget.Snapshot{Limit: 100, Used: used})
		remaining := budget.Snapshot{Limit: 100, Used: used}.Remaining()
		if plan.TotalCalls > remaining {
			t.Fatalf("plan exceeds remaining quota: %d > %d at used=%d", plan.TotalCalls, remaining, used)
		}
		if previous >= 0 && plan.TotalCalls > previous {
			t.Fatalf("total calls must not grow as quota shrinks: %d after %d at used=%d", plan.TotalCalls, previous, used)
		}
		previous = plan.TotalCalls
	}
}

func TestPlanExhaustedQuota(t *testing.T) {
	planner := budget.NewPlanner(0.8, 3, 100)
	plan := planner.Plan(keywords(
		store.Keyword{Term: "a", Weight: 0.9, Position: 0},
	), 100, budget.Snapshot{Limit: 100, Used: 100})

	if plan.TotalCalls != 0 {
		t.Fatalf("exhausted quota must grant nothing, got %d", plan.TotalCalls)
	}
	if len(plan.NotSearched) != 1 {
		t.Fatalf("starved keyword must be reported, got %v", plan.NotSearched)
	}
}

func TestStoreLedgerReserveMapsQuotaToBudgetError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ledger := budget.NewStoreLedger(st, 10)

	ctx := context.Background()
	if err := ledger.Reserve(ctx, 8); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	err := ledger.Reserve(ctx, 5)
	if !errors.Is(err, services.ErrBudget) {
		t.Fatalf("expected budget error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("budget exhaustion must not be retryable")
	}

	snapshot, err := ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snapshot.Used != 8 || snapshot.Remaining() != 2 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	if err := ledger.Release(ctx, 3); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	snapshot, err = ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snapshot.Used != 5 {
		t.Fatalf("expected 5 used after release, got %d", snapshot.Used)
	}
}

func TestCachedLedgerServesSnapshotFromCache(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ledger := budget.NewCachedLedger(budget.NewStoreLedger(st, 100), 0)

	ctx := context.Background()
	first, err := ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// Writing behind the cache's back is not visible until invalidation.
	if err := st.RecordUsage(ctx, first.Period, 7); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	cached, err := ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("cached Snapshot failed: %v", err)
	}
	if cached.Used != first.Used {
		t.Fatalf("expected cached snapshot, got %+v", cached)
	}

	if err := ledger.Reserve(ctx, 1); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	fresh, err := ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("fresh Snapshot failed: %v", err)
	}
	if fresh.Used != 8 {
		t.Fatalf("expected invalidated snapshot to see 8 used, got %d", fresh.Used)
	}
}
