package budget

import (
	"context"
	"errors"
	"time"

	"soundbite/internal/services"
	"soundbite/internal/store"
)

// Ledger owns the authoritative usage counters for API quota. Snapshot gives
// planners a read view; Reserve performs the atomic decrement at call time.
type Ledger interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Reserve(ctx context.Context, calls int64) error
	Record(ctx context.Context, calls int64) error
	Release(ctx context.Context, calls int64) error
}

// StoreLedger keeps counters in the local SQLite store. Used in local mode
// and in tests; deployments pointing at a shared ledger use the HTTP client.
type StoreLedger struct {
	store *store.Store
	limit int64
	now   func() time.Time
}

// NewStoreLedger builds a ledger over the local store.
func NewStoreLedger(st *store.Store, periodLimit int) *StoreLedger {
	return &StoreLedger{store: st, limit: int64(periodLimit), now: time.Now}
}

func (l *StoreLedger) period() string {
	return store.UsagePeriod(l.now())
}

// Snapshot reads the current period's counters.
func (l *StoreLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	period := l.period()
	used, err := l.store.UsageForPeriod(ctx, period)
	if err != nil {
		return Snapshot{}, services.Wrap(services.ErrTransient, "budget", "snapshot",
			"failed to read usage counters", err)
	}
	return Snapshot{Period: period, Limit: l.limit, Used: used}, nil
}

// Reserve atomically claims calls against the period limit.
func (l *StoreLedger) Reserve(ctx context.Context, calls int64) error {
	err := l.store.ReserveUsage(ctx, l.period(), calls, l.limit)
	if err == nil {
		return nil
	}
	marker := services.ErrTransient
	if errors.Is(err, store.ErrQuotaExhausted) {
		marker = services.ErrBudget
	}
	return services.Wrap(marker, "budget", "reserve", "usage reservation refused", err)
}

// Record adds consumption reported after the fact, without a limit guard.
func (l *StoreLedger) Record(ctx context.Context, calls int64) error {
	if err := l.store.RecordUsage(ctx, l.period(), calls); err != nil {
		return services.Wrap(services.ErrTransient, "budget", "record",
			"failed to record usage", err)
	}
	return nil
}

// Release returns reserved-but-unused calls to the pool.
func (l *StoreLedger) Release(ctx context.Context, calls int64) error {
	if err := l.store.ReleaseUsage(ctx, l.period(), calls); err != nil {
		return services.Wrap(services.ErrTransient, "budget", "release",
			"failed to release usage", err)
	}
	return nil
}
