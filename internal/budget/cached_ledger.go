package budget

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const snapshotCacheKey = "usage-snapshot"

// CachedLedger wraps a Ledger and serves Snapshot from a short-lived cache,
// so status endpoints and estimate previews do not hammer a remote ledger.
// Mutating calls pass through and drop the cached snapshot.
type CachedLedger struct {
	inner Ledger
	cache *gocache.Cache
}

// NewCachedLedger wraps inner with a snapshot cache of the given TTL.
func NewCachedLedger(inner Ledger, ttl time.Duration) *CachedLedger {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &CachedLedger{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (l *CachedLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	if cached, ok := l.cache.Get(snapshotCacheKey); ok {
		return cached.(Snapshot), nil
	}
	snapshot, err := l.inner.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	l.cache.SetDefault(snapshotCacheKey, snapshot)
	return snapshot, nil
}

func (l *CachedLedger) Reserve(ctx context.Context, calls int64) error {
	l.cache.Delete(snapshotCacheKey)
	return l.inner.Reserve(ctx, calls)
}

func (l *CachedLedger) Record(ctx context.Context, calls int64) error {
	l.cache.Delete(snapshotCacheKey)
	return l.inner.Record(ctx, calls)
}

func (l *CachedLedger) Release(ctx context.Context, calls int64) error {
	l.cache.Delete(snapshotCacheKey)
	return l.inner.Release(ctx, calls)
}
