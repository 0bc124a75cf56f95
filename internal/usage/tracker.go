// Package usage tracks per-owner monthly conversion counts: atomic durable
// increments with a best-effort cache on the read path.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"epub-converter-service/internal/cache"
	"epub-converter-service/internal/entity"
)

// Store is the durable counter. Increment must be a single atomic round trip
// that consumes nothing when the owner is already at limit; the Postgres
// implementation uses a conditional upsert. limit <= 0 means unlimited.
type Store interface {
	Increment(ctx context.Context, ownerID string, period time.Time, limit int64) (count int64, allowed bool, err error)
	Get(ctx context.Context, ownerID string, period time.Time) (int64, error)
}

// LimitResolver maps an owner to their monthly quota. Limit 0 means
// unlimited. Entitlements live outside this service; the config-backed
// resolver stands in for them.
type LimitResolver interface {
	Limit(ownerID string) int64
}

type Tracker struct {
	store  Store
	cache  cache.Client
	ttl    time.Duration
	limits LimitResolver
	log    zerolog.Logger
	now    func() time.Time
}

func NewTracker(store Store, c cache.Client, ttl time.Duration, limits LimitResolver, log zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tracker{
		store:  store,
		cache:  c,
		ttl:    ttl,
		limits: limits,
		log:    log.With().Str("component", "usage").Logger(),
		now:    time.Now,
	}
}

// PeriodStart returns the canonical billing period identifier: the first day
// of t's month in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func periodKey(t time.Time) string {
	return PeriodStart(t).Format("2006-01")
}

func cacheKey(ownerID string, period time.Time) string {
	return fmt.Sprintf("usage:%s:%s", ownerID, periodKey(period))
}

// Increment consumes one unit of the owner's quota for the current period,
// or reports allowed=false without consuming anything when the owner is at
// their limit. The cache write is best-effort: it never blocks or fails the
// durable increment.
func (t *Tracker) Increment(ctx context.Context, ownerID string) (int64, bool, error) {
	period := PeriodStart(t.now())

	count, allowed, err := t.store.Increment(ctx, ownerID, period, t.limits.Limit(ownerID))
	if err != nil {
		return 0, false, fmt.Errorf("usage increment: %w", err)
	}
	if !allowed {
		return count, false, nil
	}

	t.writeCache(ctx, ownerID, period, count)
	return count, true, nil
}

// Get reads the cache first and degrades transparently to the durable store
// on a miss or a cache outage; cache trouble never surfaces to the caller.
func (t *Tracker) Get(ctx context.Context, ownerID string) (entity.UsageSnapshot, error) {
	period := PeriodStart(t.now())

	count, ok := t.readCache(ctx, ownerID, period)
	if !ok {
		var err error
		count, err = t.store.Get(ctx, ownerID, period)
		if err != nil {
			return entity.UsageSnapshot{}, fmt.Errorf("usage get: %w", err)
		}
		t.writeCache(ctx, ownerID, period, count)
	}

	limit := t.limits.Limit(ownerID)
	remaining := int64(0)
	if limit > 0 {
		remaining = limit - count
		if remaining < 0 {
			remaining = 0
		}
	}

	return entity.UsageSnapshot{
		OwnerID:   ownerID,
		Period:    periodKey(period),
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
	}, nil
}

func (t *Tracker) readCache(ctx context.Context, ownerID string, period time.Time) (int64, bool) {
	data, err := t.cache.Get(ctx, cacheKey(ownerID, period))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			t.log.Warn().Err(err).Str("owner_id", ownerID).Msg("usage cache read failed")
		}
		return 0, false
	}
	count, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false
	}
	return count, true
}

func (t *Tracker) writeCache(ctx context.Context, ownerID string, period time.Time, count int64) {
	data := []byte(strconv.FormatInt(count, 10))
	if err := t.cache.Set(ctx, cacheKey(ownerID, period), data, t.ttl); err != nil {
		t.log.Warn().Err(err).Str("owner_id", ownerID).Msg("usage cache write failed")
	}
}
