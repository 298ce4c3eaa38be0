package ratelimit

import (
	"context"
	"time"

	"github.com/anchapin/apiguard/internal/store"
)

// FixedWindow buckets time into windows of the configured period and counts
// admissions per window. A fresh window always starts from zero.
//
// Known weakness, kept deliberately: a client can burst up to twice the
// limit across a window boundary. SlidingWindow is the corrected
// alternative; callers that care pick it via configuration.
type FixedWindow struct {
	store  store.Store
	limit  int64
	period time.Duration
	locks  lockTable
}

// NewFixedWindow creates a fixed window limiter allowing limit admissions
// per period.
func NewFixedWindow(limit int64, period time.Duration, s store.Store) *FixedWindow {
	return &FixedWindow{
		store:  s,
		limit:  limit,
		period: period,
	}
}

func (fw *FixedWindow) Check(ctx context.Context, key string, cost float64) (Decision, error) {
	units := costUnits(cost)

	mu := fw.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	storeKey := "fw:" + key

	fields, err := fw.store.Get(ctx, storeKey)
	if err != nil {
		return Decision{}, err
	}

	windowStart := fieldTime(fields, "window_start", time.Time{})
	count := fieldInt(fields, "count", 0)

	if windowStart.IsZero() || !now.Before(windowStart.Add(fw.period)) {
		// New window for this key; the previous count never carries over.
		windowStart = now.Truncate(fw.period)
		count = 0

		if units > 0 {
			err = fw.store.Set(ctx, storeKey, map[string]string{
				"window_start": formatTime(windowStart),
				"count":        "0",
			}, fw.ttl(windowStart, now))
			if err != nil {
				return Decision{}, err
			}
		}
	}

	resetAt := windowStart.Add(fw.period)

	if units == 0 {
		return Decision{
			Allowed:   true,
			Limit:     fw.limit,
			Remaining: clampRemaining(fw.limit - count),
			ResetAt:   resetAt,
		}, nil
	}

	if count+units > fw.limit {
		return Decision{
			Allowed:    false,
			Limit:      fw.limit,
			Remaining:  clampRemaining(fw.limit - count),
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	newCount, err := fw.store.Increment(ctx, storeKey, "count", units, fw.ttl(windowStart, now))
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		Allowed:   true,
		Limit:     fw.limit,
		Remaining: clampRemaining(fw.limit - newCount),
		ResetAt:   resetAt,
	}, nil
}

func (fw *FixedWindow) Reset(ctx context.Context, key string) error {
	mu := fw.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	return fw.store.Delete(ctx, "fw:"+key)
}

// ttl keeps the record alive until the window ends plus one period of
// slack, so an idle key is reclaimed by the store.
func (fw *FixedWindow) ttl(windowStart, now time.Time) time.Duration {
	return windowStart.Add(fw.period).Sub(now) + fw.period
}

var _ Algorithm = (*FixedWindow)(nil)
