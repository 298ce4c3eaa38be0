package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/anchapin/apiguard/internal/store"
)

// LeakyBucket admits requests while its water level stays under capacity;
// the level drains continuously at limit/period units per second. Unlike
// the token bucket, a fresh key starts empty and fills as requests arrive.
type LeakyBucket struct {
	store    store.Store
	limit    int64
	period   time.Duration
	capacity int64
	rate     float64 // leak, units per second
	locks    lockTable
}

// NewLeakyBucket creates a leaky bucket limiter with the given capacity and
// a leak rate of limit/period.
func NewLeakyBucket(limit int64, period time.Duration, capacity int64, s store.Store) *LeakyBucket {
	return &LeakyBucket{
		store:    s,
		limit:    limit,
		period:   period,
		capacity: capacity,
		rate:     float64(limit) / period.Seconds(),
	}
}

func (lb *LeakyBucket) Check(ctx context.Context, key string, cost float64) (Decision, error) {
	mu := lb.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	storeKey := "lb:" + key

	fields, err := lb.store.Get(ctx, storeKey)
	if err != nil {
		return Decision{}, err
	}

	water := fieldFloat(fields, "water_level", 0)
	lastLeak := fieldTime(fields, "last_leak", now)

	elapsed := now.Sub(lastLeak).Seconds()
	if elapsed > 0 {
		water = math.Max(water-elapsed*lb.rate, 0)
	}

	if cost <= 0 {
		return lb.decision(true, water, now, 0), nil
	}

	if water+cost > float64(lb.capacity) {
		excess := water + cost - float64(lb.capacity)
		retry := time.Duration(excess / lb.rate * float64(time.Second))

		if err := lb.save(ctx, storeKey, water, now); err != nil {
			return Decision{}, err
		}

		return lb.decision(false, water, now, retry), nil
	}

	water += cost

	if err := lb.save(ctx, storeKey, water, now); err != nil {
		return Decision{}, err
	}

	return lb.decision(true, water, now, 0), nil
}

func (lb *LeakyBucket) Reset(ctx context.Context, key string) error {
	mu := lb.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	return lb.store.Delete(ctx, "lb:"+key)
}

func (lb *LeakyBucket) save(ctx context.Context, storeKey string, water float64, now time.Time) error {
	return lb.store.Set(ctx, storeKey, map[string]string{
		"water_level": formatFloat(water),
		"last_leak":   formatTime(now),
	}, lb.period*2)
}

func (lb *LeakyBucket) decision(allowed bool, water float64, now time.Time, retry time.Duration) Decision {
	// Reset estimates when the bucket would drain empty.
	drain := time.Duration(water / lb.rate * float64(time.Second))

	return Decision{
		Allowed:    allowed,
		Limit:      lb.limit,
		Remaining:  clampRemaining(int64(float64(lb.capacity) - water)),
		ResetAt:    now.Add(drain),
		RetryAfter: retry,
	}
}

var _ Algorithm = (*LeakyBucket)(nil)
