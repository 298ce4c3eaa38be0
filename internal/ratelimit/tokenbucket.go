package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/anchapin/apiguard/internal/store"
)

// TokenBucket holds up to burst tokens and refills them continuously at
// limit/period tokens per second. Requests consume cost tokens; a full
// bucket permits short bursts while the refill rate bounds the average.
type TokenBucket struct {
	store  store.Store
	limit  int64
	period time.Duration
	burst  int64
	rate   float64 // tokens per second, precomputed
	locks  lockTable
}

// NewTokenBucket creates a token bucket limiter with the given burst
// capacity and a refill rate of limit/period.
func NewTokenBucket(limit int64, period time.Duration, burst int64, s store.Store) *TokenBucket {
	return &TokenBucket{
		store:  s,
		limit:  limit,
		period: period,
		burst:  burst,
		rate:   float64(limit) / period.Seconds(),
	}
}

func (tb *TokenBucket) Check(ctx context.Context, key string, cost float64) (Decision, error) {
	mu := tb.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	storeKey := "tb:" + key

	fields, err := tb.store.Get(ctx, storeKey)
	if err != nil {
		return Decision{}, err
	}

	// A new key starts with a full bucket.
	tokens := fieldFloat(fields, "tokens", float64(tb.burst))
	lastRefill := fieldTime(fields, "last_refill", now)

	elapsed := now.Sub(lastRefill).Seconds()
	if elapsed > 0 {
		tokens = math.Min(tokens+elapsed*tb.rate, float64(tb.burst))
	}

	if cost <= 0 {
		return tb.decision(true, tokens, now, 0), nil
	}

	if tokens < cost {
		retry := time.Duration((cost - tokens) / tb.rate * float64(time.Second))

		// Persist the refill so the record's expiry moves with activity.
		if err := tb.save(ctx, storeKey, tokens, now); err != nil {
			return Decision{}, err
		}

		return tb.decision(false, tokens, now, retry), nil
	}

	tokens -= cost

	if err := tb.save(ctx, storeKey, tokens, now); err != nil {
		return Decision{}, err
	}

	return tb.decision(true, tokens, now, 0), nil
}

func (tb *TokenBucket) Reset(ctx context.Context, key string) error {
	mu := tb.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	return tb.store.Delete(ctx, "tb:"+key)
}

func (tb *TokenBucket) save(ctx context.Context, storeKey string, tokens float64, now time.Time) error {
	return tb.store.Set(ctx, storeKey, map[string]string{
		"tokens":      formatFloat(tokens),
		"last_refill": formatTime(now),
	}, tb.period*2)
}

func (tb *TokenBucket) decision(allowed bool, tokens float64, now time.Time, retry time.Duration) Decision {
	// Reset estimates when the bucket would be full again.
	refill := time.Duration((float64(tb.burst) - tokens) / tb.rate * float64(time.Second))

	return Decision{
		Allowed:    allowed,
		Limit:      tb.limit,
		Remaining:  clampRemaining(int64(tokens)),
		ResetAt:    now.Add(refill),
		RetryAfter: retry,
	}
}

var _ Algorithm = (*TokenBucket)(nil)
