package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/anchapin/apiguard/internal/store"
)

// SlidingWindow keeps the timestamps of admitted requests inside the
// trailing period and rejects once the window is full. Checks are
// O(window size) per key, acceptable for the target key cardinality, and
// the retained list is bounded: only admitted timestamps are stored, so it
// never holds more than limit entries once pruned.
type SlidingWindow struct {
	store  store.Store
	limit  int64
	period time.Duration
	locks  lockTable
}

// NewSlidingWindow creates a sliding window limiter allowing limit
// admissions per trailing period.
func NewSlidingWindow(limit int64, period time.Duration, s store.Store) *SlidingWindow {
	return &SlidingWindow{
		store:  s,
		limit:  limit,
		period: period,
	}
}

func (sw *SlidingWindow) Check(ctx context.Context, key string, cost float64) (Decision, error) {
	units := costUnits(cost)

	mu := sw.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	storeKey := "sw:" + key

	fields, err := sw.store.Get(ctx, storeKey)
	if err != nil {
		return Decision{}, err
	}

	stamps := pruneStamps(decodeStamps(fields["ts"]), now.Add(-sw.period))

	if units == 0 {
		return sw.decision(true, stamps, now, 0), nil
	}

	if int64(len(stamps))+units > sw.limit {
		retry := sw.period
		if len(stamps) > 0 {
			// The window frees a slot when the oldest admission ages out.
			retry = stamps[0].Add(sw.period).Sub(now)
		}

		return sw.decision(false, stamps, now, retry), nil
	}

	for range units {
		stamps = append(stamps, now)
	}

	err = sw.store.Set(ctx, storeKey, map[string]string{
		"ts": encodeStamps(stamps),
	}, sw.period*2)
	if err != nil {
		return Decision{}, err
	}

	return sw.decision(true, stamps, now, 0), nil
}

func (sw *SlidingWindow) Reset(ctx context.Context, key string) error {
	mu := sw.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	return sw.store.Delete(ctx, "sw:"+key)
}

func (sw *SlidingWindow) decision(allowed bool, stamps []time.Time, now time.Time, retry time.Duration) Decision {
	resetAt := now.Add(sw.period)
	if len(stamps) > 0 {
		resetAt = stamps[0].Add(sw.period)
	}

	return Decision{
		Allowed:    allowed,
		Limit:      sw.limit,
		Remaining:  clampRemaining(sw.limit - int64(len(stamps))),
		ResetAt:    resetAt,
		RetryAfter: retry,
	}
}

// Timestamps are stored as a comma-joined list of unix microseconds,
// oldest first, so the record stays a plain hash field on every backend.

func decodeStamps(encoded string) []time.Time {
	if encoded == "" {
		return nil
	}

	parts := strings.Split(encoded, ",")
	stamps := make([]time.Time, 0, len(parts))

	for _, p := range parts {
		micros, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}

		stamps = append(stamps, time.UnixMicro(micros))
	}

	return stamps
}

func encodeStamps(stamps []time.Time) string {
	var b strings.Builder

	for i, ts := range stamps {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(strconv.FormatInt(ts.UnixMicro(), 10))
	}

	return b.String()
}

// pruneStamps drops timestamps at or before the cutoff. Input is ordered
// oldest first and order is preserved.
func pruneStamps(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}

	return stamps[idx:]
}

var _ Algorithm = (*SlidingWindow)(nil)
