package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/anchapin/apiguard/internal/store"
)

// Algorithm answers whether a key may consume cost quota units right now,
// returning quota telemetry either way. Implementations are safe for
// concurrent use; checks for the same key are serialized internally.
//
// A cost of 0 (or less) is a read-only probe: it reports the current quota
// without mutating any state.
type Algorithm interface {
	Check(ctx context.Context, key string, cost float64) (Decision, error)

	// Reset clears the state for a key. Idle keys also expire on their own
	// through the store's TTLs.
	Reset(ctx context.Context, key string) error
}

// NewAlgorithm constructs the algorithm named by strategy. The steady rate
// for the bucket strategies is derived as limit/period; burst (capacity)
// defaults to limit when zero. An unknown strategy is a configuration
// error, surfaced here at construction, never per request.
func NewAlgorithm(strategy Strategy, limit int64, period time.Duration, burst int64, s store.Store) (Algorithm, error) {
	if limit <= 0 {
		return nil, ErrInvalidRequests
	}

	if period <= 0 {
		return nil, ErrInvalidPeriod
	}

	if burst <= 0 {
		burst = limit
	}

	switch strategy {
	case StrategyFixedWindow:
		return NewFixedWindow(limit, period, s), nil
	case StrategyTokenBucket:
		return NewTokenBucket(limit, period, burst, s), nil
	case StrategyLeakyBucket:
		return NewLeakyBucket(limit, period, burst, s), nil
	case StrategySlidingWindow:
		return NewSlidingWindow(limit, period, s), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

const shardCount = 128

// paddedMutex occupies a full cache line so neighboring shards do not
// contend through false sharing.
type paddedMutex struct {
	sync.Mutex
	_ [56]byte
}

// lockTable serializes checks per key without funneling unrelated keys
// through a single mutex: the shard is picked by a hash of the key.
type lockTable [shardCount]paddedMutex

func (t *lockTable) forKey(key string) *sync.Mutex {
	return &t[fnv32a(key)%shardCount].Mutex
}

// fnv32a hashes without allocating.
func fnv32a(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)

	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}

	return h
}

// costUnits converts a float cost into whole admission units for the
// counting algorithms. Fractional costs round up.
func costUnits(cost float64) int64 {
	if cost <= 0 {
		return 0
	}

	return int64(math.Ceil(cost))
}

func clampRemaining(v int64) int64 {
	if v < 0 {
		return 0
	}

	return v
}

// Hash field codecs. State records travel through the store as string
// fields, matching the remote backend's hash-per-key representation.

func fieldFloat(fields map[string]string, name string, fallback float64) float64 {
	if fields == nil {
		return fallback
	}

	v, err := strconv.ParseFloat(fields[name], 64)
	if err != nil {
		return fallback
	}

	return v
}

func fieldTime(fields map[string]string, name string, fallback time.Time) time.Time {
	if fields == nil {
		return fallback
	}

	nanos, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return fallback
	}

	return time.Unix(0, nanos)
}

func fieldInt(fields map[string]string, name string, fallback int64) int64 {
	if fields == nil {
		return fallback
	}

	v, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return fallback
	}

	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}
