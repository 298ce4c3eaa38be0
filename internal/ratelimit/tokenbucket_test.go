package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/anchapin/apiguard/internal/ratelimit"
	"github.com/anchapin/apiguard/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	// 10 tokens/second, burst 20.
	tb := ratelimit.NewTokenBucket(10, time.Second, 20, store.NewMemoryStore())
	ctx := context.Background()

	for i := range 20 {
		d, err := tb.Check(ctx, "client1", 1)

		require.NoError(t, err)
		assert.True(t, d.Allowed, "burst call %d should be allowed", i+1)
	}

	d, err := tb.Check(ctx, "client1", 1)

	require.NoError(t, err)
	assert.False(t, d.Allowed, "21st immediate call must be rejected")
	assert.Positive(t, d.RetryAfter)

	// ~2 tokens refill in 200ms at 10/s.
	time.Sleep(210 * time.Millisecond)

	d, err = tb.Check(ctx, "client1", 1)

	require.NoError(t, err)
	assert.True(t, d.Allowed, "call after refill should be allowed")
}

func TestTokenBucket_RemainingNeverNegative(t *testing.T) {
	tb := ratelimit.NewTokenBucket(5, time.Second, 5, store.NewMemoryStore())
	ctx := context.Background()

	for range 10 {
		d, err := tb.Check(ctx, "client1", 1)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, d.Remaining, int64(0))
	}
}

func TestTokenBucket_RefillNeverExceedsBurst(t *testing.T) {
	tb := ratelimit.NewTokenBucket(100, time.Second, 3, store.NewMemoryStore())
	ctx := context.Background()

	// Drain one token, then wait long enough to refill far past the cap.
	_, _ = tb.Check(ctx, "client1", 1)
	time.Sleep(100 * time.Millisecond)

	d, err := tb.Check(ctx, "client1", 0)

	require.NoError(t, err)
	assert.LessOrEqual(t, d.Remaining, int64(3), "tokens are capped at burst")

	for range 3 {
		d, _ = tb.Check(ctx, "client1", 1)
		assert.True(t, d.Allowed)
	}

	d, _ = tb.Check(ctx, "client1", 3)
	assert.False(t, d.Allowed, "more than burst can never be admitted at once")
}

func TestTokenBucket_FractionalCost(t *testing.T) {
	tb := ratelimit.NewTokenBucket(10, time.Minute, 1, store.NewMemoryStore())
	ctx := context.Background()

	d, err := tb.Check(ctx, "client1", 0.5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = tb.Check(ctx, "client1", 0.5)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "two half-cost calls fit one token")

	d, err = tb.Check(ctx, "client1", 0.5)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestTokenBucket_ZeroCostProbeDoesNotConsume(t *testing.T) {
	tb := ratelimit.NewTokenBucket(10, time.Minute, 2, store.NewMemoryStore())
	ctx := context.Background()

	for range 5 {
		d, err := tb.Check(ctx, "client1", 0)

		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(2), d.Remaining)
	}
}

func TestTokenBucket_RetryAfterCoversMissingTokens(t *testing.T) {
	// 1 token/second, burst 1: after draining, a retry needs ~1s.
	tb := ratelimit.NewTokenBucket(1, time.Second, 1, store.NewMemoryStore())
	ctx := context.Background()

	_, _ = tb.Check(ctx, "client1", 1)

	d, err := tb.Check(ctx, "client1", 1)

	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.InDelta(t, time.Second, d.RetryAfter, float64(100*time.Millisecond))
}
