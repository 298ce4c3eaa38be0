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

func TestFixedWindow_CountsDownToZero(t *testing.T) {
	fw := ratelimit.NewFixedWindow(5, time.Minute, store.NewMemoryStore())
	ctx := context.Background()

	for i, want := range []int64{4, 3, 2, 1, 0} {
		d, err := fw.Check(ctx, "client1", 1)

		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d should be allowed", i+1)
		assert.Equal(t, int64(5), d.Limit)
		assert.Equal(t, want, d.Remaining)
	}

	d, err := fw.Check(ctx, "client1", 1)

	require.NoError(t, err)
	assert.False(t, d.Allowed, "6th call in the same window must be rejected")
	assert.Zero(t, d.Remaining)
	assert.Positive(t, d.RetryAfter)
	assert.False(t, d.ResetAt.Before(time.Now()), "reset is the window end")
}

func TestFixedWindow_NewWindowStartsFromZero(t *testing.T) {
	fw := ratelimit.NewFixedWindow(2, 50*time.Millisecond, store.NewMemoryStore())
	ctx := context.Background()

	for range 2 {
		d, err := fw.Check(ctx, "client1", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, _ := fw.Check(ctx, "client1", 1)
	assert.False(t, d.Allowed)

	// Well past the window boundary: the old count never carries over.
	time.Sleep(120 * time.Millisecond)

	d, err := fw.Check(ctx, "client1", 1)

	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)
}

func TestFixedWindow_KeysAreIndependent(t *testing.T) {
	fw := ratelimit.NewFixedWindow(1, time.Minute, store.NewMemoryStore())
	ctx := context.Background()

	d, _ := fw.Check(ctx, "client1", 1)
	assert.True(t, d.Allowed)

	d, _ = fw.Check(ctx, "client1", 1)
	assert.False(t, d.Allowed)

	d, err := fw.Check(ctx, "client2", 1)

	require.NoError(t, err)
	assert.True(t, d.Allowed, "other keys keep their own window")
}

func TestFixedWindow_CostConsumesMultipleUnits(t *testing.T) {
	fw := ratelimit.NewFixedWindow(10, time.Minute, store.NewMemoryStore())
	ctx := context.Background()

	d, err := fw.Check(ctx, "client1", 4)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(6), d.Remaining)

	d, err = fw.Check(ctx, "client1", 7)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "7 units exceed the 6 remaining")
	assert.Equal(t, int64(6), d.Remaining)

	d, err = fw.Check(ctx, "client1", 6)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.Remaining)
}

func TestFixedWindow_ZeroCostProbeDoesNotConsume(t *testing.T) {
	fw := ratelimit.NewFixedWindow(3, time.Minute, store.NewMemoryStore())
	ctx := context.Background()

	_, _ = fw.Check(ctx, "client1", 1)

	for range 10 {
		d, err := fw.Check(ctx, "client1", 0)

		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(2), d.Remaining, "probes must not change state")
	}

	d, _ := fw.Check(ctx, "client1", 1)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)
}

func TestFixedWindow_Reset(t *testing.T) {
	fw := ratelimit.NewFixedWindow(1, time.Minute, store.NewMemoryStore())
	ctx := context.Background()

	_, _ = fw.Check(ctx, "client1", 1)

	d, _ := fw.Check(ctx, "client1", 1)
	assert.False(t, d.Allowed)

	require.NoError(t, fw.Reset(ctx, "client1"))

	d, err := fw.Check(ctx, "client1", 1)

	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
