//go:build integration

package store_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/anchapin/apiguard/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func TestRedisStoreIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: getRedisAddr(),
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	prefix := fmt.Sprintf("ratelimit_test_%d:", time.Now().UnixNano())
	s := store.NewRedisStore(client, zap.NewNop(), store.WithPrefix(prefix))
	require.False(t, s.Degraded())

	t.Cleanup(func() { _ = s.Clear(ctx) })

	t.Run("set and get hash fields", func(t *testing.T) {
		err := s.Set(ctx, "bucket", map[string]string{
			"tokens":      "7.25",
			"last_refill": "1700000000",
		}, time.Minute)
		require.NoError(t, err)

		fields, err := s.Get(ctx, "bucket")

		require.NoError(t, err)
		assert.Equal(t, "7.25", fields["tokens"])
	})

	t.Run("missing key reads as nil", func(t *testing.T) {
		fields, err := s.Get(ctx, "nope")

		require.NoError(t, err)
		assert.Nil(t, fields)
	})

	t.Run("increment is atomic and expires", func(t *testing.T) {
		n, err := s.Increment(ctx, "window", "count", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = s.Increment(ctx, "window", "count", 3, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		ttl, err := client.TTL(ctx, prefix+"window").Result()
		require.NoError(t, err)
		assert.Positive(t, ttl)
	})

	t.Run("set replaces stale fields", func(t *testing.T) {
		_ = s.Set(ctx, "replace", map[string]string{"a": "1", "b": "2"}, time.Minute)
		_ = s.Set(ctx, "replace", map[string]string{"a": "9"}, time.Minute)

		fields, err := s.Get(ctx, "replace")

		require.NoError(t, err)
		assert.Equal(t, "9", fields["a"])
		assert.NotContains(t, fields, "b")
	})

	t.Run("delete and clear", func(t *testing.T) {
		_ = s.Set(ctx, "gone", map[string]string{"count": "1"}, time.Minute)

		require.NoError(t, s.Delete(ctx, "gone"))

		fields, _ := s.Get(ctx, "gone")
		assert.Nil(t, fields)

		require.NoError(t, s.Clear(ctx))

		fields, _ = s.Get(ctx, "bucket")
		assert.Nil(t, fields)
	})
}
