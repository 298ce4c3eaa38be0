package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anchapin/apiguard/internal/handlers"
	"github.com/anchapin/apiguard/internal/middleware"
	"github.com/anchapin/apiguard/internal/ratelimit"
	"github.com/anchapin/apiguard/internal/store"
)

func newQuotaHandler(t *testing.T, mutate func(*ratelimit.Config)) (*handlers.QuotaHandler, *ratelimit.Manager) {
	t.Helper()

	cfg := ratelimit.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	manager, err := ratelimit.NewManager(cfg, store.NewMemoryStore(), nil, zap.NewNop())
	require.NoError(t, err)

	return handlers.NewQuotaHandler(manager, zap.NewNop()), manager
}

func metaContext(ip string) context.Context {
	return middleware.ContextWithRequestMeta(context.Background(), middleware.RequestMeta{
		ClientIP: ip,
	})
}

func TestQuotaHandler_Get(t *testing.T) {
	t.Run("reports the full quota before any traffic", func(t *testing.T) {
		handler, _ := newQuotaHandler(t, func(cfg *ratelimit.Config) {
			cfg.Requests = 10
			cfg.Period = time.Minute
		})

		resp, err := handler.Get(metaContext("203.0.113.1"), &handlers.QuotaRequest{})

		require.NoError(t, err)
		assert.Equal(t, int64(10), resp.Body.Limit)
		assert.Equal(t, int64(10), resp.Body.Remaining)
		assert.Equal(t, "fixed", resp.Body.Strategy)
		assert.Equal(t, "ip", resp.Body.Scope)
		assert.False(t, resp.Body.Unlimited)
	})

	t.Run("probe never consumes quota", func(t *testing.T) {
		handler, manager := newQuotaHandler(t, func(cfg *ratelimit.Config) {
			cfg.Requests = 5
			cfg.Period = time.Minute
		})

		req := ratelimit.Request{Identifier: "203.0.113.2"}

		_, err := manager.Check(context.Background(), req)
		require.NoError(t, err)

		ctx := metaContext("203.0.113.2")

		for range 3 {
			resp, probeErr := handler.Get(ctx, &handlers.QuotaRequest{})
			require.NoError(t, probeErr)
			assert.Equal(t, int64(4), resp.Body.Remaining, "repeated probes must not change the answer")
		}
	})

	t.Run("reflects consumed quota", func(t *testing.T) {
		handler, manager := newQuotaHandler(t, func(cfg *ratelimit.Config) {
			cfg.Requests = 5
			cfg.Period = time.Minute
		})

		req := ratelimit.Request{Identifier: "203.0.113.3"}
		for range 3 {
			_, err := manager.Check(context.Background(), req)
			require.NoError(t, err)
		}

		resp, err := handler.Get(metaContext("203.0.113.3"), &handlers.QuotaRequest{})

		require.NoError(t, err)
		assert.Equal(t, int64(2), resp.Body.Remaining)
		assert.NotEmpty(t, resp.Body.Reset)
	})

	t.Run("probes endpoint overrides", func(t *testing.T) {
		handler, _ := newQuotaHandler(t, func(cfg *ratelimit.Config) {
			cfg.Requests = 100
			cfg.Period = time.Minute
			cfg.EndpointLimits = map[string]int64{"/reports": 2}
		})

		resp, err := handler.Get(metaContext("203.0.113.4"), &handlers.QuotaRequest{Endpoint: "/reports"})

		require.NoError(t, err)
		assert.Equal(t, int64(2), resp.Body.Limit)
	})

	t.Run("reports exempt callers as unlimited", func(t *testing.T) {
		handler, _ := newQuotaHandler(t, func(cfg *ratelimit.Config) {
			cfg.ExemptIPs = map[string]struct{}{"127.0.0.1": {}}
		})

		resp, err := handler.Get(metaContext("127.0.0.1"), &handlers.QuotaRequest{})

		require.NoError(t, err)
		assert.True(t, resp.Body.Unlimited)
		assert.Zero(t, resp.Body.Limit)
	})
}
