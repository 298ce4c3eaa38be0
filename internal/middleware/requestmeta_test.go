package middleware_test

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchapin/apiguard/internal/middleware"
)

func TestExtractMeta(t *testing.T) {
	api := newTestAPI()

	capture := func(ctx *mockHumaContext) middleware.RequestMeta {
		t.Helper()

		var meta middleware.RequestMeta

		mw := middleware.ExtractMeta(api)
		mw(ctx, func(inner huma.Context) {
			captured, ok := middleware.RequestMetaFromContext(inner.Context())
			require.True(t, ok, "metadata should be on the context")
			meta = captured
		})

		return meta
	}

	t.Run("extracts identity headers", func(t *testing.T) {
		ctx := newMockHumaContext()
		ctx.host = testHostAddr
		ctx.headers["X-API-Key"] = "key-123"
		ctx.headers["X-User-ID"] = "user-7"
		ctx.headers["User-Agent"] = testUserAgent

		meta := capture(ctx)

		assert.Equal(t, "key-123", meta.APIKey)
		assert.Equal(t, "user-7", meta.UserID)
		assert.Equal(t, testUserAgent, meta.UserAgent)
	})

	t.Run("prefers X-Forwarded-For first hop", func(t *testing.T) {
		ctx := newMockHumaContext()
		ctx.host = "10.0.0.1:12345"
		ctx.headers["X-Forwarded-For"] = "203.0.113.195, 70.41.3.18, 150.172.238.178"

		meta := capture(ctx)

		assert.Equal(t, "203.0.113.195", meta.ClientIP)
	})

	t.Run("uses X-Real-IP when X-Forwarded-For is absent", func(t *testing.T) {
		ctx := newMockHumaContext()
		ctx.host = "10.0.0.1:12345"
		ctx.headers["X-Real-IP"] = "203.0.113.100"

		meta := capture(ctx)

		assert.Equal(t, "203.0.113.100", meta.ClientIP)
	})

	t.Run("falls back to remote address", func(t *testing.T) {
		ctx := newMockHumaContext()
		ctx.remoteAddr = "192.168.1.50:4040"

		meta := capture(ctx)

		assert.Equal(t, "192.168.1.50", meta.ClientIP)
	})

	t.Run("uses host as-is when it has no port", func(t *testing.T) {
		ctx := newMockHumaContext()
		ctx.host = "192.168.1.1"

		meta := capture(ctx)

		assert.Equal(t, "192.168.1.1", meta.ClientIP)
	})
}

func TestRequestMetaContext(t *testing.T) {
	meta := middleware.RequestMeta{ClientIP: "1.2.3.4", APIKey: "k"}

	ctx := middleware.ContextWithRequestMeta(context.Background(), meta)

	got, ok := middleware.RequestMetaFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, meta, got)

	_, ok = middleware.RequestMetaFromContext(context.Background())
	assert.False(t, ok)
}
