// Package middleware wires the admission-control engine into the huma
// request pipeline.
package middleware

import (
	"context"
	"net"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// RequestMeta carries the caller identity attributes the rate limiter
// keys on. Authentication populates UserID upstream; here only transport
// facts are extracted.
type RequestMeta struct {
	ClientIP  string
	APIKey    string
	UserID    string
	UserAgent string
}

type requestMetaKey struct{}

// ContextWithRequestMeta attaches request metadata to the context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext retrieves request metadata from the context.
func RequestMetaFromContext(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)

	return meta, ok
}

// ExtractMeta is a middleware that resolves the client IP, API key, and
// user hints once per request and stores them on the context for the rate
// limiter and handlers downstream.
func ExtractMeta(_ huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		meta := RequestMeta{
			ClientIP:  extractClientIP(ctx),
			APIKey:    ctx.Header("X-API-Key"),
			UserID:    ctx.Header("X-User-ID"),
			UserAgent: ctx.Header("User-Agent"),
		}

		newCtx := ContextWithRequestMeta(ctx.Context(), meta)
		ctx = huma.WithContext(ctx, newCtx)

		next(ctx)
	}
}

// extractClientIP resolves the client IP, considering proxies.
func extractClientIP(ctx huma.Context) string {
	// X-Forwarded-For may contain multiple IPs; the first is the client.
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}

		return strings.TrimSpace(xff)
	}

	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to the remote address.
	host := ctx.RemoteAddr()
	if host == "" {
		host = ctx.Host()
	}

	ip, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}

	return ip
}
