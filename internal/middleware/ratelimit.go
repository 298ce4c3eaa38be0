package middleware

import (
	"net/http"
	"time"

	"github.com/anchapin/apiguard/internal/events"
	"github.com/anchapin/apiguard/internal/ratelimit"
	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RateLimiter returns a huma middleware that checks every request against
// the manager and turns rejections into 429 responses. Quota headers are
// attached on both outcomes (when the policy emits them).
//
// Engine failures never become 5xx here: on an internal error the request
// is logged and let through (fail-open), consistent with the store's own
// fallback policy.
func RateLimiter(
	api huma.API,
	manager *ratelimit.Manager,
	publisher *events.Publisher,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		req := limitRequest(ctx)

		decision, err := manager.Check(ctx.Context(), req)
		if err != nil {
			logger.Error("rate limit check failed, allowing request",
				zap.String("endpoint", req.Endpoint),
				zap.Error(err),
			)
			next(ctx)

			return
		}

		for name, value := range manager.Headers(decision) {
			ctx.SetHeader(name, value)
		}

		if !decision.Allowed {
			logger.Warn("rate limit exceeded",
				zap.String("endpoint", req.Endpoint),
				zap.String("client_ip", req.Identifier),
				zap.Int64("limit", decision.Limit),
				zap.Duration("retry_after", decision.RetryAfter),
			)

			publishRejection(publisher, logger, manager.Config().Scope, req, decision)

			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, "Rate limit exceeded")

			return
		}

		next(ctx)
	}
}

// limitRequest assembles the engine's view of the request from the request
// metadata and the matched operation.
func limitRequest(ctx huma.Context) ratelimit.Request {
	req := ratelimit.Request{}

	if meta, ok := RequestMetaFromContext(ctx.Context()); ok {
		req.Identifier = meta.ClientIP
		req.APIKey = meta.APIKey
		req.UserID = meta.UserID
	} else {
		req.Identifier = extractClientIP(ctx)
		req.APIKey = ctx.Header("X-API-Key")
		req.UserID = ctx.Header("X-User-ID")
	}

	// The route template, not the raw path, so all requests matching one
	// operation share the endpoint's limiter and cost factor.
	if op := ctx.Operation(); op != nil {
		req.Endpoint = op.Path
	}

	return req
}

// publishRejection emits the observability event, best effort: a broken
// event transport must not affect the admission decision.
func publishRejection(
	publisher *events.Publisher,
	logger *zap.Logger,
	scope ratelimit.Scope,
	req ratelimit.Request,
	decision ratelimit.Decision,
) {
	event := &events.RequestRejectedEvent{
		ID:         uuid.NewString(),
		Key:        ratelimit.LimitKey(scope, req),
		Endpoint:   req.Endpoint,
		Limit:      decision.Limit,
		RetryAfter: decision.RetryAfter.Seconds(),
		ClientIP:   req.Identifier,
		OccurredAt: time.Now(),
	}

	if err := publisher.PublishRequestRejected(event); err != nil {
		logger.Error("failed to publish rejection event", zap.Error(err))
	}
}
