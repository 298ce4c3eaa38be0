// Package health reports the service's own state and that of its backends.
package health

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/redis/go-redis/v9"
)

// Checker defines the interface for checking backend health.
type Checker interface {
	Ping(ctx context.Context) error
}

// RedisChecker adapts redis.Client to Checker interface.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Ping checks Redis connectivity.
func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// DegradationReporter reports whether a store has fallen back to its
// in-memory backup.
type DegradationReporter interface {
	Degraded() bool
}

// Handler handles health check operations.
type Handler struct {
	redis Checker
	store DegradationReporter
}

// NewHandler creates a new health handler. Either dependency may be nil
// when the deployment runs without it (memory-only store has no redis and
// nothing to degrade).
func NewHandler(redis Checker, store DegradationReporter) *Handler {
	return &Handler{redis: redis, store: store}
}

// Response is the response for health check endpoint.
type Response struct {
	Body struct {
		Status string `json:"status"`
		Redis  string `json:"redis"`
		Store  string `json:"store"`
	}
}

// Check performs a health check of the application and its dependencies.
// A degraded answer still returns 200: the service keeps admitting traffic
// on its fallback store, it just wants an operator to look at it.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	resp := &Response{}
	resp.Body.Status = "ok"

	switch {
	case h.redis == nil:
		resp.Body.Redis = "disabled"
	case h.redis.Ping(ctx) != nil:
		resp.Body.Redis = "unhealthy"
		resp.Body.Status = "degraded"
	default:
		resp.Body.Redis = "healthy"
	}

	if h.store != nil && h.store.Degraded() {
		resp.Body.Store = "fallback"
		resp.Body.Status = "degraded"
	} else {
		resp.Body.Store = "primary"
	}

	return resp, nil
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Get(api, "/health", h.Check)
}
