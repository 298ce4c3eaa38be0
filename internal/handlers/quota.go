// Package handlers exposes the engine's quota state over HTTP.
package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/anchapin/apiguard/internal/middleware"
	"github.com/anchapin/apiguard/internal/ratelimit"
)

// QuotaHandler answers quota introspection requests.
type QuotaHandler struct {
	manager *ratelimit.Manager
	logger  *zap.Logger
}

// NewQuotaHandler creates a new quota handler.
func NewQuotaHandler(manager *ratelimit.Manager, logger *zap.Logger) *QuotaHandler {
	return &QuotaHandler{manager: manager, logger: logger}
}

// QuotaRequest optionally narrows the probe to a single endpoint so callers
// can inspect per-endpoint overrides.
type QuotaRequest struct {
	Endpoint string `query:"endpoint" doc:"Route template to probe, e.g. /items/{id}" required:"false"`
}

// QuotaResponse is the caller's current quota state.
type QuotaResponse struct {
	Body struct {
		Strategy  string `json:"strategy"`
		Scope     string `json:"scope"`
		Limit     int64  `json:"limit"`
		Remaining int64  `json:"remaining"`
		Reset     string `json:"reset,omitempty"`
		Unlimited bool   `json:"unlimited"`
	}
}

// Get reports the caller's quota without consuming any of it. The probe is
// idempotent: calling it in a loop never changes the answer.
func (h *QuotaHandler) Get(ctx context.Context, input *QuotaRequest) (*QuotaResponse, error) {
	req := ratelimit.Request{Endpoint: input.Endpoint}

	if meta, ok := middleware.RequestMetaFromContext(ctx); ok {
		req.Identifier = meta.ClientIP
		req.APIKey = meta.APIKey
		req.UserID = meta.UserID
	}

	decision, err := h.manager.Peek(ctx, req)
	if err != nil {
		h.logger.Error("quota probe failed", zap.Error(err))

		return nil, huma.Error503ServiceUnavailable("quota state unavailable")
	}

	cfg := h.manager.Config()

	resp := &QuotaResponse{}
	resp.Body.Strategy = string(cfg.Strategy)
	resp.Body.Scope = string(cfg.Scope)
	resp.Body.Limit = decision.Limit
	resp.Body.Remaining = decision.Remaining
	resp.Body.Unlimited = decision.Limit == 0

	if !decision.ResetAt.IsZero() {
		resp.Body.Reset = decision.ResetAt.UTC().Format(time.RFC3339)
	}

	return resp, nil
}

// RegisterRoutes registers the quota introspection routes.
func RegisterRoutes(api huma.API, h *QuotaHandler) {
	huma.Get(api, "/limits", h.Get)
}
