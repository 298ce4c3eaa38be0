package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/anchapin/apiguard/internal/store"
	"go.uber.org/zap"
)

// Request carries the per-request attributes the policy can key on.
// Missing fields degrade (see LimitKey); they never fail the request.
type Request struct {
	// Identifier is the transport-level caller identity, normally the
	// client IP.
	Identifier string

	// Endpoint is the route template of the called operation.
	Endpoint string

	// APIKey is the caller's API key, when presented.
	APIKey string

	// UserID is the authenticated user, when known.
	UserID string
}

// Manager is the policy brain of the engine. It owns one algorithm instance
// per tier plus one per endpoint override, all built over a shared Store,
// and evaluates exemptions, key derivation, cost resolution and limiter
// delegation for every request.
//
// Construct one Manager per configuration and inject it into the transport
// middleware; there is no hidden global instance.
type Manager struct {
	cfg          Config
	store        store.Store
	tiers        TierResolver
	logger       *zap.Logger
	defaultAlg   Algorithm
	tierAlgs     map[string]Algorithm
	endpointAlgs map[string]Algorithm
}

// NewManager validates the policy and builds all algorithm instances.
// This is the only place the engine can fail: an unknown strategy or an
// unusable limit is refused here, never on the request path.
func NewManager(cfg Config, s store.Store, tiers TierResolver, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if tiers == nil {
		tiers = NewStaticTierResolver(DefaultTier)
	}

	defaultAlg, err := NewAlgorithm(cfg.Strategy, cfg.Requests, cfg.Period, cfg.Burst, s)
	if err != nil {
		return nil, err
	}

	tierAlgs := make(map[string]Algorithm, len(cfg.Tiers))

	for name, limit := range cfg.Tiers {
		alg, err := NewAlgorithm(cfg.Strategy, limit, cfg.Period, cfg.Burst, s)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", name, err)
		}

		tierAlgs[name] = alg
	}

	endpointAlgs := make(map[string]Algorithm, len(cfg.EndpointLimits))

	for endpoint, limit := range cfg.EndpointLimits {
		alg, err := NewAlgorithm(cfg.Strategy, limit, cfg.Period, cfg.Burst, s)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", endpoint, err)
		}

		endpointAlgs[endpoint] = alg
	}

	logger.Info("rate limiter configured",
		zap.String("strategy", string(cfg.Strategy)),
		zap.String("scope", string(cfg.Scope)),
		zap.Int64("requests", cfg.Requests),
		zap.Duration("period", cfg.Period),
		zap.Int("tiers", len(cfg.Tiers)),
		zap.Int("endpoint_overrides", len(cfg.EndpointLimits)),
	)

	return &Manager{
		cfg:          cfg,
		store:        s,
		tiers:        tiers,
		logger:       logger,
		defaultAlg:   defaultAlg,
		tierAlgs:     tierAlgs,
		endpointAlgs: endpointAlgs,
	}, nil
}

// Check decides whether the request may proceed. Rejection is a normal
// decision, never an error; errors only surface storage failures that the
// store itself could not absorb.
func (m *Manager) Check(ctx context.Context, req Request) (Decision, error) {
	return m.check(ctx, req, m.cost(req.Endpoint))
}

// Peek reports the caller's current quota without consuming any of it.
func (m *Manager) Peek(ctx context.Context, req Request) (Decision, error) {
	return m.check(ctx, req, 0)
}

func (m *Manager) check(ctx context.Context, req Request, cost float64) (Decision, error) {
	if !m.cfg.Enabled || m.exempt(req) {
		return Unlimited(), nil
	}

	key := LimitKey(m.cfg.Scope, req)

	// Endpoint override first: its rejection short-circuits before the
	// default limiter's budget is touched.
	var override *Decision

	if alg, ok := m.endpointAlgs[req.Endpoint]; ok {
		decision, err := alg.Check(ctx, key+"|"+req.Endpoint, cost)
		if err != nil {
			return Decision{}, err
		}

		if !decision.Allowed {
			return decision, nil
		}

		override = &decision
	}

	alg, tier := m.tierAlgorithm(ctx, req.APIKey)
	if tier != "" {
		// Tier instances have different limits; their state must not mix.
		key = tier + "|" + key
	}

	decision, err := alg.Check(ctx, key, cost)
	if err != nil {
		return Decision{}, err
	}

	// Both limiters allowed: report whichever is the binding constraint so
	// the caller's headers reflect the quota that will run out first.
	if decision.Allowed && override != nil && override.Remaining < decision.Remaining {
		return *override, nil
	}

	return decision, nil
}

// Headers projects a decision into the configured response header names.
// Returns nil when header emission is disabled. Retry-After is present only
// on rejection.
func (m *Manager) Headers(d Decision) map[string]string {
	if !m.cfg.EmitHeaders {
		return nil
	}

	headers := map[string]string{
		m.cfg.Headers.Limit:     strconv.FormatInt(d.Limit, 10),
		m.cfg.Headers.Remaining: strconv.FormatInt(d.Remaining, 10),
	}

	if !d.ResetAt.IsZero() {
		headers[m.cfg.Headers.Reset] = strconv.FormatInt(d.ResetAt.Unix(), 10)
	}

	if !d.Allowed {
		secs := int64(math.Ceil(d.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}

		headers[m.cfg.Headers.RetryAfter] = strconv.FormatInt(secs, 10)
	}

	return headers
}

// Config returns the policy this manager enforces.
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) exempt(req Request) bool {
	if _, ok := m.cfg.ExemptIPs[req.Identifier]; ok {
		return true
	}

	if req.APIKey != "" {
		if _, ok := m.cfg.ExemptAPIKeys[req.APIKey]; ok {
			return true
		}
	}

	return false
}

func (m *Manager) cost(endpoint string) float64 {
	if factor, ok := m.cfg.CostFactors[endpoint]; ok {
		return factor
	}

	return 1.0
}

// tierAlgorithm picks the limiter for the caller's tier, falling back to
// the default instance for unknown tiers. The returned tier name is empty
// only when no tiers are configured at all.
func (m *Manager) tierAlgorithm(ctx context.Context, apiKey string) (Algorithm, string) {
	if len(m.tierAlgs) == 0 {
		return m.defaultAlg, ""
	}

	tier := m.tiers.Resolve(ctx, apiKey)

	alg, ok := m.tierAlgs[tier]
	if !ok {
		return m.defaultAlg, DefaultTier
	}

	return alg, tier
}
