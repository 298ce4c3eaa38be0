package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Strategy names a limiting algorithm.
type Strategy string

const (
	// StrategyFixedWindow counts requests in fixed time windows.
	StrategyFixedWindow Strategy = "fixed"
	// StrategyTokenBucket refills tokens continuously up to a burst capacity.
	StrategyTokenBucket Strategy = "token_bucket"
	// StrategyLeakyBucket drains a level continuously from a capacity.
	StrategyLeakyBucket Strategy = "leaky_bucket"
	// StrategySlidingWindow tracks individual request timestamps in a
	// trailing window. Corrects the fixed-window boundary burst.
	StrategySlidingWindow Strategy = "sliding_window"
)

// Scope is the dimension along which quota is partitioned.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeIP       Scope = "ip"
	ScopeAPIKey   Scope = "api_key"
	ScopeUser     Scope = "user"
	ScopeEndpoint Scope = "endpoint"
)

// Configuration errors. These are fatal at construction time; the engine
// never raises configuration errors on the request path.
var (
	ErrUnknownStrategy  = errors.New("ratelimit: unknown strategy")
	ErrUnknownScope     = errors.New("ratelimit: unknown scope")
	ErrInvalidRequests  = errors.New("ratelimit: requests must be positive")
	ErrInvalidPeriod    = errors.New("ratelimit: period must be positive")
	ErrInvalidBurst     = errors.New("ratelimit: burst must be non-negative")
	ErrInvalidTier      = errors.New("ratelimit: tier limit must be positive")
	ErrInvalidEndpoint  = errors.New("ratelimit: endpoint limit must be positive")
	ErrInvalidCost      = errors.New("ratelimit: cost factor must be positive")
	ErrMissingHeaderKey = errors.New("ratelimit: header name must not be empty")
)

// DefaultTier is the tier applied when no lookup resolves a caller.
const DefaultTier = "default"

// HeaderNames holds the response header names for quota telemetry.
type HeaderNames struct {
	Limit      string
	Remaining  string
	Reset      string
	RetryAfter string
}

// DefaultHeaderNames returns the conventional X-RateLimit-* names.
func DefaultHeaderNames() HeaderNames {
	return HeaderNames{
		Limit:      "X-RateLimit-Limit",
		Remaining:  "X-RateLimit-Remaining",
		Reset:      "X-RateLimit-Reset",
		RetryAfter: "Retry-After",
	}
}

// Config is the immutable policy resolved once per Manager construction.
type Config struct {
	// Enabled toggles the whole engine. When false every check returns
	// the unlimited decision.
	Enabled bool

	// Strategy selects the algorithm for the default, tier, and
	// per-endpoint limiters.
	Strategy Strategy

	// Scope selects how limiting keys are derived from requests.
	Scope Scope

	// Requests is the default limit per Period.
	Requests int64

	// Period is the limiting window.
	Period time.Duration

	// Burst is the bucket capacity for the token and leaky bucket
	// strategies. 0 defaults to Requests.
	Burst int64

	// Tiers maps subscription tier names to their request limits.
	Tiers map[string]int64

	// EndpointLimits maps endpoint paths to dedicated override limits.
	// A rejection by an endpoint limiter short-circuits before the
	// default limiter's budget is consumed.
	EndpointLimits map[string]int64

	// ExemptIPs and ExemptAPIKeys are never limited.
	ExemptIPs     map[string]struct{}
	ExemptAPIKeys map[string]struct{}

	// CostFactors maps endpoint paths to the quota units one call
	// consumes. Unlisted endpoints cost 1.0.
	CostFactors map[string]float64

	// EmitHeaders controls whether Headers produces quota telemetry.
	EmitHeaders bool

	// Headers are the response header names used by Headers.
	Headers HeaderNames
}

// DefaultConfig returns the engine defaults: fixed window, per-IP,
// 100 requests per minute, headers enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Strategy:    StrategyFixedWindow,
		Scope:       ScopeIP,
		Requests:    100,
		Period:      time.Minute,
		EmitHeaders: true,
		Headers:     DefaultHeaderNames(),
	}
}

// Validate checks the configuration. Any error here is fatal: the host
// process must not start with a policy it cannot enforce.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyFixedWindow, StrategyTokenBucket, StrategyLeakyBucket, StrategySlidingWindow:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Strategy)
	}

	switch c.Scope {
	case ScopeGlobal, ScopeIP, ScopeAPIKey, ScopeUser, ScopeEndpoint:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScope, c.Scope)
	}

	if c.Requests <= 0 {
		return ErrInvalidRequests
	}

	if c.Period <= 0 {
		return ErrInvalidPeriod
	}

	if c.Burst < 0 {
		return ErrInvalidBurst
	}

	for name, limit := range c.Tiers {
		if limit <= 0 {
			return fmt.Errorf("%w: tier %q", ErrInvalidTier, name)
		}
	}

	for endpoint, limit := range c.EndpointLimits {
		if limit <= 0 {
			return fmt.Errorf("%w: endpoint %q", ErrInvalidEndpoint, endpoint)
		}
	}

	for endpoint, cost := range c.CostFactors {
		if cost <= 0 {
			return fmt.Errorf("%w: endpoint %q", ErrInvalidCost, endpoint)
		}
	}

	if c.EmitHeaders {
		for _, name := range []string{c.Headers.Limit, c.Headers.Remaining, c.Headers.Reset, c.Headers.RetryAfter} {
			if name == "" {
				return ErrMissingHeaderKey
			}
		}
	}

	return nil
}
