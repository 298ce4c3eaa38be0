package container

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anchapin/apiguard/internal/ratelimit"
)

// Options is the full CLI/environment configuration surface.
type Options struct {
	Port        int    `default:"8888"    help:"Port to listen on"                                            short:"p"`
	RedisAddr   string `default:""        help:"Redis server address; empty runs on the in-memory store"      short:"r"`
	PostgresDSN string `default:""        help:"Postgres DSN for API key tier lookups; empty uses the static default tier"`
	LogFormat   string `default:"console" help:"Log format: console or json"`

	EnableRateLimit bool   `default:"true"  help:"Enable rate limiting"`
	Strategy        string `default:"fixed" help:"Strategy: fixed, token_bucket, leaky_bucket, sliding_window" short:"s"`
	Scope           string `default:"ip"    help:"Scope: global, ip, api_key, user, endpoint"`
	Requests        int64  `default:"100"   help:"Allowed requests per period"`
	Period          string `default:"1m"    help:"Limiting period, e.g. 30s, 1m, 1h"`
	Burst           int64  `default:"0"     help:"Bucket capacity for token/leaky bucket; 0 defaults to requests"`

	Tiers          string `default:"" help:"Tier limits as name=limit pairs, e.g. basic=100,pro=1000"`
	EndpointLimits string `default:"" help:"Per-endpoint overrides as path=limit pairs, e.g. /reports=10"`
	ExemptIPs      string `default:"" help:"Comma-separated IPs that are never limited"`
	ExemptAPIKeys  string `default:"" help:"Comma-separated API keys that are never limited"`
	CostFactors    string `default:"" help:"Per-endpoint cost as path=factor pairs, e.g. /search=2.5"`

	EnableHeaders     bool   `default:"true"                  help:"Emit quota response headers"`
	HeaderLimit       string `default:"X-RateLimit-Limit"     help:"Header name for the limit"`
	HeaderRemaining   string `default:"X-RateLimit-Remaining" help:"Header name for remaining quota"`
	HeaderReset       string `default:"X-RateLimit-Reset"     help:"Header name for the reset timestamp"`
	HeaderRetryAfter  string `default:"Retry-After"           help:"Header name for the retry delay"`
	EventConsumerName string `default:"apiguard"              help:"Redis stream consumer group name"`
}

// RateLimitConfig translates the flat option strings into the engine's
// policy. Parse errors here abort startup.
func (o *Options) RateLimitConfig() (ratelimit.Config, error) {
	period, err := time.ParseDuration(o.Period)
	if err != nil {
		return ratelimit.Config{}, fmt.Errorf("invalid period %q: %w", o.Period, err)
	}

	tiers, err := parseInt64Map(o.Tiers)
	if err != nil {
		return ratelimit.Config{}, fmt.Errorf("invalid tiers: %w", err)
	}

	endpoints, err := parseInt64Map(o.EndpointLimits)
	if err != nil {
		return ratelimit.Config{}, fmt.Errorf("invalid endpoint limits: %w", err)
	}

	costs, err := parseFloatMap(o.CostFactors)
	if err != nil {
		return ratelimit.Config{}, fmt.Errorf("invalid cost factors: %w", err)
	}

	cfg := ratelimit.Config{
		Enabled:        o.EnableRateLimit,
		Strategy:       ratelimit.Strategy(o.Strategy),
		Scope:          ratelimit.Scope(o.Scope),
		Requests:       o.Requests,
		Period:         period,
		Burst:          o.Burst,
		Tiers:          tiers,
		EndpointLimits: endpoints,
		ExemptIPs:      parseSet(o.ExemptIPs),
		ExemptAPIKeys:  parseSet(o.ExemptAPIKeys),
		CostFactors:    costs,
		EmitHeaders:    o.EnableHeaders,
		Headers: ratelimit.HeaderNames{
			Limit:      o.HeaderLimit,
			Remaining:  o.HeaderRemaining,
			Reset:      o.HeaderReset,
			RetryAfter: o.HeaderRetryAfter,
		},
	}

	if err := cfg.Validate(); err != nil {
		return ratelimit.Config{}, err
	}

	return cfg, nil
}

// parseSet splits a comma-separated list into a membership set. Empty
// items are dropped so trailing commas are harmless.
func parseSet(raw string) map[string]struct{} {
	set := make(map[string]struct{})

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		set[item] = struct{}{}
	}

	if len(set) == 0 {
		return nil
	}

	return set
}

func parsePairs(raw string) (map[string]string, error) {
	pairs := make(map[string]string)

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		name, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q is not name=value", item)
		}

		pairs[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	return pairs, nil
}

func parseInt64Map(raw string) (map[string]int64, error) {
	pairs, err := parsePairs(raw)
	if err != nil {
		return nil, err
	}

	if len(pairs) == 0 {
		return nil, nil
	}

	result := make(map[string]int64, len(pairs))

	for name, value := range pairs {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", name, err)
		}

		result[name] = n
	}

	return result, nil
}

func parseFloatMap(raw string) (map[string]float64, error) {
	pairs, err := parsePairs(raw)
	if err != nil {
		return nil, err
	}

	if len(pairs) == 0 {
		return nil, nil
	}

	result := make(map[string]float64, len(pairs))

	for name, value := range pairs {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", name, err)
		}

		result[name] = f
	}

	return result, nil
}
