package ratelimit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// TierResolver maps an API key to a subscription tier name. The tier's
// numeric limit feeds the same algorithm construction as the default limit;
// there is no separate code path for tiered callers.
type TierResolver interface {
	Resolve(ctx context.Context, apiKey string) string
}

// StaticTierResolver resolves every caller to a fixed tier. It is the stub
// used when no subscription backend is wired in.
type StaticTierResolver struct {
	tier string
}

// NewStaticTierResolver creates a resolver that always returns tier.
// An empty tier name resolves to DefaultTier.
func NewStaticTierResolver(tier string) *StaticTierResolver {
	if tier == "" {
		tier = DefaultTier
	}

	return &StaticTierResolver{tier: tier}
}

func (r *StaticTierResolver) Resolve(_ context.Context, _ string) string {
	return r.tier
}

// PostgresTierResolver looks up the caller's tier from the api_keys table.
// Lookup failures degrade to DefaultTier: a broken subscription backend
// must never block admission decisions.
type PostgresTierResolver struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresTierResolver creates a resolver backed by the given pool.
func NewPostgresTierResolver(pool *pgxpool.Pool, logger *zap.Logger) *PostgresTierResolver {
	return &PostgresTierResolver{pool: pool, logger: logger}
}

func (r *PostgresTierResolver) Resolve(ctx context.Context, apiKey string) string {
	if apiKey == "" {
		return DefaultTier
	}

	query := `
		SELECT tier
		FROM api_keys
		WHERE api_key = $1 AND revoked_at IS NULL
	`

	var tier string

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(&tier)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("tier lookup failed, using default tier", zap.Error(err))
		}

		return DefaultTier
	}

	return tier
}
