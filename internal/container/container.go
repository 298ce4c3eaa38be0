// Package container assembles the service from per-concern packages so the
// server and consumer binaries can share wiring.
package container

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"

	"github.com/anchapin/apiguard/internal/events"
	"github.com/anchapin/apiguard/internal/handlers"
	"github.com/anchapin/apiguard/internal/health"
	"github.com/anchapin/apiguard/internal/middleware"
	"github.com/anchapin/apiguard/internal/ratelimit"
	"github.com/anchapin/apiguard/internal/store"
)

// LoggerPackage provides the zap logger, console or JSON per options.
func LoggerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*zap.Logger, error) {
		options := do.MustInvoke[*Options](i)

		if options.LogFormat == "json" {
			return zap.NewProduction()
		}

		return zap.NewDevelopment()
	})
}

// RedisPackage provides the shared redis client. The client is nil when no
// address is configured; dependents fall back to in-process alternatives.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*redis.Client, error) {
		options := do.MustInvoke[*Options](i)

		if options.RedisAddr == "" {
			return nil, nil
		}

		return redis.NewClient(&redis.Options{
			Addr: options.RedisAddr,
		}), nil
	})
}

// PostgresPackage provides the pgx pool for tier lookups, nil when no DSN
// is configured.
func PostgresPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*pgxpool.Pool, error) {
		options := do.MustInvoke[*Options](i)

		if options.PostgresDSN == "" {
			return nil, nil
		}

		return pgxpool.New(context.Background(), options.PostgresDSN)
	})
}

// EventsPackage provides the watermill publisher over redis streams. With
// no redis configured the publisher is nil, which drops events silently.
func EventsPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*events.Publisher, error) {
		client := do.MustInvoke[*redis.Client](i)
		if client == nil {
			return nil, nil
		}

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client: client,
		}, watermill.NewStdLogger(false, false))
		if err != nil {
			return nil, err
		}

		return events.NewPublisher(publisher), nil
	})
}

// StorePackage provides the engine's state store: redis with in-memory
// fallback when an address is configured, plain memory otherwise. The
// fallback hook surfaces degradation on the event stream.
func StorePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (store.Store, error) {
		options := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if options.RedisAddr == "" {
			logger.Info("using in-memory rate limit store")

			return store.NewMemoryStore(), nil
		}

		client := do.MustInvoke[*redis.Client](i)
		publisher := do.MustInvoke[*events.Publisher](i)

		return store.NewRedisStore(client, logger, store.WithFallbackHook(func(cause error) {
			_ = publisher.PublishStoreFallback(&events.StoreFallbackEvent{
				ID:         uuid.NewString(),
				Backend:    "redis",
				Reason:     cause.Error(),
				OccurredAt: time.Now(),
			})
		})), nil
	})
}

// RateLimitPackage provides the tier resolver and the policy manager.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (ratelimit.TierResolver, error) {
		options := do.MustInvoke[*Options](i)

		if options.PostgresDSN == "" {
			return ratelimit.NewStaticTierResolver(ratelimit.DefaultTier), nil
		}

		pool := do.MustInvoke[*pgxpool.Pool](i)
		logger := do.MustInvoke[*zap.Logger](i)

		return ratelimit.NewPostgresTierResolver(pool, logger), nil
	})

	do.Provide(injector, func(i *do.Injector) (*ratelimit.Manager, error) {
		options := do.MustInvoke[*Options](i)

		cfg, err := options.RateLimitConfig()
		if err != nil {
			return nil, err
		}

		return ratelimit.NewManager(
			cfg,
			do.MustInvoke[store.Store](i),
			do.MustInvoke[ratelimit.TierResolver](i),
			do.MustInvoke[*zap.Logger](i),
		)
	})
}

// HTTPPackage provides the router and the huma API with the middleware
// chain and routes registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)
		manager := do.MustInvoke[*ratelimit.Manager](i)
		publisher := do.MustInvoke[*events.Publisher](i)

		api := humachi.New(router, huma.DefaultConfig("API Guard", "1.0.0"))
		api.UseMiddleware(middleware.ExtractMeta(api))
		api.UseMiddleware(middleware.RateLimiter(api, manager, publisher, logger))

		var checker health.Checker
		if client := do.MustInvoke[*redis.Client](i); client != nil {
			checker = health.NewRedisChecker(client)
		}

		var reporter health.DegradationReporter
		if rs, ok := do.MustInvoke[store.Store](i).(*store.RedisStore); ok {
			reporter = rs
		}

		health.RegisterRoutes(api, health.NewHandler(checker, reporter))
		handlers.RegisterRoutes(api, handlers.NewQuotaHandler(manager, logger))

		return api, nil
	})
}

// ConsumerPackage provides the event consumer that reads the engine's
// stream and feeds the log sink. The consumer owns the subscriber it is
// handed and closes it on shutdown.
func ConsumerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*events.Consumer, error) {
		options := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		client := do.MustInvoke[*redis.Client](i)

		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        client,
			ConsumerGroup: options.EventConsumerName,
		}, watermill.NewStdLogger(false, false))
		if err != nil {
			return nil, err
		}

		return events.NewConsumer(subscriber, events.NewLogSink(logger), logger), nil
	})
}
