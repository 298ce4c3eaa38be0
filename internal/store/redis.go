package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPrefix  = "ratelimit:"
	defaultTimeout = 500 * time.Millisecond
)

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithPrefix sets the key prefix used for all Redis keys.
func WithPrefix(prefix string) Option {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTimeout bounds each Redis round-trip. The request path must never
// hang on the backend; on timeout the store degrades to memory.
func WithTimeout(timeout time.Duration) Option {
	return func(s *RedisStore) { s.timeout = timeout }
}

// WithFallbackHook registers a callback invoked once when the store
// degrades to its in-memory fallback.
func WithFallbackHook(hook func(err error)) Option {
	return func(s *RedisStore) { s.onFallback = hook }
}

// RedisStore implements Store over Redis hashes, one hash per key.
//
// If Redis is unreachable at construction or any operation fails, the store
// degrades permanently to an internal MemoryStore: callers never see the
// failure (fail-open), but multi-node consistency is lost, so the
// degradation is logged and exposed via Degraded for health reporting.
type RedisStore struct {
	client     *redis.Client
	fallback   *MemoryStore
	logger     *zap.Logger
	prefix     string
	timeout    time.Duration
	degraded   atomic.Bool
	onFallback func(err error)
}

// NewRedisStore creates a Redis-backed state store. Connectivity is probed
// immediately so a dead backend is detected at startup, not per request.
func NewRedisStore(client *redis.Client, logger *zap.Logger, opts ...Option) *RedisStore {
	s := &RedisStore{
		client:   client,
		fallback: NewMemoryStore(),
		logger:   logger,
		prefix:   defaultPrefix,
		timeout:  defaultTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		s.degrade(err)
	}

	return s
}

// Degraded reports whether the store has fallen back to in-memory state.
func (s *RedisStore) Degraded() bool {
	return s.degraded.Load()
}

func (s *RedisStore) Get(ctx context.Context, key string) (map[string]string, error) {
	if s.degraded.Load() {
		return s.fallback.Get(ctx, key)
	}

	opCtx, cancel := s.boundCtx(ctx)
	defer cancel()

	fields, err := s.client.HGetAll(opCtx, s.prefix+key).Result()
	if err != nil {
		s.degrade(err)

		return s.fallback.Get(ctx, key)
	}

	if len(fields) == 0 {
		return nil, nil
	}

	return fields, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if s.degraded.Load() {
		return s.fallback.Set(ctx, key, fields, ttl)
	}

	opCtx, cancel := s.boundCtx(ctx)
	defer cancel()

	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}

	pipe := s.client.Pipeline()
	pipe.Del(opCtx, s.prefix+key)
	pipe.HSet(opCtx, s.prefix+key, args)

	if ttl > 0 {
		pipe.Expire(opCtx, s.prefix+key, ttl)
	}

	if _, err := pipe.Exec(opCtx); err != nil {
		s.degrade(err)

		return s.fallback.Set(ctx, key, fields, ttl)
	}

	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error) {
	if s.degraded.Load() {
		return s.fallback.Increment(ctx, key, field, delta, ttl)
	}

	opCtx, cancel := s.boundCtx(ctx)
	defer cancel()

	pipe := s.client.Pipeline()
	incr := pipe.HIncrBy(opCtx, s.prefix+key, field, delta)

	if ttl > 0 {
		pipe.Expire(opCtx, s.prefix+key, ttl)
	}

	if _, err := pipe.Exec(opCtx); err != nil {
		s.degrade(err)

		return s.fallback.Increment(ctx, key, field, delta, ttl)
	}

	return incr.Val(), nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if s.degraded.Load() {
		return s.fallback.Delete(ctx, key)
	}

	opCtx, cancel := s.boundCtx(ctx)
	defer cancel()

	if err := s.client.Del(opCtx, s.prefix+key).Err(); err != nil {
		s.degrade(err)

		return s.fallback.Delete(ctx, key)
	}

	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if s.degraded.Load() {
		return s.fallback.Clear(ctx)
	}

	opCtx, cancel := s.boundCtx(ctx)
	defer cancel()

	iter := s.client.Scan(opCtx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(opCtx) {
		if err := s.client.Del(opCtx, iter.Val()).Err(); err != nil {
			s.degrade(err)

			return s.fallback.Clear(ctx)
		}
	}

	if err := iter.Err(); err != nil {
		s.degrade(err)

		return s.fallback.Clear(ctx)
	}

	return nil
}

// boundCtx derives the per-operation context: detached from the caller's
// cancellation, bounded only by the store's timeout. A client aborting its
// request mid-check must neither abandon the state update in flight nor
// count as a backend failure against Redis.
func (s *RedisStore) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// degrade switches the store to its in-memory fallback for the remainder
// of the process lifetime. Counts accumulated in Redis are not migrated;
// the fallback starts cold, which is acceptable under fail-open.
func (s *RedisStore) degrade(err error) {
	if s.degraded.Swap(true) {
		return
	}

	s.logger.Warn("redis unavailable, rate limit state falling back to in-memory store",
		zap.Error(err),
		zap.String("timeout", s.timeout.String()),
	)

	if s.onFallback != nil {
		s.onFallback(err)
	}
}

// Compile-time check.
var _ Store = (*RedisStore)(nil)
