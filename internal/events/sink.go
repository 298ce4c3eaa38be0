package events

import (
	"context"

	"go.uber.org/zap"
)

// Sink receives consumed engine events. Implementations decide what
// persistence or alerting means; the engine itself only emits.
type Sink interface {
	HandleRequestRejected(ctx context.Context, event *RequestRejectedEvent) error
	HandleStoreFallback(ctx context.Context, event *StoreFallbackEvent) error
}

// LogSink writes consumed events to the log. Rejections are routine and
// log at info; fallbacks mean degraded consistency and log at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed event sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) HandleRequestRejected(_ context.Context, event *RequestRejectedEvent) error {
	s.logger.Info("request rejected",
		zap.String("key", event.Key),
		zap.String("endpoint", event.Endpoint),
		zap.Int64("limit", event.Limit),
		zap.Float64("retryAfterSeconds", event.RetryAfter),
		zap.String("clientIp", event.ClientIP),
		zap.Time("occurredAt", event.OccurredAt),
	)

	return nil
}

func (s *LogSink) HandleStoreFallback(_ context.Context, event *StoreFallbackEvent) error {
	s.logger.Warn("rate limit store degraded to in-memory fallback",
		zap.String("backend", event.Backend),
		zap.String("reason", event.Reason),
		zap.Time("occurredAt", event.OccurredAt),
	)

	return nil
}

// Compile-time check.
var _ Sink = (*LogSink)(nil)
