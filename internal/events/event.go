// Package events publishes the engine's observability events: rejected
// requests and storage fallbacks. Rejections are normal decisions, not
// errors, but operators still want a stream of them; fallbacks degrade
// multi-node consistency and must be visible outside the process.
package events

import "time"

const (
	// TopicRequestRejected carries one event per rejected request.
	TopicRequestRejected = "ratelimit.request_rejected"
	// TopicStoreFallback carries one event per store degradation.
	TopicStoreFallback = "ratelimit.store_fallback"
)

// RequestRejectedEvent is emitted when the engine rejects a request.
type RequestRejectedEvent struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Limit      int64     `json:"limit"`
	RetryAfter float64   `json:"retryAfterSeconds"`
	ClientIP   string    `json:"clientIp"`
	OccurredAt time.Time `json:"occurredAt"`
}

// StoreFallbackEvent is emitted when the remote state store becomes
// unreachable and the engine degrades to in-memory counting (fail-open).
type StoreFallbackEvent struct {
	ID         string    `json:"id"`
	Backend    string    `json:"backend"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}
