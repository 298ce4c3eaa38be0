// Package ratelimit implements the admission-control engine: four
// interchangeable limiting algorithms and a policy manager that composes
// scopes, tiers, exemptions and per-endpoint overrides on top of them.
package ratelimit

import "time"

// Decision is the result of a single admission check. It is produced fresh
// on every check and consumed immediately by the caller; it is never stored.
// A rejected request is a normal decision, not an error.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the quota ceiling that applied. 0 means unlimited
	// (exempt caller or limiting disabled).
	Limit int64

	// Remaining is the quota left after this check. Never negative.
	Remaining int64

	// ResetAt is when the window or bucket fully replenishes.
	ResetAt time.Time

	// RetryAfter is how long to wait before retrying.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Unlimited is the decision returned for exempt callers and when rate
// limiting is disabled: always allowed, Limit 0 as the unlimited sentinel.
func Unlimited() Decision {
	return Decision{Allowed: true, Limit: 0}
}
