package repository

import (
	"context"
	"time"
)

// CallStateStore remembers which provider call legs already consumed quota,
// so a retried fulfillment webhook for the same CallSid cannot consume
// twice. Implementations: Redis (production) or in-memory (local dev /
// single-instance).
type CallStateStore interface {
	// MarkConsumed records callSID and reports whether this was the first
	// time it was seen. Entries expire after ttl.
	MarkConsumed(ctx context.Context, callSID string, ttl time.Duration) (bool, error)
}
