// Package ratelimit enforces the platform's request budgets: a coarse
// per-IP token bucket applied before any credential work, and per-identity
// fixed-window counters sized by role after authentication.
//
// Limit state is advisory metadata for clients (remaining quota, window
// reset) but authoritative for admission: when the store backing a
// limiter is unreachable the gateway fails closed and denies, because an
// unenforced limit on a healthcare API is a worse failure mode than a
// temporary 503.
package ratelimit

import (
	"context"
	"time"

	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// Decision is the outcome of a limit check, carrying the metadata the
// gateway surfaces in X-RateLimit-* response headers.
type Decision struct {
	// Allowed reports whether the request is within budget.
	Allowed bool

	// Limit is the window's maximum request count.
	Limit int

	// Remaining is the quota left in the current window, never negative.
	Remaining int

	// ResetAt is when the current window ends and the quota refills.
	ResetAt time.Time
}

// Limiter counts requests against fixed windows. Keys are opaque to the
// limiter; the gateway composes them from the identity key and role so
// a role change mid-window starts a fresh budget.
type Limiter interface {
	// Allow records one request against the key and reports whether it
	// fits the window. Implementations must return an error (not a
	// permissive decision) when their backing store is unavailable.
	Allow(ctx context.Context, key string, window policy.RateWindow) (Decision, error)
}
