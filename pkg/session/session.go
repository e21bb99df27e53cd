// Package session tracks server-side session state and watches for
// anomalies that suggest a stolen credential.
//
// The gateway, not the client, is the authority on session lifetime: a
// structurally valid session token whose server-side record has exceeded
// its role-based inactivity timeout is rejected. Fingerprint changes are
// graded — a user-agent change mid-session destroys the session outright,
// while an IP change (mobile networks, VPNs) is logged and tolerated.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// Session is the server-side record for one authenticated session.
type Session struct {
	// ID is the session identifier from the credential's "sid" claim.
	ID string `json:"id"`

	// AccountID is the platform account that owns the session.
	AccountID uuid.UUID `json:"account_id"`

	// Role is the role the session was established under. The role's
	// inactivity timeout governs expiry.
	Role policy.Role `json:"role"`

	// IP and UserAgent form the session fingerprint captured at
	// establishment and updated as the monitor tolerates changes.
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Store persists session records. Implementations must treat a missing
// record as [sserr.CodeNotFound]; the monitor distinguishes "never seen"
// from "expired" by whether a record exists.
//
// The ttl passed to Put is the role's inactivity timeout: stores that
// support native expiry (Redis) use it directly, and the in-memory store
// sweeps on it.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}
