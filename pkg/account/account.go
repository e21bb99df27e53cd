// Package account binds verified credentials to platform accounts and
// resolves the caller's effective role.
//
// Identity and privilege are kept strictly separate: credential claims
// prove WHO the caller is, while the privilege store decides WHAT role
// they hold. The only exception is the platform's trusted role claim
// (and the API key registry), which the token issuer controls. Profile
// claims never assign roles.
package account

import (
	"time"

	"github.com/google/uuid"

	"github.com/mindhub-health/gateway-core/pkg/credential"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// Account is a platform account row. Accounts are keyed internally by a
// platform-generated UUID and externally by the issuer-scoped subject of
// the credential that first created them.
type Account struct {
	// ID is the platform's stable account identifier.
	ID uuid.UUID

	// ExternalSubjectID is the issuer-scoped credential subject
	// ("<issuer>|<sub>"). Unique across the accounts table; the
	// find-or-create upsert conflicts on it.
	ExternalSubjectID string

	// Email and DisplayName are profile attributes refreshed from the
	// credential on every bind. Informational only.
	Email       string
	DisplayName string

	// Role is the stored role assignment, used when the credential does
	// not carry the trusted role claim.
	Role policy.Role

	// Active reports whether the account may authenticate. Deactivated
	// accounts are denied even with a valid credential.
	Active bool

	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastSeenAt time.Time
}

// ExternalIdentity is the issuer-scoped identity extracted from verified
// claims, used to locate or create the account.
type ExternalIdentity struct {
	SubjectID   string // "<issuer>|<sub>"
	Email       string
	DisplayName string
}

// SubjectKey composes the issuer-scoped subject identifier. Scoping by
// issuer prevents a subject collision between the platform and the
// external provider from merging two different people into one account.
func SubjectKey(issuer, subject string) string {
	return issuer + "|" + subject
}

// BoundIdentity is the output of identity binding: the account, the
// effective role for this request, and the claims that proved it.
type BoundIdentity struct {
	Account Account
	Role    policy.Role
	Claims  *credential.VerifiedClaims
}
