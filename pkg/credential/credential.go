// Package credential resolves and verifies the credentials attached to
// inbound requests: platform session cookies, bearer tokens from the
// platform or an external identity provider, and service API keys.
//
// Resolution is strictly ordered and fail-closed: the first credential
// source structurally present on a request is the one verified, and a
// present-but-invalid credential is a denial — the resolver never falls
// through to a weaker source. Verification produces [VerifiedClaims],
// which carry identity attributes only; privilege is assigned downstream
// unless the token carries the trusted role claim.
package credential

import (
	"time"

	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// ---------------------------------------------------------------------------
// Secret type — prevents accidental logging of sensitive values
// ---------------------------------------------------------------------------

// Secret is a string type that redacts its value in String(), GoString(),
// and MarshalText() to prevent accidental exposure in logs, JSON output,
// or fmt.Printf. The actual value is only accessible via the
// [Secret.Value] method, which should be called only where the raw value
// is truly needed (e.g., passing to a cryptographic function).
type Secret string

// secretRedacted is the placeholder text shown instead of the actual
// secret value when the secret is printed, formatted, or serialized.
const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder, preventing the secret from
// being printed via fmt.Println, log.Printf, or similar functions.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder, preventing the secret from
// being printed via fmt.Printf("%#v", secret).
func (s Secret) GoString() string { return secretRedacted }

// Value returns the actual secret string. This is the only way to access
// the underlying value.
func (s Secret) Value() string { return string(s) }

// MarshalText implements [encoding.TextMarshaler], returning the redacted
// placeholder. This prevents the secret from leaking into JSON, YAML, or
// any other text-based serialization format.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// ---------------------------------------------------------------------------
// Source — where a credential was found on the request
// ---------------------------------------------------------------------------

// Source identifies which request surface carried the credential. The
// source participates in audit records and drives verification routing
// (API keys are compared, tokens are parsed).
type Source string

const (
	// SourceSessionCookie identifies the platform session cookie. The
	// cookie value is a platform-signed JWT carrying a session ID claim.
	SourceSessionCookie Source = "session_cookie"

	// SourceBearerToken identifies an Authorization: Bearer token, signed
	// either by the platform (HS256) or by the external identity provider
	// (RS256/ES256 via JWKS).
	SourceBearerToken Source = "bearer_token"

	// SourceAPIKey identifies a pre-shared service key presented in the
	// X-API-Key header.
	SourceAPIKey Source = "api_key"
)

const (
	// SessionCookieName is the name of the platform session cookie.
	SessionCookieName = "mh_session"

	// APIKeyHeader is the header carrying pre-shared service keys.
	APIKeyHeader = "X-API-Key"
)

// TrustedRoleClaim is the namespaced custom claim the platform's token
// issuer uses to convey a role assignment. It is the ONLY claim from
// which a role may be taken: profile claims such as "role" or "roles"
// are attacker-influenced in federated tokens and are deliberately
// ignored. Tokens without this claim get their role from the privilege
// store during identity binding.
const TrustedRoleClaim = "https://mindhub.health/role"

// ---------------------------------------------------------------------------
// RawCredential / VerifiedClaims
// ---------------------------------------------------------------------------

// RawCredential is an extracted but not yet verified credential: the
// source it came from and its opaque value. The value must never be
// logged or included in audit records.
type RawCredential struct {
	Source Source
	Value  string
}

// VerifiedClaims is the output of successful credential verification:
// the identity attributes the gateway may trust about the caller.
//
// RoleHint is populated only when the token carried [TrustedRoleClaim]
// (RoleTrusted is then true) or when the credential was a service API
// key. Otherwise RoleHint is empty and the identity binder consults the
// privilege store.
type VerifiedClaims struct {
	// Subject is the issuer-scoped stable identifier for the caller
	// ("sub" claim, or a synthetic service subject for API keys).
	Subject string

	// Issuer is the verified "iss" claim.
	Issuer string

	// Email and Name are profile attributes, informational only. They
	// never influence authorization.
	Email string
	Name  string

	// SessionID is the platform session identifier ("sid" claim), empty
	// for credentials not bound to a session.
	SessionID string

	// Source records which request surface carried the credential.
	Source Source

	// RoleHint is the role conveyed by the trusted role claim, valid
	// only when RoleTrusted is true.
	RoleHint policy.Role

	// RoleTrusted reports whether RoleHint came from a source the
	// platform controls (trusted claim or API key registry).
	RoleTrusted bool

	// ExpiresAt and IssuedAt are the token's validity bounds. ExpiresAt
	// is zero for API keys, which do not expire on their own.
	ExpiresAt time.Time
	IssuedAt  time.Time

	// Claims is the full verified claim set, for audit enrichment and
	// custom downstream checks. Treat as read-only.
	Claims map[string]any
}
