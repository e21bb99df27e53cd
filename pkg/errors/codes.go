package errors

// Code represents a machine-readable error code for categorizing errors.
// Error codes follow the pattern CATEGORY_XXX where CATEGORY is a short
// identifier (e.g., VAL, AUTH, RATE) and XXX is a three-digit numeric code.
//
// Error codes are designed to be:
//   - Stable: Codes do not change once assigned
//   - Unique: Each error condition has a distinct code
//   - Auditable: Codes appear verbatim in compliance audit records
//   - Machine-readable: Suitable for automated error handling
type Code string

// Error code categories and the HTTP status each maps to:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Credential and session errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	THREAT_xxx  - Threat signature matches (400 Bad Request)
//	RATE_xxx    - Rate limiting (429 Too Many Requests)
//	NF_xxx      - Not found errors (404 Not Found)
//	CONF_xxx    - Conflict errors (409 Conflict)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Service unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
const (
	// Validation errors (VAL_xxx) - HTTP 400
	// Used when request input fails validation rules.

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// Credential and session errors (AUTH_xxx) - HTTP 401
	// Used when a caller cannot be authenticated or a session is no
	// longer trustworthy. All AUTH codes are recoverable by
	// re-authenticating; the gateway never retries them itself.

	// CodeCredentialMissing indicates no credential was presented.
	CodeCredentialMissing Code = "AUTH_001"

	// CodeCredentialExpired indicates the credential has expired.
	CodeCredentialExpired Code = "AUTH_002"

	// CodeCredentialInvalid indicates the credential is malformed or
	// its signature failed verification.
	CodeCredentialInvalid Code = "AUTH_003"

	// CodeIssuerMismatch indicates the credential was issued by an
	// unexpected issuer or for an unexpected audience.
	CodeIssuerMismatch Code = "AUTH_004"

	// CodeSessionExpired indicates the server-tracked session exceeded
	// its role-based inactivity timeout.
	CodeSessionExpired Code = "AUTH_005"

	// CodeSessionAnomaly indicates the session fingerprint changed in a
	// way consistent with hijacking; the session has been destroyed.
	CodeSessionAnomaly Code = "AUTH_006"

	// CodeKeysUnavailable indicates the identity provider's signing keys
	// could not be fetched and no cached key set was usable. The gateway
	// fails closed: this denies the request rather than degrading trust.
	CodeKeysUnavailable Code = "AUTH_007"

	// Authorization errors (AUTHZ_xxx) - HTTP 403
	// Used when an authenticated caller lacks the required privilege.
	// These are terminal for the request and logged as compliance events.

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeInsufficientRole indicates the caller's role is not in the
	// required role set for the operation.
	CodeInsufficientRole Code = "AUTHZ_002"

	// CodeInsufficientPermission indicates the caller's role lacks a
	// required permission.
	CodeInsufficientPermission Code = "AUTHZ_003"

	// CodeOwnershipDenied indicates the caller has no ownership of or
	// clinical assignment to the requested resource.
	CodeOwnershipDenied Code = "AUTHZ_004"

	// Threat errors (THREAT_xxx) - HTTP 400
	// Used when request content matches an attack signature. Logged as
	// security incidents with the matched category, never the raw payload.

	// CodeThreatDetected indicates one or more request values matched an
	// injection-class attack signature.
	CodeThreatDetected Code = "THREAT_001"

	// Rate errors (RATE_xxx) - HTTP 429
	// Transient; the client may retry after the advertised window.

	// CodeRateLimited indicates the caller exceeded its rate window.
	CodeRateLimited Code = "RATE_001"

	// Not found errors (NF_xxx) - HTTP 404
	// Used when a requested resource does not exist.

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundAccount indicates the requested account was not found.
	CodeNotFoundAccount Code = "NF_002"

	// Conflict errors (CONF_xxx) - HTTP 409
	// Used when an operation conflicts with current state.

	// CodeConflict indicates a general conflict error.
	CodeConflict Code = "CONF_001"

	// CodeConflictAlreadyExists indicates the resource already exists.
	CodeConflictAlreadyExists Code = "CONF_002"

	// Internal errors (INT_xxx) - HTTP 500
	// Used for unexpected internal failures.

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503
	// Used when a dependency is temporarily unavailable.

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependent service is unavailable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504
	// Used when an operation exceeds its time limit.

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
