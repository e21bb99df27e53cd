// Package errors provides standardized error types and error handling
// utilities for the MindHub healthcare platform. It defines the error
// categories, stable machine-readable codes, and helper functions used by
// the request-security gateway and every service built on top of it.
//
// # Error Categories
//
// The package defines categories that map to the gateway's denial taxonomy:
//
//   - Validation errors: Malformed input, missing required fields
//   - Credential errors: Missing, malformed, expired, or unverifiable credentials
//   - Authorization errors: Insufficient role, permission, or resource ownership
//   - Threat errors: Request payloads matching attack signatures
//   - Rate errors: Identity or IP rate limits exceeded
//   - NotFound errors: Resource does not exist
//   - Conflict errors: Resource already exists, version mismatch
//   - Internal errors: Unexpected system failures
//   - Unavailable errors: Dependency temporarily unavailable
//   - Timeout errors: Operation exceeded time limit
//
// # Error Codes
//
// Each error includes a machine-readable code (e.g., "AUTH_002") that is
// stable across releases and appears verbatim in audit records and client
// error bodies. Codes follow the pattern CATEGORY_XXX.
//
// # Usage
//
// Create a new error with context:
//
//	err := errors.New(errors.CodeCredentialExpired, "session token has expired")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeInternalDatabase, "failed to load account")
//
// Check error category:
//
//	if errors.IsCredential(err) {
//	    // respond 401 and let the client re-authenticate
//	}
package errors
