package errors

import (
	"fmt"
	"net/http"
)

// Error is the denial type every gateway stage returns. It carries a
// stable machine-readable Code, a caller-safe Message, an optional
// wrapped Cause, and structured Details for audit records and response
// headers.
//
// Values are treated as immutable once constructed: the With* methods
// return copies, so a shared sentinel can be decorated per request
// without data races.
type Error struct {
	// Code identifies the denial class, e.g. "AUTH_003".
	Code Code

	// Message is safe to return to callers. It must never contain
	// protected health information, credential material, or matched
	// request payloads.
	Message string

	// Cause holds the wrapped lower-level error, reachable through
	// errors.Unwrap. It is for logs only, never for responses.
	Cause error

	// Details carries structured context: the denial stage, matched
	// threat categories, rate-window metadata, and similar.
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the code's category to the response status the
// gateway writes for this denial.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "VAL", "THREAT":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "RATE":
		return http.StatusTooManyRequests
	case "NF":
		return http.StatusNotFound
	case "CONF":
		return http.StatusConflict
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// clone copies the error with room for extra detail entries. The
// receiver is never mutated.
func (e *Error) clone(extra int) *Error {
	details := make(map[string]any, len(e.Details)+extra)
	for k, v := range e.Details {
		details[k] = v
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// WithDetail returns a copy of the error with one detail entry added.
func (e *Error) WithDetail(key string, value any) *Error {
	out := e.clone(1)
	out.Details[key] = value
	return out
}

// WithDetails returns a copy of the error with all entries of details
// merged in, later entries winning on key collision.
func (e *Error) WithDetails(details map[string]any) *Error {
	out := e.clone(len(details))
	for k, v := range details {
		out.Details[k] = v
	}
	return out
}

// Format renders %v/%s/%q as Error() does; %+v additionally expands
// the details and the full cause chain for log output.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fmt.Fprint(s, e.Error())
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
