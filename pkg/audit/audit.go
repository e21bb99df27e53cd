// Package audit emits the gateway's compliance trail: one structured
// event per security decision, allow or deny.
//
// Events carry WHO (account, role, address), WHAT (method, path,
// decision, denial code), and WHEN — never credential material and never
// request payloads. Threat detections record only the matched category.
package audit

import (
	"context"
	"time"

	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// Decision classifies the outcome an event records.
type Decision string

const (
	// DecisionAllow records a request admitted by the full pipeline.
	DecisionAllow Decision = "allow"

	// DecisionDeny records a request refused with a typed denial.
	DecisionDeny Decision = "deny"

	// DecisionIncident records a security incident: a threat signature
	// match, a suspected session hijack, or an invalid emergency access
	// attempt. Incidents are denials flagged for security review.
	DecisionIncident Decision = "incident"
)

// Event is one audit record. Zero-valued fields are omitted from the
// encoded form; a pre-authentication denial has no account or role.
type Event struct {
	// Timestamp is when the decision was made (UTC).
	Timestamp time.Time `json:"timestamp"`

	// RequestID correlates the event with logs and traces.
	RequestID string `json:"request_id"`

	// Decision is the outcome; Code is the denial code for deny and
	// incident events, empty for allows.
	Decision Decision `json:"decision"`
	Code     string   `json:"code,omitempty"`

	// AccountID and Role identify the caller when known.
	AccountID string      `json:"account_id,omitempty"`
	Role      policy.Role `json:"role,omitempty"`

	// Method and Path locate the attempted operation. Path is the URL
	// path only, never the query string, which may carry payloads.
	Method string `json:"method"`
	Path   string `json:"path"`

	// IP is the caller's address.
	IP string `json:"ip,omitempty"`

	// ThreatCategories lists matched signature categories for threat
	// incidents. The matched values themselves are never recorded.
	ThreatCategories []string `json:"threat_categories,omitempty"`

	// EmergencyAccess marks events produced under an emergency bypass.
	// These are always recorded regardless of outcome.
	EmergencyAccess bool `json:"emergency_access,omitempty"`

	// Details carries decision-specific context (e.g., the required
	// permission that was missing).
	Details map[string]string `json:"details,omitempty"`
}

// Sink receives audit events. Implementations must be safe for
// concurrent use and must not block the request path; buffer or drop
// under pressure rather than stall admission decisions.
type Sink interface {
	Record(ctx context.Context, event Event)
}
