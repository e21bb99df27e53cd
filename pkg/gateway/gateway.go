// Package gateway is the request-security orchestrator: the ordered
// pipeline every inbound request passes before it may touch patient
// data.
//
// Pipeline order, fixed by design:
//
//	request id → coarse IP limit → threat scan → lockout gate →
//	credential resolve → identity bind → session validate →
//	emergency bypass check → identity rate limit → authorization →
//	handler
//
// Threat scanning runs before identity resolution so probing requests
// cannot be used to fingerprint the authorization layer. Every stage
// fails closed: ambiguity, store outages, and unverifiable identity all
// deny. Every decision, allow or deny, is recorded to the audit sink.
package gateway

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindhub-health/gateway-core/pkg/account"
	"github.com/mindhub-health/gateway-core/pkg/audit"
	"github.com/mindhub-health/gateway-core/pkg/credential"
	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
	"github.com/mindhub-health/gateway-core/pkg/ratelimit"
	"github.com/mindhub-health/gateway-core/pkg/session"
	"github.com/mindhub-health/gateway-core/pkg/threat"
)

const tracerName = "github.com/mindhub-health/gateway-core/pkg/gateway"

// Header names consumed by the pipeline.
const (
	// RequestIDHeader carries the correlation id. An inbound value is
	// honored; otherwise the gateway generates one. The header is always
	// set on the response.
	RequestIDHeader = "X-Request-Id"

	// EmergencyAccessHeader, EmergencyCodeHeader, and
	// EmergencyJustificationHeader together request a clinical emergency
	// bypass of the identity rate limiter. See [Gateway] for semantics.
	EmergencyAccessHeader        = "X-Emergency-Access"
	EmergencyCodeHeader          = "X-Emergency-Code"
	EmergencyJustificationHeader = "X-Emergency-Justification"

	// ForwardedForHeader is consulted for the client address when the
	// gateway is configured to trust its proxy tier.
	ForwardedForHeader = "X-Forwarded-For"
)

// Config assembles the pipeline's collaborators. Resolver, Binder,
// Sessions, Limiter, Scanner, Table, and Audit are required; the rest
// are optional hardening layers that are skipped when nil.
type Config struct {
	// Resolver turns raw request credentials into verified claims.
	Resolver credential.ClaimsResolver

	// Binder maps verified claims to a platform account and role.
	Binder account.IdentityBinder

	// Sessions validates the caller's session fingerprint and activity.
	Sessions session.Validator

	// Limiter enforces the per-identity rate windows from Table.
	Limiter ratelimit.Limiter

	// IPLimiter, when set, throttles by caller address before any
	// credential work. It shields the verifier from anonymous floods.
	IPLimiter *ratelimit.IPLimiter

	// Scanner matches request values against threat signatures.
	Scanner *threat.Scanner

	// Table is the role policy table (permissions, timeouts, windows).
	Table *policy.Table

	// Ownership answers resource-ownership questions for routes that
	// carry a resource descriptor. When nil, every ownership-gated
	// request from a non-administrative role is denied.
	Ownership Ownership

	// Lockout, when set, counts failed credential verifications per
	// caller address and temporarily refuses further attempts.
	Lockout *Lockout

	// Audit receives one event per decision.
	Audit audit.Sink

	// EmergencyCode is the pre-shared clinical emergency bypass code. A
	// request presenting it (with a justification) skips the identity
	// rate limiter only; the bypass is always audited. Empty disables
	// the bypass entirely.
	EmergencyCode credential.Secret

	// TrustForwardedFor enables client-address extraction from
	// X-Forwarded-For. Enable only behind a proxy tier that strips the
	// inbound header; otherwise callers spoof their address.
	TrustForwardedFor bool

	// MaxBodyBytes bounds how much of the body the threat scanner
	// reads. Zero uses [threat.DefaultMaxBodyBytes].
	MaxBodyBytes int64

	// Metrics, when set, records pipeline decision counters and
	// latency.
	Metrics *Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Gateway runs the admission pipeline. Construct with [New]; the zero
// value is not usable.
//
// Gateway is safe for concurrent use by multiple goroutines.
type Gateway struct {
	resolver  credential.ClaimsResolver
	binder    account.IdentityBinder
	sessions  session.Validator
	limiter   ratelimit.Limiter
	ipLimiter *ratelimit.IPLimiter
	scanner   *threat.Scanner
	table     *policy.Table
	evaluator *Evaluator
	lockout   *Lockout
	sink      audit.Sink
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	emergencyCode     credential.Secret
	trustForwardedFor bool
	maxBodyBytes      int64

	now func() time.Time
}

// New validates the configuration and builds a Gateway.
func New(cfg Config) (*Gateway, error) {
	switch {
	case cfg.Resolver == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "gateway: credential resolver is required")
	case cfg.Binder == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "gateway: identity binder is required")
	case cfg.Sessions == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "gateway: session validator is required")
	case cfg.Limiter == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "gateway: rate limiter is required")
	case cfg.Scanner == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "gateway: threat scanner is required")
	case cfg.Table == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "gateway: policy table is required")
	case cfg.Audit == nil:
		return nil, sserr.New(sserr.CodeInternalConfiguration, "gateway: audit sink is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = threat.DefaultMaxBodyBytes
	}

	return &Gateway{
		resolver:          cfg.Resolver,
		binder:            cfg.Binder,
		sessions:          cfg.Sessions,
		limiter:           cfg.Limiter,
		ipLimiter:         cfg.IPLimiter,
		scanner:           cfg.Scanner,
		table:             cfg.Table,
		evaluator:         NewEvaluator(cfg.Table, cfg.Ownership),
		lockout:           cfg.Lockout,
		sink:              cfg.Audit,
		metrics:           cfg.Metrics,
		logger:            logger,
		tracer:            otel.Tracer(tracerName),
		emergencyCode:     cfg.EmergencyCode,
		trustForwardedFor: cfg.TrustForwardedFor,
		maxBodyBytes:      maxBody,
		now:               time.Now,
	}, nil
}
