package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindhub-health/gateway-core/pkg/account"
	"github.com/mindhub-health/gateway-core/pkg/audit"
	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/ratelimit"
	"github.com/mindhub-health/gateway-core/pkg/session"
	"github.com/mindhub-health/gateway-core/pkg/threat"
)

// requestState accumulates what the pipeline has learned about one
// request, for audit events and denial responses.
type requestState struct {
	requestID     string
	ip            string
	start         time.Time
	bound         *account.BoundIdentity
	threats       []threat.Category
	emergency     bool
	justification string
	rate          *ratelimit.Decision
}

// Protect wraps a handler with the full admission pipeline under the
// given authorization requirement. Handlers reached through Protect can
// rely on [IdentityFromContext] returning the admitted caller.
func (g *Gateway) Protect(requirement Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, requirement, next)
		})
	}
}

// ProtectFunc is [Protect] for a bare handler func.
func (g *Gateway) ProtectFunc(requirement Requirement, next http.HandlerFunc) http.Handler {
	return g.Protect(requirement)(next)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, requirement Requirement, next http.Handler) {
	g.metrics.enter()
	defer g.metrics.exit()

	ctx, span := g.tracer.Start(r.Context(), "gateway.Admit",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		))
	defer span.End()

	st := &requestState{
		requestID: inboundRequestID(r),
		ip:        g.clientIP(r),
		start:     g.now(),
	}
	w.Header().Set(RequestIDHeader, st.requestID)
	ctx = ContextWithRequestID(ctx, st.requestID)
	span.SetAttributes(attribute.String("request.id", st.requestID))

	// Coarse per-address throttle, before any credential work, so
	// anonymous floods never reach signature verification.
	if g.ipLimiter != nil && !g.ipLimiter.Allow(st.ip) {
		g.deny(ctx, w, r, span, st,
			sserr.RateLimited("gateway: too many requests from this address"))
		return
	}

	// Threat scan before identity resolution: probing requests must not
	// be able to fingerprint the authorization layer.
	values, err := threat.RequestValues(r, g.maxBodyBytes)
	if err != nil {
		g.deny(ctx, w, r, span, st, err)
		return
	}
	if categories := g.scanner.Scan(values); len(categories) > 0 {
		st.threats = categories
		names := make([]string, len(categories))
		for i, c := range categories {
			names[i] = string(c)
		}
		g.deny(ctx, w, r, span, st, sserr.ThreatDetected(names...))
		return
	}

	if g.lockout != nil {
		if locked, until := g.lockout.Locked(st.ip); locked {
			st.rate = &ratelimit.Decision{ResetAt: until}
			g.deny(ctx, w, r, span, st,
				sserr.RateLimited("gateway: credential verification temporarily locked for this address"))
			return
		}
	}

	claims, err := g.resolver.Resolve(ctx, r)
	if err != nil {
		// A missing credential is not an attack signal; a presented
		// credential that fails verification is.
		if g.lockout != nil && sserr.GetCode(err) != sserr.CodeCredentialMissing {
			g.lockout.Fail(st.ip)
		}
		g.deny(ctx, w, r, span, st, err)
		return
	}
	if g.lockout != nil {
		g.lockout.Reset(st.ip)
	}

	bound, err := g.binder.Bind(ctx, claims)
	if err != nil {
		g.deny(ctx, w, r, span, st, err)
		return
	}
	st.bound = bound
	span.SetAttributes(attribute.String("identity.role", string(bound.Role)))

	// An aborted request must not be charged against session activity
	// or rate budgets.
	if ctx.Err() != nil {
		return
	}

	fp := session.Fingerprint{IP: st.ip, UserAgent: r.UserAgent()}
	if err := g.sessions.Validate(ctx, bound, fp); err != nil {
		g.deny(ctx, w, r, span, st, err)
		return
	}

	if g.checkEmergency(ctx, r, st) {
		ctx = contextWithEmergency(ctx)
	} else {
		if ctx.Err() != nil {
			return
		}
		window := g.table.RateWindowFor(bound.Role)
		key := bound.Account.ID.String() + "|" + string(bound.Role)
		decision, err := g.limiter.Allow(ctx, key, window)
		if err != nil {
			g.deny(ctx, w, r, span, st, err)
			return
		}
		st.rate = &decision
		if !decision.Allowed {
			g.deny(ctx, w, r, span, st,
				sserr.RateLimited("gateway: rate window exhausted"))
			return
		}
	}

	if err := g.evaluator.Evaluate(ctx, bound, requirement); err != nil {
		g.deny(ctx, w, r, span, st, err)
		return
	}

	g.allowed(ctx, r, st)
	ctx = ContextWithIdentity(ctx, bound)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// checkEmergency evaluates the clinical emergency bypass headers. A
// valid code with a justification grants a rate-limit bypass, recorded
// in the final audit event. An invalid attempt is itself a security
// incident; processing continues un-bypassed.
func (g *Gateway) checkEmergency(ctx context.Context, r *http.Request, st *requestState) bool {
	if !strings.EqualFold(r.Header.Get(EmergencyAccessHeader), "true") {
		return false
	}
	code := r.Header.Get(EmergencyCodeHeader)
	justification := r.Header.Get(EmergencyJustificationHeader)

	valid := len(g.emergencyCode) > 0 && justification != "" &&
		subtle.ConstantTimeCompare([]byte(code), []byte(g.emergencyCode)) == 1
	if !valid {
		g.logger.WarnContext(ctx, "invalid emergency bypass attempt",
			"request_id", st.requestID, "ip", st.ip)
		event := g.newEvent(r, st, audit.DecisionIncident, string(sserr.CodeAuthorization))
		event.Details = map[string]string{"reason": "invalid emergency bypass code"}
		g.sink.Record(ctx, event)
		return false
	}

	st.emergency = true
	st.justification = justification
	g.logger.WarnContext(ctx, "emergency rate-limit bypass granted",
		"request_id", st.requestID, "ip", st.ip, "justification", justification)
	return true
}

// allowed emits the allow audit event and decision metrics.
func (g *Gateway) allowed(ctx context.Context, r *http.Request, st *requestState) {
	event := g.newEvent(r, st, audit.DecisionAllow, "")
	g.sink.Record(ctx, event)
	g.metrics.observe(string(audit.DecisionAllow), "", g.now().Sub(st.start))
}

// deny records the decision and writes the denial response.
func (g *Gateway) deny(ctx context.Context, w http.ResponseWriter, r *http.Request, span trace.Span, st *requestState, err error) {
	e := sserr.FromError(err)

	decision := audit.DecisionDeny
	switch e.Code {
	case sserr.CodeThreatDetected, sserr.CodeSessionAnomaly:
		decision = audit.DecisionIncident
	}

	event := g.newEvent(r, st, decision, string(e.Code))
	if len(e.Details) > 0 {
		// Merge: newEvent may already carry entries (the emergency
		// justification) that must survive into the denial record.
		if event.Details == nil {
			event.Details = make(map[string]string, len(e.Details))
		}
		for k, v := range e.Details {
			event.Details[k] = fmt.Sprint(v)
		}
	}
	g.sink.Record(ctx, event)

	span.SetStatus(otelcodes.Error, string(e.Code))
	g.metrics.observe(string(decision), string(e.Code), g.now().Sub(st.start))

	g.writeDenial(w, st, e)
}

// newEvent builds the common audit event fields for this request.
func (g *Gateway) newEvent(r *http.Request, st *requestState, decision audit.Decision, code string) audit.Event {
	event := audit.Event{
		Timestamp:       g.now().UTC(),
		RequestID:       st.requestID,
		Decision:        decision,
		Code:            code,
		Method:          r.Method,
		Path:            r.URL.Path,
		IP:              st.ip,
		EmergencyAccess: st.emergency,
	}
	if st.bound != nil {
		event.AccountID = st.bound.Account.ID.String()
		event.Role = st.bound.Role
	}
	for _, c := range st.threats {
		event.ThreatCategories = append(event.ThreatCategories, string(c))
	}
	if st.justification != "" {
		event.Details = map[string]string{"justification": st.justification}
	}
	return event
}

// denialBody is the wire shape of every denial response.
type denialBody struct {
	Error denialError `json:"error"`
}

type denialError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

// writeDenial renders the JSON denial and, for rate-limit denials, the
// retry metadata headers.
func (g *Gateway) writeDenial(w http.ResponseWriter, st *requestState, e *sserr.Error) {
	if e.Code == sserr.CodeRateLimited {
		retryAfter := 1
		if st.rate != nil && !st.rate.ResetAt.IsZero() {
			if secs := int(time.Until(st.rate.ResetAt).Seconds()) + 1; secs > retryAfter {
				retryAfter = secs
			}
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(st.rate.ResetAt.Unix(), 10))
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		// Lockout denials know only the retry time, not a window size;
		// emitting Limit: 0 there would misdescribe the denial.
		if st.rate != nil && st.rate.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(st.rate.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(st.rate.Remaining))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(denialBody{Error: denialError{
		Code:      string(e.Code),
		Message:   e.Message,
		RequestID: st.requestID,
		Timestamp: g.now().UTC().Format(time.RFC3339),
	}})
}

// inboundRequestID honors a caller-supplied correlation id, generating
// one otherwise.
func inboundRequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// clientIP extracts the caller address, honoring X-Forwarded-For only
// when the gateway is configured to trust its proxy tier.
func (g *Gateway) clientIP(r *http.Request) string {
	if g.trustForwardedFor {
		if fwd := r.Header.Get(ForwardedForHeader); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
