package session

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindhub-health/gateway-core/pkg/account"
	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// tracerName is the OpenTelemetry instrumentation scope for session
// monitoring spans.
const tracerName = "github.com/mindhub-health/gateway-core/pkg/session"

// lockStripes is the number of mutex stripes guarding compare-then-update
// on session records. Striping bounds memory while keeping contention low;
// two requests for the same session always hit the same stripe.
const lockStripes = 64

// Fingerprint is the per-request client fingerprint checked against the
// session record.
type Fingerprint struct {
	IP        string
	UserAgent string
}

// Validator validates the session backing a bound identity. Implemented
// by [Monitor]; the gateway pipeline depends on this interface.
type Validator interface {
	Validate(ctx context.Context, bound *account.BoundIdentity, fp Fingerprint) error
}

// Monitor enforces server-side session lifetime and fingerprint rules:
//
//   - A session idle past its role's inactivity timeout is expired and
//     removed ([sserr.CodeSessionExpired]).
//   - A user-agent change mid-session is treated as hijack evidence: the
//     session is destroyed and the request denied
//     ([sserr.CodeSessionAnomaly]). Browsers do not change user-agent
//     within a session; stolen cookies replayed elsewhere do.
//   - An IP change is logged and tolerated — mobile clients and VPNs
//     legitimately roam — and the record is updated to the new address.
//
// Read-check-update runs under a per-session striped lock so concurrent
// requests for the same session cannot interleave their checks.
//
// Monitor is safe for concurrent use by multiple goroutines.
type Monitor struct {
	store  Store
	table  *policy.Table
	logger *slog.Logger
	tracer trace.Tracer
	locks  [lockStripes]sync.Mutex
	now    func() time.Time
}

// Compile-time assertion that Monitor implements Validator.
var _ Validator = (*Monitor)(nil)

// NewMonitor creates a Monitor over the given store and policy table.
func NewMonitor(store Store, table *policy.Table, logger *slog.Logger) (*Monitor, error) {
	if store == nil || table == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration,
			"session: monitor requires a store and a policy table")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:  store,
		table:  table,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}, nil
}

// Validate checks the session named by the bound identity's credential.
// Credentials without a session ID (API keys, plain bearer tokens) pass
// through untouched: there is no session to monitor.
//
// A session seen for the first time is established with the current
// fingerprint. On success the record's last-activity time is advanced,
// resetting the inactivity window.
func (m *Monitor) Validate(ctx context.Context, bound *account.BoundIdentity, fp Fingerprint) error {
	if bound == nil || bound.Claims == nil {
		return sserr.New(sserr.CodeInternal, "session: nil identity")
	}
	sid := bound.Claims.SessionID
	if sid == "" {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "session.Validate")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sid))

	lock := m.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	timeout := m.table.SessionTimeoutFor(bound.Role)
	now := m.now()

	sess, err := m.store.Get(ctx, sid)
	if err != nil {
		if sserr.IsNotFound(err) {
			return m.establish(ctx, span, sid, bound, fp, now, timeout)
		}
		// Store outage: fail closed, never assume the session is fine.
		recordSpanError(span, err)
		return err
	}

	if now.Sub(sess.LastActivityAt) > timeout {
		_ = m.store.Delete(ctx, sid)
		expired := sserr.New(sserr.CodeSessionExpired,
			"session: session exceeded its inactivity timeout")
		recordSpanError(span, expired)
		return expired
	}

	if sess.UserAgent != fp.UserAgent {
		_ = m.store.Delete(ctx, sid)
		m.logger.WarnContext(ctx, "session destroyed: user-agent changed mid-session",
			"session_id", sid,
			"account_id", sess.AccountID.String(),
		)
		anomaly := sserr.New(sserr.CodeSessionAnomaly,
			"session: session fingerprint changed; re-authentication required")
		recordSpanError(span, anomaly)
		return anomaly
	}

	if sess.IP != fp.IP {
		m.logger.WarnContext(ctx, "session IP changed; continuing",
			"session_id", sid,
			"account_id", sess.AccountID.String(),
			"old_ip", sess.IP,
			"new_ip", fp.IP,
		)
		sess.IP = fp.IP
	}

	sess.LastActivityAt = now
	sess.Role = bound.Role
	if err := m.store.Put(ctx, sess, timeout); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

// Destroy removes a session immediately. Used on logout and when an
// emergency responder's access is revoked.
func (m *Monitor) Destroy(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	lock := m.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()
	return m.store.Delete(ctx, sid)
}

// establish creates the server-side record on first sight of a session.
// Caller holds the stripe lock.
func (m *Monitor) establish(ctx context.Context, span trace.Span, sid string, bound *account.BoundIdentity, fp Fingerprint, now time.Time, timeout time.Duration) error {
	sess := &Session{
		ID:             sid,
		AccountID:      bound.Account.ID,
		Role:           bound.Role,
		IP:             fp.IP,
		UserAgent:      fp.UserAgent,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.store.Put(ctx, sess, timeout); err != nil {
		recordSpanError(span, err)
		return err
	}
	span.SetAttributes(attribute.Bool("session.established", true))
	return nil
}

// lockFor returns the stripe mutex for a session ID.
func (m *Monitor) lockFor(sid string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sid))
	return &m.locks[h.Sum32()%lockStripes]
}

// recordSpanError records an error on the span and sets Error status.
func recordSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
