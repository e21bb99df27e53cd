package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/mindhub-health/gateway-core/pkg/audit"
	"github.com/mindhub-health/gateway-core/pkg/credential"
	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/session"
)

// gRPC admission for service-to-service calls. The pipeline is the
// HTTP one minus the surfaces gRPC does not have: no session cookie
// source and no payload threat scan (protobuf bodies are not scanned;
// signatures target the text surfaces of the HTTP edge).

// UnaryServerInterceptor admits unary RPCs through the pipeline under
// the given requirement. Admitted handlers can rely on
// [IdentityFromContext].
func (g *Gateway) UnaryServerInterceptor(requirement Requirement) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := g.admitGRPC(ctx, info.FullMethod, requirement)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor admits streaming RPCs through the same
// pipeline, wrapping the stream to carry the enriched context.
func (g *Gateway) StreamServerInterceptor(requirement Requirement) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := g.admitGRPC(ss.Context(), info.FullMethod, requirement)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// admitGRPC runs resolve → bind → session → rate limit → authorize over
// the RPC metadata and returns the enriched context or a gRPC status
// error.
func (g *Gateway) admitGRPC(ctx context.Context, fullMethod string, requirement Requirement) (context.Context, error) {
	st := &requestState{
		requestID: uuid.NewString(),
		ip:        grpcPeerAddr(ctx),
		start:     g.now(),
	}
	g.metrics.enter()
	defer g.metrics.exit()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, g.denyGRPC(ctx, st, fullMethod,
			sserr.New(sserr.CodeCredentialMissing, "gateway: missing rpc metadata"))
	}
	if ids := md.Get(strings.ToLower(RequestIDHeader)); len(ids) > 0 && ids[0] != "" {
		st.requestID = ids[0]
	}
	ctx = ContextWithRequestID(ctx, st.requestID)

	if g.lockout != nil {
		if locked, _ := g.lockout.Locked(st.ip); locked {
			return ctx, g.denyGRPC(ctx, st, fullMethod,
				sserr.RateLimited("gateway: credential verification temporarily locked for this address"))
		}
	}

	claims, err := g.resolver.Resolve(ctx, credentialRequest(md))
	if err != nil {
		if g.lockout != nil && sserr.GetCode(err) != sserr.CodeCredentialMissing {
			g.lockout.Fail(st.ip)
		}
		return ctx, g.denyGRPC(ctx, st, fullMethod, err)
	}
	if g.lockout != nil {
		g.lockout.Reset(st.ip)
	}

	bound, err := g.binder.Bind(ctx, claims)
	if err != nil {
		return ctx, g.denyGRPC(ctx, st, fullMethod, err)
	}
	st.bound = bound

	if err := ctx.Err(); err != nil {
		return ctx, status.FromContextError(err).Err()
	}

	fp := session.Fingerprint{IP: st.ip, UserAgent: firstMetadata(md, "user-agent")}
	if err := g.sessions.Validate(ctx, bound, fp); err != nil {
		return ctx, g.denyGRPC(ctx, st, fullMethod, err)
	}

	window := g.table.RateWindowFor(bound.Role)
	key := bound.Account.ID.String() + "|" + string(bound.Role)
	decision, err := g.limiter.Allow(ctx, key, window)
	if err != nil {
		return ctx, g.denyGRPC(ctx, st, fullMethod, err)
	}
	st.rate = &decision
	if !decision.Allowed {
		return ctx, g.denyGRPC(ctx, st, fullMethod,
			sserr.RateLimited("gateway: rate window exhausted"))
	}

	if err := g.evaluator.Evaluate(ctx, bound, requirement); err != nil {
		return ctx, g.denyGRPC(ctx, st, fullMethod, err)
	}

	g.sink.Record(ctx, g.grpcEvent(st, fullMethod, audit.DecisionAllow, ""))
	g.metrics.observe(string(audit.DecisionAllow), "", g.now().Sub(st.start))
	return ContextWithIdentity(ctx, bound), nil
}

// denyGRPC records the denial and converts it to a gRPC status error.
func (g *Gateway) denyGRPC(ctx context.Context, st *requestState, fullMethod string, err error) error {
	e := sserr.FromError(err)

	decision := audit.DecisionDeny
	if e.Code == sserr.CodeSessionAnomaly {
		decision = audit.DecisionIncident
	}
	event := g.grpcEvent(st, fullMethod, decision, string(e.Code))
	if len(e.Details) > 0 {
		event.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			event.Details[k] = fmt.Sprint(v)
		}
	}
	g.sink.Record(ctx, event)
	g.metrics.observe(string(decision), string(e.Code), g.now().Sub(st.start))

	return status.Error(grpcStatusCode(e), e.Message)
}

func (g *Gateway) grpcEvent(st *requestState, fullMethod string, decision audit.Decision, code string) audit.Event {
	event := audit.Event{
		Timestamp: g.now().UTC(),
		RequestID: st.requestID,
		Decision:  decision,
		Code:      code,
		Method:    "GRPC",
		Path:      fullMethod,
		IP:        st.ip,
	}
	if st.bound != nil {
		event.AccountID = st.bound.Account.ID.String()
		event.Role = st.bound.Role
	}
	return event
}

// grpcStatusCode maps denial categories to gRPC status codes.
func grpcStatusCode(e *sserr.Error) grpccodes.Code {
	switch {
	case sserr.IsCredential(e):
		return grpccodes.Unauthenticated
	case sserr.IsAuthorization(e):
		return grpccodes.PermissionDenied
	case sserr.IsRateLimited(e):
		return grpccodes.ResourceExhausted
	case sserr.IsUnavailable(e):
		return grpccodes.Unavailable
	case sserr.IsTimeout(e):
		return grpccodes.DeadlineExceeded
	case sserr.IsValidation(e):
		return grpccodes.InvalidArgument
	default:
		return grpccodes.Internal
	}
}

// credentialRequest adapts RPC metadata to the resolver's request
// surface: bearer tokens and API keys travel as metadata keys, cookies
// do not exist on this path.
func credentialRequest(md metadata.MD) *http.Request {
	header := http.Header{}
	if v := firstMetadata(md, "authorization"); v != "" {
		header.Set("Authorization", v)
	}
	if v := firstMetadata(md, strings.ToLower(credential.APIKeyHeader)); v != "" {
		header.Set(credential.APIKeyHeader, v)
	}
	return &http.Request{Header: header}
}

func firstMetadata(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// grpcPeerAddr extracts the caller address from the peer info.
func grpcPeerAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

// wrappedServerStream overrides Context so stream handlers see the
// identity added during admission.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
