package gateway

import (
	"context"

	"github.com/mindhub-health/gateway-core/pkg/account"
)

type contextKey int

const (
	requestIDContextKey contextKey = iota
	identityContextKey
	emergencyContextKey
)

// ContextWithRequestID stores the request correlation id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// RequestIDFromContext returns the correlation id set by the pipeline,
// or "" when the request did not pass through the gateway.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// ContextWithIdentity stores the admitted caller's bound identity.
func ContextWithIdentity(ctx context.Context, bound *account.BoundIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey, bound)
}

// IdentityFromContext returns the bound identity for an admitted
// request. Handlers behind the gateway may rely on ok being true.
func IdentityFromContext(ctx context.Context) (*account.BoundIdentity, bool) {
	bound, ok := ctx.Value(identityContextKey).(*account.BoundIdentity)
	return bound, ok
}

// contextWithEmergency marks the request as admitted under an emergency
// bypass.
func contextWithEmergency(ctx context.Context) context.Context {
	return context.WithValue(ctx, emergencyContextKey, true)
}

// EmergencyFromContext reports whether the request was admitted under
// an emergency rate-limit bypass. Handlers may use this to apply their
// own break-glass handling.
func EmergencyFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(emergencyContextKey).(bool)
	return v
}
