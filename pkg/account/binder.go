package account

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindhub-health/gateway-core/pkg/credential"
	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// IdentityBinder binds verified claims to a platform account. Implemented
// by [Binder]; the gateway pipeline depends on this interface.
type IdentityBinder interface {
	Bind(ctx context.Context, claims *credential.VerifiedClaims) (*BoundIdentity, error)
}

// Binder resolves verified claims into a [BoundIdentity]. The effective
// role comes from the trusted role claim when present, otherwise from
// the privilege store — never from profile claims.
//
// Binder is safe for concurrent use by multiple goroutines.
type Binder struct {
	store      Store
	privileges PrivilegeStore
	tracer     trace.Tracer
}

// Compile-time assertion that Binder implements IdentityBinder.
var _ IdentityBinder = (*Binder)(nil)

// NewBinder creates a Binder. Both stores are required; [PGStore] and
// [MemoryStore] satisfy both interfaces, so the same value is usually
// passed twice.
func NewBinder(store Store, privileges PrivilegeStore) (*Binder, error) {
	if store == nil || privileges == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration,
			"account: binder requires an account store and a privilege store")
	}
	return &Binder{
		store:      store,
		privileges: privileges,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// Bind locates or creates the account for the claims and resolves the
// caller's effective role. Fails closed: a deactivated account or a
// privilege store failure denies the request.
func (b *Binder) Bind(ctx context.Context, claims *credential.VerifiedClaims) (*BoundIdentity, error) {
	ctx, span := b.tracer.Start(ctx, "account.Bind")
	defer span.End()

	if claims == nil || claims.Subject == "" {
		err := sserr.New(sserr.CodeCredentialInvalid,
			"account: cannot bind empty claims")
		recordSpanError(span, err)
		return nil, err
	}

	acct, err := b.store.FindOrCreate(ctx, ExternalIdentity{
		SubjectID:   SubjectKey(claims.Issuer, claims.Subject),
		Email:       claims.Email,
		DisplayName: claims.Name,
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if !acct.Active {
		err := sserr.New(sserr.CodeAuthorization,
			"account: account is deactivated")
		recordSpanError(span, err)
		return nil, err
	}

	role := acct.Role
	if claims.RoleTrusted {
		role = claims.RoleHint
	} else {
		stored, err := b.privileges.RoleFor(ctx, acct.ID)
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		role = stored
	}

	span.SetAttributes(
		attribute.String("account.id", acct.ID.String()),
		attribute.String("account.role", string(role)),
	)
	return &BoundIdentity{
		Account: *acct,
		Role:    role,
		Claims:  claims,
	}, nil
}
