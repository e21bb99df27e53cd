package account

import (
	"context"

	"github.com/google/uuid"

	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// Store persists accounts. Implemented by [PGStore] for production and
// [MemoryStore] for tests and examples.
type Store interface {
	// FindOrCreate returns the account for the external identity,
	// creating it with the patient role if it does not exist. The
	// operation is idempotent under concurrency: two racing calls for
	// the same subject return the same account. Profile attributes and
	// the last-seen timestamp are refreshed on every call.
	FindOrCreate(ctx context.Context, ext ExternalIdentity) (*Account, error)

	// GetByID returns the account with the given platform ID, or
	// [sserr.CodeNotFoundAccount] if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// SetRole updates the stored role assignment.
	SetRole(ctx context.Context, id uuid.UUID, role policy.Role) error

	// Deactivate marks the account inactive. Subsequent binds are
	// denied until the account is reactivated out of band.
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// PrivilegeStore resolves the stored role for an account. Separated from
// [Store] so the binder depends only on the lookup it needs; [PGStore]
// and [MemoryStore] implement both.
type PrivilegeStore interface {
	// RoleFor returns the role assigned to the account. Implementations
	// must fail closed: an error denies the request rather than
	// defaulting to any role.
	RoleFor(ctx context.Context, id uuid.UUID) (policy.Role, error)
}
