package gateway

import (
	"context"
	"slices"

	"github.com/mindhub-health/gateway-core/pkg/account"
	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// Requirement is the per-route authorization contract a handler is
// protected with. Zero-valued fields impose nothing: an empty
// Requirement admits any authenticated caller.
type Requirement struct {
	// Roles, when non-empty, restricts the route to the listed roles.
	Roles []policy.Role

	// Permissions, when non-empty, must all be granted by the caller's
	// role per the policy table.
	Permissions []policy.Permission

	// Resource, when set, subjects the request to resource-ownership
	// rules in addition to role and permission checks.
	Resource *ResourceDescriptor
}

// ResourceDescriptor identifies the specific resource a request
// targets, for ownership evaluation.
type ResourceDescriptor struct {
	// Type is the resource class (e.g. "medical_records").
	Type string

	// ID is the specific resource identifier.
	ID string

	// OwnerID, when already known to the route (e.g. from the URL),
	// lets self-service ownership be decided without a storage lookup.
	// Empty means the owner must be resolved via [Ownership].
	OwnerID string
}

// Ownership answers resource-relationship questions by delegating to
// the record-storage layer. Both methods must fail closed: an error or
// a false answer is a deny.
type Ownership interface {
	// IsOwnedBy reports whether the resource belongs to the account
	// (self-service access).
	IsOwnedBy(ctx context.Context, accountID, resourceType, resourceID string) (bool, error)

	// IsAssignedTo reports whether an explicit care relationship exists
	// between the professional and the resource.
	IsAssignedTo(ctx context.Context, accountID, resourceType, resourceID string) (bool, error)
}

// Evaluator is the single authority for allow/deny decisions. All
// authorization flows through [Evaluator.Evaluate]; handlers never
// re-check roles or permissions themselves.
type Evaluator struct {
	table     *policy.Table
	ownership Ownership
}

// NewEvaluator builds an evaluator over the policy table. ownership may
// be nil, in which case ownership-gated requests from non-administrative
// roles are denied.
func NewEvaluator(table *policy.Table, ownership Ownership) *Evaluator {
	return &Evaluator{table: table, ownership: ownership}
}

// Evaluate checks the bound identity against the requirement, in order:
// role membership, then permissions, then resource ownership. The first
// failure denies; ambiguous or missing data at any step denies.
func (e *Evaluator) Evaluate(ctx context.Context, bound *account.BoundIdentity, req Requirement) error {
	if bound == nil {
		return sserr.New(sserr.CodeAuthorization, "gateway: no identity to authorize")
	}

	if len(req.Roles) > 0 && !slices.Contains(req.Roles, bound.Role) {
		return sserr.Newf(sserr.CodeInsufficientRole,
			"gateway: role %q may not access this operation", bound.Role)
	}

	for _, perm := range req.Permissions {
		if !e.table.Allows(bound.Role, perm) {
			return sserr.Newf(sserr.CodeInsufficientPermission,
				"gateway: role %q lacks permission %q", bound.Role, perm).
				WithDetail("required_permission", perm.String())
		}
	}

	if req.Resource != nil {
		if err := e.evaluateOwnership(ctx, bound, req.Resource); err != nil {
			return err
		}
	}
	return nil
}

// evaluateOwnership applies the per-role resource-ownership rules:
// administrative roles always pass, self-service roles must own the
// resource, and professional roles need an explicit assignment. Absence
// of a relationship is a deny, never a default-allow.
func (e *Evaluator) evaluateOwnership(ctx context.Context, bound *account.BoundIdentity, res *ResourceDescriptor) error {
	accountID := bound.Account.ID.String()

	switch bound.Role {
	case policy.RoleAdmin, policy.RoleSystem:
		return nil

	case policy.RolePatient:
		if res.OwnerID != "" {
			if res.OwnerID == accountID {
				return nil
			}
			return ownershipDenied(res)
		}
		return e.delegate(ctx, res, accountID, func(o Ownership) (bool, error) {
			return o.IsOwnedBy(ctx, accountID, res.Type, res.ID)
		})

	default:
		// Professional roles: an explicit care relationship is required.
		return e.delegate(ctx, res, accountID, func(o Ownership) (bool, error) {
			return o.IsAssignedTo(ctx, accountID, res.Type, res.ID)
		})
	}
}

// delegate runs an ownership query, treating a missing collaborator,
// a query error, or a false answer all as denials.
func (e *Evaluator) delegate(ctx context.Context, res *ResourceDescriptor, accountID string, query func(Ownership) (bool, error)) error {
	if e.ownership == nil {
		return ownershipDenied(res)
	}
	ok, err := query(e.ownership)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeOwnershipDenied,
			"gateway: ownership check failed for %s/%s", res.Type, res.ID)
	}
	if !ok {
		return ownershipDenied(res)
	}
	return nil
}

func ownershipDenied(res *ResourceDescriptor) error {
	return sserr.Newf(sserr.CodeOwnershipDenied,
		"gateway: no access relationship with %s/%s", res.Type, res.ID).
		WithDetail("resource_type", res.Type).
		WithDetail("resource_id", res.ID)
}
