package policy

import (
	"time"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// RateWindow is the per-role rate-limiting budget: at most MaxRequests
// within each Duration-long window. Roles with heavy automated traffic
// (system, admin) carry much larger budgets than patient self-service.
type RateWindow struct {
	// Duration is the length of one counting window.
	Duration time.Duration

	// MaxRequests is the number of requests admitted per window.
	MaxRequests int
}

// RolePolicy is the complete static policy for one role: what it may do,
// how long its sessions stay alive without activity, and how fast it may
// call the platform.
type RolePolicy struct {
	// Permissions is the role's grant list. Must be non-empty: a role
	// with no permissions cannot exist in a valid table.
	Permissions []Permission

	// SessionTimeout is the inactivity window after which the role's
	// sessions expire. Shorter for patient self-service, longer for
	// on-shift clinicians — a deliberate clinical-workflow rule, not a
	// single global timeout.
	SessionTimeout time.Duration

	// RateWindow is the role's request budget.
	RateWindow RateWindow
}

// Table is the immutable role policy table. It is built once with
// [NewTable] (or [DefaultTable]) at process start, validated, and then
// only ever read. Lookups for unknown roles fall back to the
// lowest-privilege patient policy — never to elevated access.
//
// Table is safe for concurrent use by multiple goroutines.
type Table struct {
	policies map[Role]compiledPolicy
}

// compiledPolicy is a RolePolicy with its permission set pre-indexed.
type compiledPolicy struct {
	perms          *PermissionSet
	sessionTimeout time.Duration
	rateWindow     RateWindow
}

// NewTable builds and validates a policy table. The input map is copied;
// later mutation of it does not affect the table.
//
// Validation rules (violations return [sserr.CodeInternalConfiguration]):
//   - Every enumerated role must be present (the table is the single
//     authority; a missing role would silently inherit the fallback).
//   - Every role's permission set must be non-empty.
//   - Admin's permission set must be a superset of every other role's
//     set (the wildcard grant satisfies this).
//   - Session timeouts and rate windows must be positive.
func NewTable(policies map[Role]RolePolicy) (*Table, error) {
	for _, role := range AllRoles() {
		if _, ok := policies[role]; !ok {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"policy: role %q has no policy entry", role)
		}
	}

	compiled := make(map[Role]compiledPolicy, len(policies))
	for role, rp := range policies {
		if !role.Valid() {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"policy: unknown role %q in table", role)
		}
		if len(rp.Permissions) == 0 {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"policy: role %q has an empty permission set", role)
		}
		if rp.SessionTimeout <= 0 {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"policy: role %q has a non-positive session timeout", role)
		}
		if rp.RateWindow.Duration <= 0 || rp.RateWindow.MaxRequests <= 0 {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"policy: role %q has an invalid rate window", role)
		}
		compiled[role] = compiledPolicy{
			perms:          NewPermissionSet(rp.Permissions),
			sessionTimeout: rp.SessionTimeout,
			rateWindow:     rp.RateWindow,
		}
	}

	admin := compiled[RoleAdmin].perms
	for role, cp := range compiled {
		if role == RoleAdmin {
			continue
		}
		if !admin.Superset(cp.perms) {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"policy: admin permissions are not a superset of role %q", role)
		}
	}

	return &Table{policies: compiled}, nil
}

// MustNewTable is like [NewTable] but panics on error. Intended for
// static policy definitions wired at process start.
func MustNewTable(policies map[Role]RolePolicy) *Table {
	t, err := NewTable(policies)
	if err != nil {
		panic(err)
	}
	return t
}

// lookup returns the compiled policy for the role, falling back to the
// patient policy for unknown roles.
func (t *Table) lookup(role Role) compiledPolicy {
	if cp, ok := t.policies[role]; ok {
		return cp
	}
	return t.policies[RolePatient]
}

// PermissionsFor returns the permission set for the role. Unknown roles
// receive the patient (lowest-privilege) set.
func (t *Table) PermissionsFor(role Role) *PermissionSet {
	return t.lookup(role).perms
}

// Allows reports whether the role's permission set grants the required
// permission.
func (t *Table) Allows(role Role, required Permission) bool {
	return t.lookup(role).perms.Allows(required)
}

// SessionTimeoutFor returns the inactivity timeout for the role's
// sessions. Unknown roles receive the patient timeout.
func (t *Table) SessionTimeoutFor(role Role) time.Duration {
	return t.lookup(role).sessionTimeout
}

// RateWindowFor returns the rate budget for the role. Unknown roles
// receive the patient budget.
func (t *Table) RateWindowFor(role Role) RateWindow {
	return t.lookup(role).rateWindow
}

// DefaultTable returns the platform's standard policy table. The values
// encode clinical workflow rules:
//
//   - admin: full wildcard access, moderate session, high rate budget.
//   - psychiatrist: full clinical record access including prescriptions;
//     the longest session (on-shift prescribers).
//   - psychologist: clinical record access, read-only prescriptions.
//   - nurse: record reads plus vitals/assessment writes; notably no
//     prescription writes.
//   - patient: self-service reads and form/appointment writes, shortest
//     session and tightest rate budget.
//   - system: automated-service access with a very high rate budget and
//     a long session (machine credentials re-verify per request anyway).
func DefaultTable() *Table {
	return MustNewTable(map[Role]RolePolicy{
		RoleAdmin: {
			Permissions:    []Permission{{Verb: "*", Resource: "*"}},
			SessionTimeout: 30 * time.Minute,
			RateWindow:     RateWindow{Duration: time.Minute, MaxRequests: 600},
		},
		RolePsychiatrist: {
			Permissions: []Permission{
				MustParsePermission("read:patients"),
				MustParsePermission("write:patients"),
				MustParsePermission("read:medical_records"),
				MustParsePermission("write:medical_records"),
				MustParsePermission("read:assessments"),
				MustParsePermission("write:assessments"),
				MustParsePermission("read:prescriptions"),
				MustParsePermission("write:prescriptions"),
				MustParsePermission("read:forms"),
				MustParsePermission("write:forms"),
			},
			SessionTimeout: time.Hour,
			RateWindow:     RateWindow{Duration: 15 * time.Minute, MaxRequests: 1000},
		},
		RolePsychologist: {
			Permissions: []Permission{
				MustParsePermission("read:patients"),
				MustParsePermission("write:patients"),
				MustParsePermission("read:medical_records"),
				MustParsePermission("write:medical_records"),
				MustParsePermission("read:assessments"),
				MustParsePermission("write:assessments"),
				MustParsePermission("read:prescriptions"),
				MustParsePermission("read:forms"),
				MustParsePermission("write:forms"),
			},
			SessionTimeout: 45 * time.Minute,
			RateWindow:     RateWindow{Duration: 15 * time.Minute, MaxRequests: 1000},
		},
		RoleNurse: {
			Permissions: []Permission{
				MustParsePermission("read:patients"),
				MustParsePermission("read:medical_records"),
				MustParsePermission("read:assessments"),
				MustParsePermission("write:assessments"),
				MustParsePermission("write:vitals"),
				MustParsePermission("read:forms"),
			},
			SessionTimeout: 30 * time.Minute,
			RateWindow:     RateWindow{Duration: 15 * time.Minute, MaxRequests: 600},
		},
		RolePatient: {
			Permissions: []Permission{
				MustParsePermission("read:medical_records"),
				MustParsePermission("read:assessments"),
				MustParsePermission("read:forms"),
				MustParsePermission("write:forms"),
				MustParsePermission("read:appointments"),
				MustParsePermission("write:appointments"),
			},
			SessionTimeout: 15 * time.Minute,
			RateWindow:     RateWindow{Duration: 15 * time.Minute, MaxRequests: 100},
		},
		RoleSystem: {
			Permissions: []Permission{
				MustParsePermission("read:*"),
				MustParsePermission("write:*"),
			},
			SessionTimeout: 12 * time.Hour,
			RateWindow:     RateWindow{Duration: time.Minute, MaxRequests: 5000},
		},
	})
}
