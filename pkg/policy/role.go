// Package policy defines the static authorization data for the MindHub
// platform: the role enumeration, the verb:resource permission model, and
// the immutable policy table mapping each role to its permission set,
// session timeout, and rate window.
//
// The table is constructed once at process start and passed by reference
// into the authorization evaluator; it is never mutated at runtime. This
// replaces the scattered string-membership role checks of earlier systems
// with a single typed authority for allow/deny data.
package policy

import "strings"

// Role identifies the privilege tier of an account. Every account holds
// exactly one role at a time; the role determines the account's permission
// set, session timeout, and rate window via the [Table].
type Role string

const (
	// RoleAdmin is the platform administrator tier with unrestricted
	// access to all resources.
	RoleAdmin Role = "admin"

	// RolePsychiatrist is the prescribing-clinician tier. Psychiatrists
	// hold the broadest clinical permissions, including prescriptions.
	RolePsychiatrist Role = "psychiatrist"

	// RolePsychologist is the non-prescribing clinician tier.
	RolePsychologist Role = "psychologist"

	// RoleNurse is the nursing tier with read access to records and
	// write access to vitals and assessments.
	RoleNurse Role = "nurse"

	// RolePatient is the self-service tier and the lowest-privilege
	// default. Patients only ever act on resources they own.
	RolePatient Role = "patient"

	// RoleSystem is the machine-to-machine tier used by automated
	// services authenticating with API keys.
	RoleSystem Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the recognized values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePsychiatrist, RolePsychologist, RoleNurse, RolePatient, RoleSystem:
		return true
	default:
		return false
	}
}

// Clinical reports whether the role is a treating-professional tier whose
// resource access is gated on an explicit clinical assignment rather than
// ownership or blanket privilege.
func (r Role) Clinical() bool {
	switch r {
	case RolePsychiatrist, RolePsychologist, RoleNurse:
		return true
	default:
		return false
	}
}

// ParseRole normalizes and parses a role string. Unknown or empty input
// falls back to [RolePatient], the lowest-privilege tier — an unrecognized
// role hint must never resolve to elevated access.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return RolePatient
	}
	return r
}

// AllRoles returns every recognized role. Each call returns a new slice;
// callers may safely modify it.
func AllRoles() []Role {
	return []Role{
		RoleAdmin,
		RolePsychiatrist,
		RolePsychologist,
		RoleNurse,
		RolePatient,
		RoleSystem,
	}
}
