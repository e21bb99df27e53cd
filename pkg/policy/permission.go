package policy

import (
	"fmt"
	"strings"
)

// Permission represents an authorization grant as a verb applied to a
// resource class, serialized as "verb:resource-class". Permissions are
// attached to roles via the [Table] and checked by the authorization
// evaluator.
//
// Example permissions:
//
//	Permission{Verb: "read", Resource: "medical_records"}
//	Permission{Verb: "write", Resource: "prescriptions"}
//	Permission{Verb: "*", Resource: "*"}  // wildcard — full access
type Permission struct {
	// Verb is the operation being performed (e.g., "read", "write",
	// "delete"). The wildcard "*" matches all verbs.
	Verb string

	// Resource is the resource class being accessed (e.g.,
	// "medical_records", "prescriptions"). The wildcard "*" matches all
	// resource classes.
	Resource string
}

// String returns the colon-delimited "verb:resource-class" form.
func (p Permission) String() string {
	return p.Verb + ":" + p.Resource
}

// Covers reports whether this permission grants the other permission,
// honoring "*" wildcards on either field. A wildcard in the grant matches
// anything; a wildcard in the requirement is only covered by a wildcard
// grant.
func (p Permission) Covers(required Permission) bool {
	verbMatch := p.Verb == "*" || p.Verb == required.Verb
	resourceMatch := p.Resource == "*" || p.Resource == required.Resource
	return verbMatch && resourceMatch
}

// ParsePermission parses a "verb:resource-class" string into a
// [Permission]. Both parts may be the wildcard "*". Returns an error if
// the separator is missing or either part is empty.
//
// Valid examples:
//
//	"read:medical_records" -> Permission{Verb: "read", Resource: "medical_records"}
//	"*:*"                  -> Permission{Verb: "*", Resource: "*"}
func ParsePermission(s string) (Permission, error) {
	verb, resource, found := strings.Cut(s, ":")
	if !found {
		return Permission{}, fmt.Errorf("policy: invalid permission %q: missing colon separator", s)
	}
	if verb == "" {
		return Permission{}, fmt.Errorf("policy: invalid permission %q: empty verb", s)
	}
	if resource == "" {
		return Permission{}, fmt.Errorf("policy: invalid permission %q: empty resource class", s)
	}
	return Permission{Verb: verb, Resource: resource}, nil
}

// MustParsePermission is like [ParsePermission] but panics on error.
// Intended for static permission literals in policy definitions.
func MustParsePermission(s string) Permission {
	p, err := ParsePermission(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ---------------------------------------------------------------------------
// PermissionSet
// ---------------------------------------------------------------------------

// PermissionSet is an optimized, immutable collection of permissions with
// O(1) exact-match lookups and a linear fallback for wildcard grants.
//
// Internally, permissions are split into two groups at construction time:
//   - Exact permissions (no wildcard in Verb or Resource) are stored in a
//     map for O(1) lookup.
//   - Wildcard permissions (either field is "*") are stored in a slice for
//     linear scanning when exact lookup misses.
//
// PermissionSet is safe for concurrent read access after construction.
type PermissionSet struct {
	// exact holds non-wildcard permissions for O(1) lookup.
	exact map[Permission]struct{}

	// wildcards holds permissions where at least one field is "*".
	wildcards []Permission

	// all holds the complete, ordered list of permissions for
	// introspection via Permissions(). This preserves insertion order.
	all []Permission
}

// NewPermissionSet creates a new [PermissionSet] from the given
// permissions. Permissions are deduplicated and split into exact-match and
// wildcard groups at construction time. The input slice is not modified.
//
// A nil or empty input produces a valid, empty PermissionSet.
func NewPermissionSet(perms []Permission) *PermissionSet {
	ps := &PermissionSet{
		exact: make(map[Permission]struct{}, len(perms)),
	}

	seen := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		if _, exists := seen[p]; exists {
			continue
		}
		seen[p] = struct{}{}

		ps.all = append(ps.all, p)

		if p.Verb == "*" || p.Resource == "*" {
			ps.wildcards = append(ps.wildcards, p)
		} else {
			ps.exact[p] = struct{}{}
		}
	}

	return ps
}

// Allows reports whether the set grants the required permission, honoring
// wildcard grants. This is the sole lookup used for authorization
// decisions.
func (ps *PermissionSet) Allows(required Permission) bool {
	if _, exists := ps.exact[required]; exists {
		return true
	}
	for _, p := range ps.wildcards {
		if p.Covers(required) {
			return true
		}
	}
	return false
}

// Superset reports whether the set grants every permission in other.
// Used to validate the admin-superset invariant at table construction.
func (ps *PermissionSet) Superset(other *PermissionSet) bool {
	for _, p := range other.all {
		if !ps.Allows(p) {
			return false
		}
	}
	return true
}

// Permissions returns a defensive copy of all permissions in the set,
// preserving insertion order (after deduplication). Callers may safely
// modify the returned slice without affecting the PermissionSet.
func (ps *PermissionSet) Permissions() []Permission {
	copied := make([]Permission, len(ps.all))
	copy(copied, ps.all)
	return copied
}

// Len returns the number of unique permissions in the set.
func (ps *PermissionSet) Len() int {
	return len(ps.all)
}
