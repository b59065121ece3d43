package auth

import (
	"sort"
	"strings"
	"time"
)

// Role is a coarse-grained capability bundle. Comparison is case-insensitive.
type Role string

const (
	RoleAdmin          Role = "ADMIN"
	RolePayments       Role = "PAYMENTS"
	RoleReports        Role = "REPORTS"
	RoleUserManagement Role = "USER_MANAGEMENT"
	RoleSuperuser      Role = "SUPERUSER" // Always maps to the full permission catalog
)

// Normalize returns the canonical upper case form of the role. Whitespace is
// kept, so " admin" is not ADMIN.
func (r Role) Normalize() Role {
	return Role(strings.ToUpper(string(r)))
}

// Permission is a fine-grained capability token of the form resource:action.
type Permission string

const (
	PermissionPaymentsCreate Permission = "payments:create"
	PermissionPaymentsRead   Permission = "payments:read"
	PermissionPaymentsUpdate Permission = "payments:update"
	PermissionPaymentsDelete Permission = "payments:delete"
	PermissionReportsView    Permission = "reports:view"
	PermissionReportsExport  Permission = "reports:export"
	PermissionUsersManage    Permission = "users:manage"
)

// Resource returns the part before the colon.
func (p Permission) Resource() string {
	resource, _, _ := strings.Cut(string(p), ":")
	return resource
}

// Action returns the part after the colon.
func (p Permission) Action() string {
	_, action, _ := strings.Cut(string(p), ":")
	return action
}

// WellFormed reports whether p has a non-empty resource and action.
func (p Permission) WellFormed() bool {
	resource, action, ok := strings.Cut(string(p), ":")
	return ok && resource != "" && action != "" && !strings.ContainsAny(string(p), " \t\n")
}

// PermissionSet is an unordered, duplicate-free set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Intersects reports whether any of perms is in the set.
func (s PermissionSet) Intersects(perms []Permission) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// Sorted returns the members in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AuthContext is the identity attached to a request by the upstream
// authenticator. Roles may be empty but not nil; Owner must be non-empty.
type AuthContext struct {
	Roles []string `json:"roles"`
	Owner string   `json:"owner"`
}

// Valid reports whether the context is structurally sound.
func (ac *AuthContext) Valid() bool {
	return ac != nil && ac.Roles != nil && ac.Owner != ""
}

// NormalizedRoles returns the roles upper-cased, in their original order.
func (ac *AuthContext) NormalizedRoles() []Role {
	out := make([]Role, 0, len(ac.Roles))
	for _, r := range ac.Roles {
		out = append(out, Role(r).Normalize())
	}
	return out
}

// APIKeyRecord is the persisted grant behind an API key. It is stored under
// the key's hash and never contains the raw key.
type APIKeyRecord struct {
	Permissions []Permission `json:"permissions"`
	IsActive    bool         `json:"isActive"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ResolvedAPIKey is the projection of an active key attached to a request
// after credential validation.
type ResolvedAPIKey struct {
	Hash        string       `json:"-"`
	Permissions []Permission `json:"permissions"`
}

// HasPermission reports whether the key was granted p.
func (k *ResolvedAPIKey) HasPermission(p Permission) bool {
	if k == nil {
		return false
	}
	for _, granted := range k.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}
