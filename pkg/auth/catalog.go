package auth

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Catalog is an immutable snapshot of the permission catalog, the role to
// permission mapping and the named role groups. A Catalog is never modified
// after construction; replacing it means building a new one.
type Catalog struct {
	permissions []Permission
	known       PermissionSet
	roles       map[Role]PermissionSet
	groups      map[string][]Role
}

// NewCatalog validates and builds a catalog snapshot.
//
// Every permission must be well formed, every role's permissions must be in
// the catalog and every group member must be a defined role. SUPERUSER is
// always granted the full catalog: if it is supplied with anything less the
// catalog is rejected.
func NewCatalog(permissions []Permission, roles map[Role][]Permission, groups map[string][]Role) (*Catalog, error) {
	if len(permissions) == 0 {
		return nil, NewConfigurationError("catalog must declare at least one permission")
	}

	known := make(PermissionSet, len(permissions))
	for _, p := range permissions {
		if !p.WellFormed() {
			return nil, NewConfigurationError(fmt.Sprintf("permission %q must have the form resource:action", p))
		}
		if known.Has(p) {
			return nil, NewConfigurationError(fmt.Sprintf("permission %q declared twice", p))
		}
		known[p] = struct{}{}
	}

	c := &Catalog{
		permissions: known.Sorted(),
		known:       known,
		roles:       make(map[Role]PermissionSet, len(roles)+1),
		groups:      make(map[string][]Role, len(groups)),
	}

	for role, perms := range roles {
		name := role.Normalize()
		if name == "" {
			return nil, NewConfigurationError("role name must not be empty")
		}
		if _, dup := c.roles[name]; dup {
			return nil, NewConfigurationError(fmt.Sprintf("role %q declared twice (names are case-insensitive)", name))
		}
		set := make(PermissionSet, len(perms))
		for _, p := range perms {
			if !known.Has(p) {
				return nil, NewConfigurationError(fmt.Sprintf("role %q references unknown permission %q", name, p))
			}
			set[p] = struct{}{}
		}
		if name == RoleSuperuser && len(set) != len(known) {
			return nil, NewConfigurationError(fmt.Sprintf("role %q must be granted every permission in the catalog", RoleSuperuser))
		}
		c.roles[name] = set
	}
	if _, ok := c.roles[RoleSuperuser]; !ok {
		c.roles[RoleSuperuser] = NewPermissionSet(c.permissions...)
	}

	for name, members := range groups {
		if name == "" {
			return nil, NewConfigurationError("role group name must not be empty")
		}
		normalized := make([]Role, 0, len(members))
		for _, m := range members {
			r := m.Normalize()
			if _, ok := c.roles[r]; !ok {
				return nil, NewConfigurationError(fmt.Sprintf("role group %q references unknown role %q", name, m))
			}
			normalized = append(normalized, r)
		}
		c.groups[name] = normalized
	}

	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		[]Permission{
			PermissionPaymentsCreate,
			PermissionPaymentsRead,
			PermissionPaymentsUpdate,
			PermissionPaymentsDelete,
			PermissionReportsView,
			PermissionReportsExport,
			PermissionUsersManage,
		},
		map[Role][]Permission{
			RolePayments: {PermissionPaymentsCreate, PermissionPaymentsRead, PermissionPaymentsUpdate},
			RoleAdmin: {
				PermissionPaymentsCreate, PermissionPaymentsRead, PermissionPaymentsUpdate, PermissionPaymentsDelete,
				PermissionReportsView, PermissionReportsExport, PermissionUsersManage,
			},
			RoleReports:        {PermissionReportsView, PermissionReportsExport},
			RoleUserManagement: {PermissionUsersManage},
		},
		map[string][]Role{
			"ADMIN_ACCESS":   {RoleAdmin, RoleSuperuser},
			"PAYMENT_ACCESS": {RolePayments, RoleAdmin},
			"FULL_ACCESS":    {RoleAdmin, RoleSuperuser},
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Current lets a *Catalog be used wherever a CatalogProvider is expected.
func (c *Catalog) Current() *Catalog { return c }

// PermissionsForRoles returns the union of the permissions granted to roles.
// Unknown roles contribute nothing.
func (c *Catalog) PermissionsForRoles(roles []string) PermissionSet {
	out := make(PermissionSet)
	for _, r := range roles {
		for p := range c.roles[Role(r).Normalize()] {
			out[p] = struct{}{}
		}
	}
	return out
}

// RolePermissions returns the permissions of a single role and whether the
// role is defined.
func (c *Catalog) RolePermissions(role Role) ([]Permission, bool) {
	set, ok := c.roles[role.Normalize()]
	if !ok {
		return nil, false
	}
	return set.Sorted(), true
}

// HasRole reports whether role is defined.
func (c *Catalog) HasRole(role Role) bool {
	_, ok := c.roles[role.Normalize()]
	return ok
}

// IsPermission reports whether p is in the catalog.
func (c *Catalog) IsPermission(p Permission) bool {
	return c.known.Has(p)
}

// Permissions returns every catalog permission in lexical order.
func (c *Catalog) Permissions() []Permission {
	out := make([]Permission, len(c.permissions))
	copy(out, c.permissions)
	return out
}

// Roles returns every defined role in lexical order.
func (c *Catalog) Roles() []Role {
	out := make([]Role, 0, len(c.roles))
	for r := range c.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Group returns the members of a named role group.
func (c *Catalog) Group(name string) ([]Role, bool) {
	members, ok := c.groups[name]
	if !ok {
		return nil, false
	}
	out := make([]Role, len(members))
	copy(out, members)
	return out, true
}

// CatalogProvider hands out the catalog snapshot to use for one decision.
type CatalogProvider interface {
	Current() *Catalog
}

// CatalogRegistry holds the active catalog snapshot and swaps it atomically.
// Readers never lock.
type CatalogRegistry struct {
	current atomic.Pointer[Catalog]
}

// NewCatalogRegistry creates a registry holding initial.
func NewCatalogRegistry(initial *Catalog) *CatalogRegistry {
	if initial == nil {
		initial = DefaultCatalog()
	}
	r := &CatalogRegistry{}
	r.current.Store(initial)
	return r
}

// Current returns the active snapshot.
func (r *CatalogRegistry) Current() *Catalog {
	return r.current.Load()
}

// Swap installs next and returns the previous snapshot.
func (r *CatalogRegistry) Swap(next *Catalog) *Catalog {
	if next == nil {
		return r.current.Load()
	}
	return r.current.Swap(next)
}
