package auth

import (
	"fmt"
	"strings"
)

// Role is one of the fixed built-in roles.
type Role string

const (
	RoleSuperAdmin    Role = "super_admin"
	RoleSafetyOfficer Role = "safety_officer"
	RoleSupervisor    Role = "supervisor"
	RoleSubcontractor Role = "subcontractor"
	RoleEmployee      Role = "employee"
)

// TenantRoles lists the roles that live inside a tenant, in template order.
var TenantRoles = []Role{RoleSafetyOfficer, RoleSupervisor, RoleSubcontractor, RoleEmployee}

var allRoles = append([]Role{RoleSuperAdmin}, TenantRoles...)

func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Resource names a protected category of data.
type Resource string

const (
	ResourceSites       Resource = "sites"
	ResourceUsers       Resource = "users"
	ResourceTeams       Resource = "teams"
	ResourceHazards     Resource = "hazards"
	ResourceIncidents   Resource = "incidents"
	ResourceInspections Resource = "inspections"
	ResourcePermits     Resource = "permits"
	ResourceTraining    Resource = "training"
	ResourceReports     Resource = "reports"
	ResourcePermissions Resource = "permissions"
)

// Resources is the closed set of resources, in matrix order.
var Resources = []Resource{
	ResourceSites,
	ResourceUsers,
	ResourceTeams,
	ResourceHazards,
	ResourceIncidents,
	ResourceInspections,
	ResourcePermits,
	ResourceTraining,
	ResourceReports,
	ResourcePermissions,
}

func (r Resource) Valid() bool {
	for _, known := range Resources {
		if r == known {
			return true
		}
	}
	return false
}

func (r Resource) String() string { return string(r) }

func ParseResource(s string) (Resource, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown resource %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Action is a verb applied to a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

var crud = Actions

func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

func (a Action) String() string { return string(a) }

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, s)
	}
	return a, nil
}

// Permission is a (resource, action) pair without tenant or role.
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// Key renders the permission as "resource:action".
func (p Permission) Key() string {
	return string(p.Resource) + ":" + string(p.Action)
}

func perms(resources []Resource, actions ...Action) []Permission {
	out := make([]Permission, 0, len(resources)*len(actions))
	for _, r := range resources {
		for _, a := range actions {
			out = append(out, Permission{Resource: r, Action: a})
		}
	}
	return out
}

func concat(lists ...[]Permission) []Permission {
	var out []Permission
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// defaultTemplate is instantiated for every new tenant. super_admin is absent:
// it holds every permission implicitly.
var defaultTemplate = map[Role][]Permission{
	RoleSafetyOfficer: perms(Resources, crud...),
	RoleSupervisor: concat(
		perms([]Resource{ResourceHazards, ResourceInspections, ResourcePermits, ResourceIncidents},
			ActionCreate, ActionRead, ActionUpdate),
		perms([]Resource{ResourceTraining}, ActionRead),
	),
	RoleSubcontractor: concat(
		perms([]Resource{ResourceHazards, ResourcePermits, ResourceTraining}, ActionRead),
		perms([]Resource{ResourceHazards}, ActionUpdate),
	),
	RoleEmployee: concat(
		perms([]Resource{ResourceHazards, ResourceIncidents}, ActionCreate, ActionRead),
		perms([]Resource{ResourceTraining}, ActionRead),
	),
}

// DefaultPermissions returns a copy of the template for role.
func DefaultPermissions(role Role) []Permission {
	src := defaultTemplate[role]
	out := make([]Permission, len(src))
	copy(out, src)
	return out
}

// TemplateGrants instantiates the default template for tenantID.
func TemplateGrants(tenantID string) []Grant {
	grants := make([]Grant, 0, TemplateSize())
	for _, role := range TenantRoles {
		for _, p := range defaultTemplate[role] {
			grants = append(grants, Grant{
				TenantID: tenantID,
				Role:     role,
				Resource: p.Resource,
				Action:   p.Action,
			})
		}
	}
	return grants
}

// TemplateSize is the number of grants a freshly provisioned tenant holds.
func TemplateSize() int {
	n := 0
	for _, role := range TenantRoles {
		n += len(defaultTemplate[role])
	}
	return n
}
