package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PermissionService is the tenant-scoped permission table. Every lookup goes to
// the store; nothing is cached, so a revoke is visible on the next request.
type PermissionService struct {
	store GrantStore
}

func NewPermissionService(store GrantStore) (*PermissionService, error) {
	if store == nil {
		return nil, errors.New("grant store is required")
	}
	return &PermissionService{store: store}, nil
}

// Matrix maps role -> resource -> granted actions.
type Matrix map[Role]map[Resource][]Action

func normalizeGrant(g Grant) (Grant, error) {
	verr := &ValidationError{}
	g.TenantID = strings.TrimSpace(g.TenantID)
	if g.TenantID == "" {
		verr.Add("tenant_id", "is required")
	}
	role, err := ParseRole(string(g.Role))
	switch {
	case err != nil:
		verr.Add("role", "unknown role")
	case role == RoleSuperAdmin:
		verr.Add("role", "super_admin holds every permission implicitly")
	}
	res, err := ParseResource(string(g.Resource))
	if err != nil {
		verr.Add("resource", "unknown resource")
	}
	act, err := ParseAction(string(g.Action))
	if err != nil {
		verr.Add("action", "unknown action")
	}
	if err := verr.OrNil(); err != nil {
		return Grant{}, err
	}
	return Grant{TenantID: g.TenantID, Role: role, Resource: res, Action: act}, nil
}

// Grant adds the entry. Granting an existing entry is a no-op.
func (s *PermissionService) Grant(ctx context.Context, g Grant) (Grant, error) {
	g, err := normalizeGrant(g)
	if err != nil {
		return Grant{}, err
	}
	if err := s.store.Grant(ctx, g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Revoke removes the entry. Revoking a missing entry is a no-op.
func (s *PermissionService) Revoke(ctx context.Context, g Grant) (Grant, error) {
	g, err := normalizeGrant(g)
	if err != nil {
		return Grant{}, err
	}
	if err := s.store.Revoke(ctx, g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// IsGranted is an exact-match lookup with no wildcard or implied actions.
func (s *PermissionService) IsGranted(ctx context.Context, tenantID string, role Role, resource Resource, action Action) (bool, error) {
	if tenantID == "" || !role.Valid() || !resource.Valid() || !action.Valid() {
		return false, nil
	}
	if role == RoleSuperAdmin {
		return false, nil
	}
	return s.store.IsGranted(ctx, tenantID, role, resource, action)
}

// ListForRole returns the role's grants ordered by resource then action.
func (s *PermissionService) ListForRole(ctx context.Context, tenantID string, role Role) ([]Permission, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	grants, err := s.store.ListForRole(ctx, tenantID, role)
	if err != nil {
		return nil, err
	}
	out := make([]Permission, 0, len(grants))
	for _, g := range grants {
		out = append(out, Permission{Resource: g.Resource, Action: g.Action})
	}
	sortPermissions(out)
	return out, nil
}

// Matrix returns the editable permission matrix for every tenant role.
func (s *PermissionService) Matrix(ctx context.Context, tenantID string) (Matrix, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	grants, err := s.store.ListForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	m := make(Matrix, len(TenantRoles))
	for _, role := range TenantRoles {
		m[role] = map[Resource][]Action{}
	}
	for _, g := range grants {
		row, ok := m[g.Role]
		if !ok {
			continue
		}
		row[g.Resource] = append(row[g.Resource], g.Action)
	}
	for _, row := range m {
		for res := range row {
			sortActions(row[res])
		}
	}
	return m, nil
}

func actionIndex(a Action) int {
	for i, known := range Actions {
		if a == known {
			return i
		}
	}
	return len(Actions)
}

func resourceIndex(r Resource) int {
	for i, known := range Resources {
		if r == known {
			return i
		}
	}
	return len(Resources)
}

func sortActions(actions []Action) {
	sort.Slice(actions, func(i, j int) bool { return actionIndex(actions[i]) < actionIndex(actions[j]) })
}

func sortPermissions(p []Permission) {
	sort.Slice(p, func(i, j int) bool {
		ri, rj := resourceIndex(p[i].Resource), resourceIndex(p[j].Resource)
		if ri != rj {
			return ri < rj
		}
		return actionIndex(p[i].Action) < actionIndex(p[j].Action)
	})
}
