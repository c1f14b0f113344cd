package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesafe.app/internal/auth"
	"sitesafe.app/internal/store/memory"
)

func newPermissionService(t *testing.T) (*auth.PermissionService, *memory.Store) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.CreateTenant(context.Background(), &auth.Tenant{ID: "t1", Name: "Acme Co", Email: "ops@acme.test", IsActive: true}))
	require.NoError(t, store.BulkGrant(context.Background(), auth.TemplateGrants("t1")))
	svc, err := auth.NewPermissionService(store)
	require.NoError(t, err)
	return svc, store
}

func TestIsGrantedExactMatch(t *testing.T) {
	svc, _ := newPermissionService(t)
	ctx := context.Background()

	ok, err := svc.IsGranted(ctx, "t1", auth.RoleSupervisor, auth.ResourceHazards, auth.ActionUpdate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsGranted(ctx, "t1", auth.RoleSupervisor, auth.ResourceHazards, auth.ActionDelete)
	require.NoError(t, err)
	assert.False(t, ok, "update does not imply delete")

	ok, err = svc.IsGranted(ctx, "t2", auth.RoleSupervisor, auth.ResourceHazards, auth.ActionUpdate)
	require.NoError(t, err)
	assert.False(t, ok, "grants are tenant scoped")

	ok, err = svc.IsGranted(ctx, "t1", auth.RoleSuperAdmin, auth.ResourceHazards, auth.ActionRead)
	require.NoError(t, err)
	assert.False(t, ok, "super_admin is never stored")

	ok, err = svc.IsGranted(ctx, "t1", auth.RoleEmployee, auth.Resource("equipment"), auth.ActionRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantAndRevokeAreIdempotent(t *testing.T) {
	svc, store := newPermissionService(t)
	ctx := context.Background()
	g := auth.Grant{TenantID: "t1", Role: "Employee", Resource: "Reports", Action: "READ"}

	got, err := svc.Grant(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, auth.Grant{TenantID: "t1", Role: auth.RoleEmployee, Resource: auth.ResourceReports, Action: auth.ActionRead}, got)
	_, err = svc.Grant(ctx, g)
	require.NoError(t, err)

	all, err := store.ListForTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, auth.TemplateSize()+1)

	_, err = svc.Revoke(ctx, g)
	require.NoError(t, err)
	_, err = svc.Revoke(ctx, g)
	require.NoError(t, err)

	ok, err := svc.IsGranted(ctx, "t1", auth.RoleEmployee, auth.ResourceReports, auth.ActionRead)
	require.NoError(t, err)
	assert.False(t, ok, "revocation is visible on the next lookup")
}

func TestGrantValidation(t *testing.T) {
	svc, _ := newPermissionService(t)
	ctx := context.Background()

	_, err := svc.Grant(ctx, auth.Grant{TenantID: "t1", Role: auth.RoleSuperAdmin, Resource: auth.ResourceSites, Action: auth.ActionRead})
	var verr *auth.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "role")

	_, err = svc.Grant(ctx, auth.Grant{Role: "owner", Resource: "equipment", Action: "approve"})
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"tenant_id", "role", "resource", "action"} {
		assert.Contains(t, verr.Fields, field)
	}
}

func TestListForRoleIsOrdered(t *testing.T) {
	svc, _ := newPermissionService(t)
	perms, err := svc.ListForRole(context.Background(), "t1", auth.RoleEmployee)
	require.NoError(t, err)
	assert.Equal(t, []auth.Permission{
		{Resource: auth.ResourceHazards, Action: auth.ActionCreate},
		{Resource: auth.ResourceHazards, Action: auth.ActionRead},
		{Resource: auth.ResourceIncidents, Action: auth.ActionCreate},
		{Resource: auth.ResourceIncidents, Action: auth.ActionRead},
		{Resource: auth.ResourceTraining, Action: auth.ActionRead},
	}, perms)

	_, err = svc.ListForRole(context.Background(), "", auth.RoleEmployee)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestMatrix(t *testing.T) {
	svc, _ := newPermissionService(t)
	m, err := svc.Matrix(context.Background(), "t1")
	require.NoError(t, err)

	assert.Len(t, m, len(auth.TenantRoles))
	assert.NotContains(t, m, auth.RoleSuperAdmin)
	assert.Equal(t, auth.Actions, m[auth.RoleSafetyOfficer][auth.ResourceUsers])
	assert.Equal(t, []auth.Action{auth.ActionRead, auth.ActionUpdate}, m[auth.RoleSubcontractor][auth.ResourceHazards])
	assert.Empty(t, m[auth.RoleEmployee][auth.ResourceUsers])

	empty, err := svc.Matrix(context.Background(), "t-none")
	require.NoError(t, err)
	assert.Len(t, empty, len(auth.TenantRoles))
}
