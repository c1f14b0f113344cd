package auth

import (
	"context"
	"errors"
	"testing"
)

type stubChecker struct {
	granted map[string]bool
	err     error
	calls   int
}

func (s *stubChecker) IsGranted(_ context.Context, tenantID string, role Role, resource Resource, action Action) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.granted[tenantID+"|"+string(role)+"|"+string(resource)+"|"+string(action)], nil
}

func authzCode(t *testing.T, err error) string {
	t.Helper()
	authz, ok := IsAuthzError(err)
	if !ok {
		t.Fatalf("expected AuthzError, got %v", err)
	}
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("AuthzError must wrap ErrForbidden: %v", err)
	}
	return authz.Code
}

func TestRequireAuthenticated(t *testing.T) {
	if err := RequireAuthenticated(nil); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := RequireAuthenticated(&Principal{UserID: "  "}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected blank user rejected, got %v", err)
	}
	if err := RequireAuthenticated(&Principal{UserID: "u1", Role: RoleEmployee}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireSuperAdmin(t *testing.T) {
	if err := RequireSuperAdmin(nil); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	err := RequireSuperAdmin(&Principal{UserID: "u1", TenantID: "t1", Role: RoleSafetyOfficer})
	if code := authzCode(t, err); code != CodeSuperAdminRequired {
		t.Fatalf("unexpected code %s", code)
	}
	if err := RequireSuperAdmin(&Principal{UserID: "root", Role: RoleSuperAdmin}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequirePermission(t *testing.T) {
	checker := &stubChecker{granted: map[string]bool{"t1|supervisor|hazards|update": true}}
	authz, err := NewAuthorizer(checker)
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	ctx := context.Background()
	supervisor := &Principal{UserID: "u1", TenantID: "t1", Role: RoleSupervisor}

	if err := authz.RequirePermission(ctx, supervisor, ResourceHazards, ActionUpdate); err != nil {
		t.Fatalf("expected grant to pass: %v", err)
	}
	err = authz.RequirePermission(ctx, supervisor, ResourceHazards, ActionDelete)
	if code := authzCode(t, err); code != CodeMissingPermission {
		t.Fatalf("unexpected code %s", code)
	}

	other := &Principal{UserID: "u2", TenantID: "t2", Role: RoleSupervisor}
	if err := authz.RequirePermission(ctx, other, ResourceHazards, ActionUpdate); err == nil {
		t.Fatal("grants must not leak across tenants")
	}

	detached := &Principal{UserID: "u3", Role: RoleEmployee}
	err = authz.RequirePermission(ctx, detached, ResourceHazards, ActionRead)
	if code := authzCode(t, err); code != CodeTenantRequired {
		t.Fatalf("unexpected code %s", code)
	}

	if err := authz.RequirePermission(ctx, nil, ResourceHazards, ActionRead); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRequirePermissionSuperAdminBypassesLookup(t *testing.T) {
	checker := &stubChecker{}
	authz, _ := NewAuthorizer(checker)
	root := &Principal{UserID: "root", Role: RoleSuperAdmin}
	for _, res := range Resources {
		for _, act := range Actions {
			if err := authz.RequirePermission(context.Background(), root, res, act); err != nil {
				t.Fatalf("super admin denied %s:%s: %v", res, act, err)
			}
		}
	}
	if checker.calls != 0 {
		t.Fatalf("expected no grant lookups, got %d", checker.calls)
	}
}

func TestRequirePermissionWrapsLookupFailure(t *testing.T) {
	boom := errors.New("db down")
	authz, _ := NewAuthorizer(&stubChecker{err: boom})
	err := authz.RequirePermission(context.Background(), &Principal{UserID: "u1", TenantID: "t1", Role: RoleEmployee}, ResourceHazards, ActionRead)
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if _, ok := IsAuthzError(err); ok {
		t.Fatal("lookup failure must not look like a denial")
	}
}

func TestRequireUsesContextPrincipal(t *testing.T) {
	checker := &stubChecker{granted: map[string]bool{"t1|employee|incidents|create": true}}
	authz, _ := NewAuthorizer(checker)
	ctx := ContextWithPrincipal(context.Background(), Principal{UserID: "u1", TenantID: "t1", Role: RoleEmployee})
	if err := authz.Require(ctx, ResourceIncidents, ActionCreate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := authz.Require(context.Background(), ResourceIncidents, ActionCreate); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated without principal, got %v", err)
	}
}

func TestRequireTenantAccess(t *testing.T) {
	p := &Principal{UserID: "u1", TenantID: "t1", Role: RoleSafetyOfficer}
	if err := RequireTenantAccess(p, "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code := authzCode(t, RequireTenantAccess(p, "t2")); code != CodeTenantMismatch {
		t.Fatalf("unexpected code %s", code)
	}
	if err := RequireTenantAccess(&Principal{UserID: "root", Role: RoleSuperAdmin}, "t2"); err != nil {
		t.Fatalf("super admin must reach every tenant: %v", err)
	}
}

func TestIsSelfRestrictedAction(t *testing.T) {
	p := &Principal{UserID: "u1", TenantID: "t1", Role: RoleSafetyOfficer}
	for _, kind := range []SelfAction{SelfActionRoleChange, SelfActionSuspend, SelfActionPasswordReset, SelfAction("other")} {
		err := IsSelfRestrictedAction(p, "u1", kind)
		if code := authzCode(t, err); code != CodeSelfAction {
			t.Fatalf("%s: unexpected code %s", kind, code)
		}
		if err.Error() == "" {
			t.Fatalf("%s: expected message", kind)
		}
	}
	if err := IsSelfRestrictedAction(p, "u2", SelfActionRoleChange); err != nil {
		t.Fatalf("other targets are allowed: %v", err)
	}
	root := &Principal{UserID: "root", Role: RoleSuperAdmin}
	if err := IsSelfRestrictedAction(root, "root", SelfActionSuspend); err == nil {
		t.Fatal("the rule applies to super admins too")
	}
}
