package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PermissionChecker answers exact-match grant lookups.
type PermissionChecker interface {
	IsGranted(ctx context.Context, tenantID string, role Role, resource Resource, action Action) (bool, error)
}

// Authorizer evaluates the permission guard against a PermissionChecker.
// It keeps no state between calls.
type Authorizer struct {
	checker PermissionChecker
}

func NewAuthorizer(checker PermissionChecker) (*Authorizer, error) {
	if checker == nil {
		return nil, errors.New("auth: permission checker is required")
	}
	return &Authorizer{checker: checker}, nil
}

// RequireAuthenticated fails when no principal was resolved.
func RequireAuthenticated(p *Principal) error {
	if p == nil || strings.TrimSpace(p.UserID) == "" {
		return ErrUnauthenticated
	}
	return nil
}

// RequireSuperAdmin fails unless the principal's role is exactly super_admin.
func RequireSuperAdmin(p *Principal) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if p.Role != RoleSuperAdmin {
		return forbidden(CodeSuperAdminRequired, "super admin access required")
	}
	return nil
}

// RequirePermission fails unless the principal is super_admin or its tenant
// grants (role, resource, action).
func (a *Authorizer) RequirePermission(ctx context.Context, p *Principal, resource Resource, action Action) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if p.IsSuperAdmin() {
		return nil
	}
	if p.TenantID == "" {
		return forbidden(CodeTenantRequired, "principal is not bound to a tenant")
	}
	ok, err := a.checker.IsGranted(ctx, p.TenantID, p.Role, resource, action)
	if err != nil {
		return fmt.Errorf("permission lookup: %w", err)
	}
	if !ok {
		return forbidden(CodeMissingPermission, fmt.Sprintf("missing permission %s:%s", resource, action))
	}
	return nil
}

// Require runs the permission guard for the principal attached to ctx.
func (a *Authorizer) Require(ctx context.Context, resource Resource, action Action) error {
	return a.RequirePermission(ctx, principalPtr(ctx), resource, action)
}

// RequireTenantAccess rejects access to another tenant's data.
func RequireTenantAccess(p *Principal, tenantID string) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if p.IsSuperAdmin() {
		return nil
	}
	if tenantID == "" || p.TenantID != tenantID {
		return forbidden(CodeTenantMismatch, "resource belongs to another tenant")
	}
	return nil
}

// SelfAction names an operation a principal may not apply to itself.
type SelfAction string

const (
	SelfActionRoleChange    SelfAction = "role_change"
	SelfActionSuspend       SelfAction = "suspend"
	SelfActionPasswordReset SelfAction = "password_reset"
)

var selfActionMessages = map[SelfAction]string{
	SelfActionRoleChange:    "cannot modify own role; ask another administrator",
	SelfActionSuspend:       "cannot suspend own account; ask another administrator",
	SelfActionPasswordReset: "cannot reset own password here; ask another administrator",
}

// IsSelfRestrictedAction returns an error when principal targets itself with a
// restricted action. It runs after the permission guard.
func IsSelfRestrictedAction(p *Principal, targetUserID string, kind SelfAction) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if p.UserID != strings.TrimSpace(targetUserID) {
		return nil
	}
	msg, ok := selfActionMessages[kind]
	if !ok {
		msg = "cannot perform this action on own account; ask another administrator"
	}
	return forbidden(CodeSelfAction, msg)
}
