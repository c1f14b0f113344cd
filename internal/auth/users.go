package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitesafe.app/internal/ids"
)

// SessionRevoker ends all sessions of a user.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID string) error
}

// UserService implements tenant user administration. The HTTP layer runs the
// permission guard first; the service enforces tenant scoping and the
// self-action rule.
type UserService struct {
	tx       TxRunner
	users    UserStore
	tenants  TenantStore
	sessions SessionRevoker
	hasher   *Hasher
	now      func() time.Time
}

func NewUserService(tx TxRunner, users UserStore, tenants TenantStore, sessions SessionRevoker, hasher *Hasher) (*UserService, error) {
	if tx == nil || users == nil || tenants == nil || sessions == nil {
		return nil, errors.New("auth: user service dependencies are required")
	}
	if hasher == nil {
		hasher = defaultHasher
	}
	return &UserService{tx: tx, users: users, tenants: tenants, sessions: sessions, hasher: hasher, now: time.Now}, nil
}

// CreateUserInput describes a new tenant member.
type CreateUserInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"required,max=200"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

// CreateUser adds a user to tenantID and bumps the tenant's user counter in
// the same transaction.
func (s *UserService) CreateUser(ctx context.Context, actor Principal, tenantID string, in CreateUserInput) (User, error) {
	if err := RequireTenantAccess(&actor, tenantID); err != nil {
		return User{}, err
	}
	in.Email = NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	verr := &ValidationError{}
	role, err := ParseRole(in.Role)
	if err != nil && in.Role != "" {
		verr.Add("role", "unknown role")
	}
	if role == RoleSuperAdmin {
		verr.Add("role", "super_admin cannot be assigned to tenant users")
	}
	if err := MergeValidation(ValidateStruct("", in), ValidatePassword(in.Password), verr.OrNil()); err != nil {
		return User{}, err
	}

	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return User{}, err
	}
	if !tenant.IsActive {
		return User{}, fmt.Errorf("%w: tenant is disabled", ErrForbidden)
	}
	exists, err := s.users.UserEmailExists(ctx, in.Email)
	if err != nil {
		return User{}, err
	}
	if exists {
		return User{}, fmt.Errorf("%w: user email %s", ErrAlreadyExists, in.Email)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, err
	}

	now := s.now().UTC()
	user := User{
		ID:           ids.NewEntity(),
		TenantID:     tenantID,
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.tenants.AdjustCounter(ctx, tenantID, CounterUsers, 1); err != nil {
			return err
		}
		return s.users.CreateUser(ctx, &user)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListUsers returns the members of tenantID.
func (s *UserService) ListUsers(ctx context.Context, actor Principal, tenantID string) ([]User, error) {
	if err := RequireTenantAccess(&actor, tenantID); err != nil {
		return nil, err
	}
	return s.users.ListUsers(ctx, tenantID)
}

// GetUser loads a user visible to actor. Users of other tenants are reported
// as not found.
func (s *UserService) GetUser(ctx context.Context, actor Principal, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if actor.IsSuperAdmin() {
		return u, nil
	}
	if u.TenantID == "" || u.TenantID != actor.TenantID {
		return User{}, ErrNotFound
	}
	return u, nil
}

// target loads a user that actor may modify.
func (s *UserService) target(ctx context.Context, actor Principal, userID string, kind SelfAction) (User, error) {
	if err := IsSelfRestrictedAction(&actor, userID, kind); err != nil {
		return User{}, err
	}
	u, err := s.GetUser(ctx, actor, userID)
	if err != nil {
		return User{}, err
	}
	if u.Role == RoleSuperAdmin {
		return User{}, forbidden(CodeProtectedAccount, "super admin accounts cannot be modified here")
	}
	return u, nil
}

// ChangeRole assigns a new tenant role to userID.
func (s *UserService) ChangeRole(ctx context.Context, actor Principal, userID, roleName string) (User, error) {
	u, err := s.target(ctx, actor, userID, SelfActionRoleChange)
	if err != nil {
		return User{}, err
	}
	role, err := ParseRole(roleName)
	if err != nil {
		return User{}, &ValidationError{Fields: map[string]string{"role": "unknown role"}}
	}
	if role == RoleSuperAdmin {
		return User{}, &ValidationError{Fields: map[string]string{"role": "super_admin cannot be assigned to tenant users"}}
	}
	if u.Role == role {
		return u, nil
	}
	if err := s.users.UpdateUserRole(ctx, u.ID, role); err != nil {
		return User{}, err
	}
	u.Role = role
	u.UpdatedAt = s.now().UTC()
	return u, nil
}

// Suspend deactivates userID, frees a user slot and ends its sessions. The
// slot is released only by the call that actually flipped the flag.
func (s *UserService) Suspend(ctx context.Context, actor Principal, userID string) (User, error) {
	u, err := s.target(ctx, actor, userID, SelfActionSuspend)
	if err != nil {
		return User{}, err
	}
	if !u.IsActive {
		return u, nil
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		changed, err := s.users.SetUserActive(ctx, u.ID, false)
		if err != nil || !changed {
			return err
		}
		_, err = s.tenants.AdjustCounter(ctx, u.TenantID, CounterUsers, -1)
		return err
	})
	if err != nil {
		return User{}, err
	}
	if err := s.sessions.RevokeUser(ctx, u.ID); err != nil {
		return User{}, fmt.Errorf("revoke sessions: %w", err)
	}
	u.IsActive = false
	u.UpdatedAt = s.now().UTC()
	return u, nil
}

// Activate re-enables userID, subject to the tenant's user quota.
func (s *UserService) Activate(ctx context.Context, actor Principal, userID string) (User, error) {
	u, err := s.GetUser(ctx, actor, userID)
	if err != nil {
		return User{}, err
	}
	if u.Role == RoleSuperAdmin {
		return User{}, forbidden(CodeProtectedAccount, "super admin accounts cannot be modified here")
	}
	if u.IsActive {
		return u, nil
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		changed, err := s.users.SetUserActive(ctx, u.ID, true)
		if err != nil || !changed {
			return err
		}
		_, err = s.tenants.AdjustCounter(ctx, u.TenantID, CounterUsers, 1)
		return err
	})
	if err != nil {
		return User{}, err
	}
	u.IsActive = true
	u.UpdatedAt = s.now().UTC()
	return u, nil
}

// ResetPassword sets a new password for userID and ends its sessions.
func (s *UserService) ResetPassword(ctx context.Context, actor Principal, userID, password string) (User, error) {
	u, err := s.target(ctx, actor, userID, SelfActionPasswordReset)
	if err != nil {
		return User{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return User{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return User{}, err
	}
	if err := s.sessions.RevokeUser(ctx, u.ID); err != nil {
		return User{}, fmt.Errorf("revoke sessions: %w", err)
	}
	u.PasswordHash = hash
	u.FailedLogins = 0
	u.LockedUntil = nil
	u.UpdatedAt = s.now().UTC()
	return u, nil
}
