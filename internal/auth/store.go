package auth

import (
	"context"
	"time"
)

// TxRunner executes fn inside one unit of work. Stores called with the
// context passed to fn take part in the same transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TenantStore persists tenants.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	UpdateTenant(ctx context.Context, id string, upd TenantUpdate) (Tenant, error)
	TenantEmailExists(ctx context.Context, email string) (bool, error)
	// AdjustCounter applies delta in place and returns the new value. It fails
	// with ErrQuotaExceeded when the result would leave [0, quota].
	AdjustCounter(ctx context.Context, tenantID string, c Counter, delta int) (int, error)
}

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	UserEmailExists(ctx context.Context, email string) (bool, error)
	// ListUsers lists a tenant's members; an empty tenantID lists super admins.
	ListUsers(ctx context.Context, tenantID string) ([]User, error)
	UpdateUserRole(ctx context.Context, id string, role Role) error
	// SetUserActive reports whether is_active changed.
	SetUserActive(ctx context.Context, id string, active bool) (bool, error)
	SetPasswordHash(ctx context.Context, id, hash string) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
	// RecordLoginFailure bumps the failure counter and returns the new count.
	RecordLoginFailure(ctx context.Context, id string) (int, error)
	LockUser(ctx context.Context, id string, until time.Time) error
}

// GrantStore is the persistent permission table.
type GrantStore interface {
	PermissionChecker
	Grant(ctx context.Context, g Grant) error
	Revoke(ctx context.Context, g Grant) error
	BulkGrant(ctx context.Context, grants []Grant) error
	ListForRole(ctx context.Context, tenantID string, role Role) ([]Grant, error)
	ListForTenant(ctx context.Context, tenantID string) ([]Grant, error)
}

// SessionStore keeps server-side session records.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}
