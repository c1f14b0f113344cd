// Package tenancy creates tenants and administers them.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sitesafe.app/internal/auth"
	"sitesafe.app/internal/ids"
)

// TenantInput is the tenant half of a self-registration.
type TenantInput struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=254"`
	Plan  string `json:"plan" validate:"omitempty,oneof=trial basic pro enterprise"`
}

// AdminInput is the first administrator of the new tenant. The role is not
// chosen by the caller.
type AdminInput struct {
	Name     string `json:"name" validate:"max=200"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

// Result is returned by RegisterTenant.
type Result struct {
	Tenant auth.Tenant `json:"tenant"`
	User   auth.User   `json:"user"`
}

// Provisioner creates a tenant, its administrator and its default grants as
// one unit of work.
type Provisioner struct {
	tx      auth.TxRunner
	tenants auth.TenantStore
	users   auth.UserStore
	grants  auth.GrantStore
	hasher  *auth.Hasher
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures Provisioner.
type Option func(*Provisioner)

func WithHasher(h *auth.Hasher) Option {
	return func(p *Provisioner) {
		if h != nil {
			p.hasher = h
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(p *Provisioner) {
		if fn != nil {
			p.now = fn
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Provisioner) { p.log = l }
}

func NewProvisioner(tx auth.TxRunner, tenants auth.TenantStore, users auth.UserStore, grants auth.GrantStore, opts ...Option) (*Provisioner, error) {
	if tx == nil || tenants == nil || users == nil || grants == nil {
		return nil, errors.New("tenancy: provisioner dependencies are required")
	}
	p := &Provisioner{
		tx:      tx,
		tenants: tenants,
		users:   users,
		grants:  grants,
		hasher:  auth.NewHasher(auth.DefaultPasswordParams()),
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (in *TenantInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = auth.NormalizeEmail(in.Email)
	in.Plan = strings.ToLower(strings.TrimSpace(in.Plan))
}

func (in *AdminInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = auth.NormalizeEmail(in.Email)
	if in.Name == "" {
		if at := strings.IndexByte(in.Email, '@'); at > 0 {
			in.Name = in.Email[:at]
		}
	}
}

// RegisterTenant validates the input, rejects email collisions before any
// write, then inserts the tenant, the safety_officer administrator and the
// default grant template in a single transaction.
func (p *Provisioner) RegisterTenant(ctx context.Context, tin TenantInput, ain AdminInput) (Result, error) {
	tin.normalize()
	ain.normalize()
	if err := auth.MergeValidation(
		auth.ValidateStruct("tenant", tin),
		auth.ValidateStruct("admin", ain),
		prefixed("admin", auth.ValidatePassword(ain.Password)),
	); err != nil {
		return Result{}, err
	}
	plan, err := auth.ParsePlan(tin.Plan)
	if err != nil {
		return Result{}, err
	}

	if err := p.checkCollisions(ctx, tin.Email, ain.Email); err != nil {
		return Result{}, err
	}

	hash, err := p.hasher.Hash(ain.Password)
	if err != nil {
		return Result{}, err
	}

	now := p.now().UTC()
	quota := plan.Quota()
	tenant := auth.Tenant{
		ID:                 ids.NewEntity(),
		Name:               tin.Name,
		Email:              tin.Email,
		Plan:               plan,
		SubscriptionStatus: auth.SubscriptionActive,
		MaxUsers:           quota.MaxUsers,
		MaxSites:           quota.MaxSites,
		ActiveUsers:        1,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	admin := auth.User{
		ID:           ids.NewEntity(),
		TenantID:     tenant.ID,
		Email:        ain.Email,
		PasswordHash: hash,
		Name:         ain.Name,
		Role:         auth.RoleSafetyOfficer,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	grants := auth.TemplateGrants(tenant.ID)

	err = p.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := p.tenants.CreateTenant(ctx, &tenant); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		if err := p.users.CreateUser(ctx, &admin); err != nil {
			return fmt.Errorf("insert admin: %w", err)
		}
		if err := p.grants.BulkGrant(ctx, grants); err != nil {
			return fmt.Errorf("seed permissions: %w", err)
		}
		return nil
	})
	if err != nil {
		p.log.Error().Err(err).Str("tenant_email", tin.Email).Msg("tenant registration rolled back")
		return Result{}, err
	}

	p.log.Info().
		Str("tenant_id", tenant.ID).
		Str("admin_id", admin.ID).
		Int("grants", len(grants)).
		Msg("tenant registered")
	return Result{Tenant: tenant, User: admin}, nil
}

func (p *Provisioner) checkCollisions(ctx context.Context, tenantEmail, adminEmail string) error {
	verr := &auth.ValidationError{}
	taken, err := p.tenants.TenantEmailExists(ctx, tenantEmail)
	if err != nil {
		return err
	}
	if taken {
		verr.Add("tenant.email", "already registered")
	}
	taken, err = p.users.UserEmailExists(ctx, adminEmail)
	if err != nil {
		return err
	}
	if taken {
		verr.Add("admin.email", "already registered")
	}
	if len(verr.Fields) > 0 {
		return &CollisionError{Fields: verr.Fields}
	}
	return nil
}

// CollisionError reports which emails are already taken.
type CollisionError struct {
	Fields map[string]string
}

func (e *CollisionError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return auth.ErrAlreadyExists.Error() + ": " + strings.Join(keys, ", ")
}

func (e *CollisionError) Unwrap() error { return auth.ErrAlreadyExists }

func (e *CollisionError) FieldDetails() map[string]string { return e.Fields }

func prefixed(prefix string, err error) error {
	var verr *auth.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	out := &auth.ValidationError{}
	for k, v := range verr.Fields {
		out.Add(prefix+"."+k, v)
	}
	return out
}

// superAdminLocker is implemented by stores where concurrent transactions
// can both miss an uncommitted super admin.
type superAdminLocker interface {
	LockSuperAdmins(ctx context.Context) error
}

// BootstrapSuperAdmin creates the platform operator account. It refuses to
// run once a super admin exists.
func (p *Provisioner) BootstrapSuperAdmin(ctx context.Context, in AdminInput) (auth.User, error) {
	in.normalize()
	if err := auth.MergeValidation(auth.ValidateStruct("", in), auth.ValidatePassword(in.Password)); err != nil {
		return auth.User{}, err
	}
	hash, err := p.hasher.Hash(in.Password)
	if err != nil {
		return auth.User{}, err
	}
	now := p.now().UTC()
	user := auth.User{
		ID:           ids.NewEntity(),
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		Role:         auth.RoleSuperAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = p.tx.RunInTx(ctx, func(ctx context.Context) error {
		if l, ok := p.users.(superAdminLocker); ok {
			if err := l.LockSuperAdmins(ctx); err != nil {
				return err
			}
		}
		existing, err := p.users.ListUsers(ctx, "")
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: super admin", auth.ErrAlreadyExists)
		}
		taken, err := p.users.UserEmailExists(ctx, in.Email)
		if err != nil {
			return err
		}
		if taken {
			return &CollisionError{Fields: map[string]string{"email": "already registered"}}
		}
		return p.users.CreateUser(ctx, &user)
	})
	if err != nil {
		return auth.User{}, err
	}
	p.log.Info().Str("user_id", user.ID).Msg("super admin bootstrapped")
	return user, nil
}
