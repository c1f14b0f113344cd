package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sitesafe.app/internal/auth"
)

// Admin exposes cross-tenant administration. Callers must pass the
// super-admin guard first.
type Admin struct {
	tenants auth.TenantStore
}

func NewAdmin(tenants auth.TenantStore) (*Admin, error) {
	if tenants == nil {
		return nil, errors.New("tenancy: tenant store is required")
	}
	return &Admin{tenants: tenants}, nil
}

func (a *Admin) List(ctx context.Context) ([]auth.Tenant, error) {
	return a.tenants.ListTenants(ctx)
}

func (a *Admin) Get(ctx context.Context, id string) (auth.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return auth.Tenant{}, fmt.Errorf("%w: tenant id is required", auth.ErrInvalidInput)
	}
	return a.tenants.GetTenant(ctx, id)
}

// Update patches a tenant. Changing the plan resets quotas to the plan's
// defaults unless explicit quotas are supplied in the same update.
func (a *Admin) Update(ctx context.Context, id string, upd auth.TenantUpdate) (auth.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return auth.Tenant{}, fmt.Errorf("%w: tenant id is required", auth.ErrInvalidInput)
	}
	if err := upd.Validate(); err != nil {
		return auth.Tenant{}, err
	}
	if upd.Plan != nil {
		q := upd.Plan.Quota()
		if upd.MaxUsers == nil {
			upd.MaxUsers = &q.MaxUsers
		}
		if upd.MaxSites == nil {
			upd.MaxSites = &q.MaxSites
		}
	}
	return a.tenants.UpdateTenant(ctx, id, upd)
}

// AdjustSites moves the site counter, enforcing the plan's site quota.
func (a *Admin) AdjustSites(ctx context.Context, id string, delta int) (int, error) {
	return a.tenants.AdjustCounter(ctx, id, auth.CounterSites, delta)
}
