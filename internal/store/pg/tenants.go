package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sitesafe.app/internal/auth"
)

const tenantColumns = `id, name, email, plan, subscription_status, max_users, max_sites,
	active_users, active_sites, is_active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (auth.Tenant, error) {
	var t auth.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Email, &t.Plan, &t.SubscriptionStatus, &t.MaxUsers, &t.MaxSites,
		&t.ActiveUsers, &t.ActiveSites, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) CreateTenant(ctx context.Context, t *auth.Tenant) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into tenants (`+tenantColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, t.ID, t.Name, t.Email, string(t.Plan), t.SubscriptionStatus, t.MaxUsers, t.MaxSites,
		t.ActiveUsers, t.ActiveSites, t.IsActive, t.CreatedAt, t.UpdatedAt)
	return mapWriteErr(err)
}

func (s *Store) GetTenant(ctx context.Context, id string) (auth.Tenant, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Tenant{}, err
	}
	t, err := scanTenant(q.QueryRowContext(ctx, `select `+tenantColumns+` from tenants where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Tenant{}, auth.ErrNotFound
	}
	return t, err
}

func (s *Store) ListTenants(ctx context.Context) ([]auth.Tenant, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `select `+tenantColumns+` from tenants order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTenant(ctx context.Context, id string, upd auth.TenantUpdate) (auth.Tenant, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Tenant{}, err
	}
	var (
		setClauses []string
		args       []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Plan != nil {
		set("plan", string(*upd.Plan))
	}
	if upd.SubscriptionStatus != nil {
		set("subscription_status", *upd.SubscriptionStatus)
	}
	if upd.MaxUsers != nil {
		set("max_users", *upd.MaxUsers)
	}
	if upd.MaxSites != nil {
		set("max_sites", *upd.MaxSites)
	}
	if upd.IsActive != nil {
		set("is_active", *upd.IsActive)
	}
	if len(setClauses) == 0 {
		return s.GetTenant(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(`update tenants set %s where id = $%d returning %s`,
		strings.Join(setClauses, ", "), len(args), tenantColumns)
	t, err := scanTenant(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Tenant{}, auth.ErrNotFound
	}
	return t, err
}

func (s *Store) TenantEmailExists(ctx context.Context, email string) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = q.QueryRowContext(ctx, `select exists(select 1 from tenants where email = $1)`, email).Scan(&exists)
	return exists, err
}

func counterColumns(c auth.Counter) (current, limit string, err error) {
	switch c {
	case auth.CounterUsers:
		return "active_users", "max_users", nil
	case auth.CounterSites:
		return "active_sites", "max_sites", nil
	}
	return "", "", fmt.Errorf("%w: unknown counter %q", auth.ErrInvalidInput, c)
}

// AdjustCounter updates the counter in one statement so concurrent
// adjustments cannot overshoot the quota. Decrements are never blocked by the
// quota, only by the lower bound of zero.
func (s *Store) AdjustCounter(ctx context.Context, tenantID string, c auth.Counter, delta int) (int, error) {
	cur, limit, err := counterColumns(c)
	if err != nil {
		return 0, err
	}
	q, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
		update tenants set %[1]s = %[1]s + $2, updated_at = now()
		where id = $1
		  and %[1]s + $2 >= 0
		  and ($2 <= 0 or %[2]s = 0 or %[1]s + $2 <= %[2]s)
		returning %[1]s`, cur, limit)
	var value int
	err = q.QueryRowContext(ctx, query, tenantID, delta).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := s.GetTenant(ctx, tenantID); gerr != nil {
			return 0, gerr
		}
		return 0, fmt.Errorf("%w: %s", auth.ErrQuotaExceeded, c)
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}
