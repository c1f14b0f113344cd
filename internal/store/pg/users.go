package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sitesafe.app/internal/auth"
)

const userColumns = `id, tenant_id, email, password_hash, name, role, is_active,
	last_login_at, failed_logins, locked_until, created_at, updated_at`

func scanUser(row scanner) (auth.User, error) {
	var (
		u         auth.User
		tenantID  sql.NullString
		lastLogin sql.NullTime
		locked    sql.NullTime
	)
	err := row.Scan(&u.ID, &tenantID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.IsActive,
		&lastLogin, &u.FailedLogins, &locked, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return auth.User{}, err
	}
	u.TenantID = tenantID.String
	u.LastLoginAt = timePtr(lastLogin)
	u.LockedUntil = timePtr(locked)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, u.ID, nullIfEmpty(u.TenantID), u.Email, u.PasswordHash, u.Name, string(u.Role), u.IsActive,
		nullTime(u.LastLoginAt), u.FailedLogins, nullTime(u.LockedUntil), u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

func (s *Store) getUserWhere(ctx context.Context, where string, arg any) (auth.User, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.User{}, err
	}
	u, err := scanUser(q.QueryRowContext(ctx, `select `+userColumns+` from users where `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.getUserWhere(ctx, "id = $1", id)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.getUserWhere(ctx, "email = $1", email)
}

func (s *Store) UserEmailExists(ctx context.Context, email string) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = q.QueryRowContext(ctx, `select exists(select 1 from users where email = $1)`, email).Scan(&exists)
	return exists, err
}

// ListUsers returns the members of tenantID. An empty tenantID lists the
// super admins.
func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]auth.User, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		select `+userColumns+`
		from users
		where coalesce(tenant_id, '') = $1
		order by created_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return requireAffected(q.ExecContext(ctx, query, args...))
}

func (s *Store) UpdateUserRole(ctx context.Context, id string, role auth.Role) error {
	return s.exec(ctx, `update users set role = $2, updated_at = now() where id = $1`, id, string(role))
}

// SetUserActive flips is_active only when it differs from active and reports
// whether it did. Concurrent callers block on the row lock and the loser
// sees zero affected rows.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx, `
		update users set is_active = $2, updated_at = now()
		where id = $1 and is_active <> $2
	`, id, active)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `select exists(select 1 from users where id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, auth.ErrNotFound
	}
	return false, nil
}

// superAdminLockID keys the transaction advisory lock taken while a super
// admin is bootstrapped.
const superAdminLockID int64 = 827316403

// LockSuperAdmins serializes super admin bootstrap across processes until
// the surrounding transaction ends. It must run inside RunInTx.
func (s *Store) LockSuperAdmins(ctx context.Context) error {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	if !ok {
		return errors.New("lock super admins: no transaction in context")
	}
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, superAdminLockID); err != nil {
		return fmt.Errorf("lock super admins: %w", err)
	}
	return nil
}

func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.exec(ctx, `
		update users
		set password_hash = $2, failed_logins = 0, locked_until = null, updated_at = now()
		where id = $1
	`, id, hash)
}

func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `
		update users
		set last_login_at = $2, failed_logins = 0, locked_until = null
		where id = $1
	`, id, at)
}

func (s *Store) RecordLoginFailure(ctx context.Context, id string) (int, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = q.QueryRowContext(ctx, `
		update users set failed_logins = failed_logins + 1
		where id = $1
		returning failed_logins
	`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrNotFound
	}
	return n, err
}

func (s *Store) LockUser(ctx context.Context, id string, until time.Time) error {
	return s.exec(ctx, `update users set locked_until = $2, failed_logins = 0 where id = $1`, id, until)
}
