package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"sitesafe.app/internal/audit"
	"sitesafe.app/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var tenantCols = []string{"id", "name", "email", "plan", "subscription_status", "max_users", "max_sites",
	"active_users", "active_sites", "is_active", "created_at", "updated_at"}

func tenantRows(id string, activeUsers int64) *sqlmock.Rows {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(tenantCols).
		AddRow(id, "Acme Co", "ops@acme.test", "trial", "active", int64(10), int64(2), activeUsers, int64(0), true, now, now)
}

func TestRunInTxCommitsAndJoinsNestedCalls(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into permission_grants").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from permission_grants").
		WithArgs("t1", "employee", "reports", "create").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	g := auth.Grant{TenantID: "t1", Role: auth.RoleEmployee, Resource: auth.ResourceReports, Action: auth.ActionCreate}
	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		if err := s.Grant(ctx, g); err != nil {
			return err
		}
		return s.RunInTx(ctx, func(ctx context.Context) error {
			return s.Revoke(ctx, g)
		})
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
}

func TestRunInTxRollsBackAndMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into tenants").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "tenants_email_key"})
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		return s.CreateTenant(ctx, &auth.Tenant{ID: "t1", Name: "Acme Co", Email: "ops@acme.test", Plan: auth.PlanTrial})
	})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAdjustCounter(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("update tenants set active_users = active_users").
		WithArgs("t1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"active_users"}).AddRow(int64(3)))
	got, err := s.AdjustCounter(ctx, "t1", auth.CounterUsers, 1)
	if err != nil || got != 3 {
		t.Fatalf("AdjustCounter = %d, %v", got, err)
	}

	mock.ExpectQuery("update tenants set active_sites = active_sites").
		WithArgs("t1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"active_sites"}))
	mock.ExpectQuery("select .* from tenants where id").
		WithArgs("t1").
		WillReturnRows(tenantRows("t1", 1))
	if _, err := s.AdjustCounter(ctx, "t1", auth.CounterSites, 1); !errors.Is(err, auth.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	mock.ExpectQuery("update tenants set active_users").
		WithArgs("missing", -1).
		WillReturnRows(sqlmock.NewRows([]string{"active_users"}))
	mock.ExpectQuery("select .* from tenants where id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(tenantCols))
	if _, err := s.AdjustCounter(ctx, "missing", auth.CounterUsers, -1); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.AdjustCounter(ctx, "t1", auth.Counter("badges"), 1); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBulkGrantUsesOneStatementForTemplate(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("insert into permission_grants .* on conflict do nothing").
		WillReturnResult(sqlmock.NewResult(0, int64(auth.TemplateSize())))
	if err := s.BulkGrant(context.Background(), auth.TemplateGrants("t1")); err != nil {
		t.Fatalf("BulkGrant: %v", err)
	}
	if err := s.BulkGrant(context.Background(), nil); err != nil {
		t.Fatalf("empty BulkGrant: %v", err)
	}
}

func TestIsGranted(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("select exists").
		WithArgs("t1", "supervisor", "permits", "update").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := s.IsGranted(context.Background(), "t1", auth.RoleSupervisor, auth.ResourcePermits, auth.ActionUpdate)
	if err != nil || !ok {
		t.Fatalf("IsGranted = %v, %v", ok, err)
	}
}

func TestGetUserScansNullableColumns(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "tenant_id", "email", "password_hash", "name", "role", "is_active",
		"last_login_at", "failed_logins", "locked_until", "created_at", "updated_at"}

	mock.ExpectQuery("select .* from users where id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", nil, "root@sitesafe.test", "hash", "Root", "super_admin", true, nil, int64(0), nil, now, now))
	u, err := s.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.TenantID != "" || u.LastLoginAt != nil || u.LockedUntil != nil || u.Role != auth.RoleSuperAdmin {
		t.Fatalf("unexpected user: %+v", u)
	}

	mock.ExpectQuery("select .* from users where email").
		WithArgs("nobody@acme.test").
		WillReturnError(sql.ErrNoRows)
	if _, err := s.FindUserByEmail(context.Background(), "nobody@acme.test"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateUserRoleMissingRow(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("update users set role").
		WithArgs("u404", "supervisor").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.UpdateUserRole(context.Background(), "u404", auth.RoleSupervisor); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetUserActiveOnlyFlipsDifferingRows(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(`update users set is_active = \$2, updated_at = now\(\)\s+where id = \$1 and is_active <> \$2`).
		WithArgs("u1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	changed, err := s.SetUserActive(ctx, "u1", false)
	if err != nil || !changed {
		t.Fatalf("first suspend: changed=%v err=%v", changed, err)
	}

	mock.ExpectExec("update users set is_active").
		WithArgs("u1", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	changed, err = s.SetUserActive(ctx, "u1", false)
	if err != nil || changed {
		t.Fatalf("repeated suspend: changed=%v err=%v", changed, err)
	}

	mock.ExpectExec("update users set is_active").
		WithArgs("u404", true).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("u404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if _, err := s.SetUserActive(ctx, "u404", true); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLockSuperAdminsNeedsTransaction(t *testing.T) {
	s, mock := newMock(t)

	if err := s.LockSuperAdmins(context.Background()); err == nil {
		t.Fatal("expected an error outside a transaction")
	}

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").
		WithArgs(superAdminLockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	err := s.RunInTx(context.Background(), s.LockSuperAdmins)
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
}

func TestUpdateTenantBuildsSetClause(t *testing.T) {
	s, mock := newMock(t)
	name := "Acme Construction"
	plan := auth.PlanPro

	mock.ExpectQuery(regexp.QuoteMeta("update tenants set name = $1, plan = $2, updated_at = now() where id = $3 returning")).
		WithArgs(name, "pro", "t1").
		WillReturnRows(tenantRows("t1", 1))
	if _, err := s.UpdateTenant(context.Background(), "t1", auth.TenantUpdate{Name: &name, Plan: &plan}); err != nil {
		t.Fatalf("UpdateTenant: %v", err)
	}
}

func TestListAuditFilters(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "occurred_at", "tenant_id", "actor_user_id", "event", "target_type", "target_id", "request_id", "metadata"}

	mock.ExpectQuery(regexp.QuoteMeta("from audit_log where tenant_id = $1 and id < $2 order by id desc limit $3")).
		WithArgs("t1", "01HZZ", 50).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("01HZY", now, "t1", "u1", "user.role_changed", "user", "u2", "req-1", []byte(`{"role":"supervisor"}`)).
			AddRow("01HZX", now, "t1", nil, "tenant.registered", "tenant", "t1", "", []byte(`{}`)))

	got, err := s.ListAudit(context.Background(), audit.Query{TenantID: "t1", Before: "01HZZ", Limit: 50})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Metadata["role"] != "supervisor" {
		t.Fatalf("metadata not decoded: %+v", got[0])
	}
	if got[1].ActorUserID != "" || got[1].Metadata != nil {
		t.Fatalf("unexpected second entry: %+v", got[1])
	}
}
