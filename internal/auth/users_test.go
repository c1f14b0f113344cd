package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesafe.app/internal/auth"
	"sitesafe.app/internal/store/memory"
)

func newUserService(t *testing.T, f *fixture) *auth.UserService {
	t.Helper()
	svc, err := auth.NewUserService(f.store, f.store, f.store, f.sessions, f.hasher)
	require.NoError(t, err)
	return svc
}

func requireAuthzCode(t *testing.T, err error, code string) {
	t.Helper()
	authz, ok := auth.IsAuthzError(err)
	require.True(t, ok, "expected AuthzError, got %v", err)
	assert.Equal(t, code, authz.Code)
}

func TestCreateUserCountsAgainstQuota(t *testing.T) {
	f := newFixture(t)
	svc := newUserService(t, f)
	officer := f.addUser(t, "u-officer", "ada@acme.test", auth.RoleSafetyOfficer, f.tenant.ID)
	actor := auth.PrincipalForUser(officer, "s1")
	ctx := context.Background()

	in := auth.CreateUserInput{Email: "Sam@Acme.test", Name: "Sam", Password: password, Role: "supervisor"}
	u, err := svc.CreateUser(ctx, actor, f.tenant.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "sam@acme.test", u.Email)
	assert.Equal(t, auth.RoleSupervisor, u.Role)
	assert.NotEqual(t, password, u.PasswordHash)

	_, err = svc.CreateUser(ctx, actor, f.tenant.ID, in)
	assert.ErrorIs(t, err, auth.ErrAlreadyExists)

	in.Email = "eve@acme.test"
	_, err = svc.CreateUser(ctx, actor, f.tenant.ID, in)
	require.NoError(t, err)

	in.Email = "max@acme.test"
	_, err = svc.CreateUser(ctx, actor, f.tenant.ID, in)
	assert.ErrorIs(t, err, auth.ErrQuotaExceeded)
	_, err = f.store.FindUserByEmail(ctx, "max@acme.test")
	assert.ErrorIs(t, err, auth.ErrNotFound, "failed quota check must not leave a user behind")

	tenant, err := f.store.GetTenant(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, tenant.ActiveUsers)
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	svc := newUserService(t, f)
	officer := f.addUser(t, "u-officer", "ada@acme.test", auth.RoleSafetyOfficer, f.tenant.ID)
	actor := auth.PrincipalForUser(officer, "s1")
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, actor, f.tenant.ID, auth.CreateUserInput{Email: "x@acme.test", Name: "X", Password: password, Role: "super_admin"})
	var verr *auth.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "role")

	_, err = svc.CreateUser(ctx, actor, f.tenant.ID, auth.CreateUserInput{Email: "bad", Name: "", Password: "short", Role: "wizard"})
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"email", "name", "password", "role"} {
		assert.Contains(t, verr.Fields, field)
	}

	_, err = svc.CreateUser(ctx, actor, "tenant-2", auth.CreateUserInput{Email: "x@acme.test", Name: "X", Password: password, Role: "employee"})
	requireAuthzCode(t, err, auth.CodeTenantMismatch)
}

func TestGetUserHidesOtherTenants(t *testing.T) {
	f := newFixture(t)
	svc := newUserService(t, f)
	ctx := context.Background()
	other := auth.Tenant{ID: "tenant-2", Name: "Globex", Email: "ops@globex.test", Plan: auth.PlanPro, IsActive: true}
	require.NoError(t, f.store.CreateTenant(ctx, &other))

	officer := f.addUser(t, "u-officer", "ada@acme.test", auth.RoleSafetyOfficer, f.tenant.ID)
	foreign := f.addUser(t, "u-foreign", "hank@globex.test", auth.RoleEmployee, other.ID)
	root := f.addUser(t, "u-root", "root@sitesafe.test", auth.RoleSuperAdmin, "")

	_, err := svc.GetUser(ctx, auth.PrincipalForUser(officer, "s1"), foreign.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = svc.GetUser(ctx, auth.PrincipalForUser(officer, "s1"), root.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	got, err := svc.GetUser(ctx, auth.PrincipalForUser(root, "s2"), foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.TenantID)
}

func TestSelfActionsAndProtectedAccounts(t *testing.T) {
	f := newFixture(t)
	svc := newUserService(t, f)
	ctx := context.Background()
	officer := f.addUser(t, "u-officer", "ada@acme.test", auth.RoleSafetyOfficer, f.tenant.ID)
	root := f.addUser(t, "u-root", "root@sitesafe.test", auth.RoleSuperAdmin, "")
	actor := auth.PrincipalForUser(officer, "s1")

	_, err := svc.ChangeRole(ctx, actor, officer.ID, "employee")
	requireAuthzCode(t, err, auth.CodeSelfAction)
	_, err = svc.Suspend(ctx, actor, officer.ID)
	requireAuthzCode(t, err, auth.CodeSelfAction)
	_, err = svc.ResetPassword(ctx, actor, officer.ID, "another-long-secret")
	requireAuthzCode(t, err, auth.CodeSelfAction)

	rootActor := auth.PrincipalForUser(root, "s2")
	_, err = svc.ChangeRole(ctx, rootActor, root.ID, "employee")
	requireAuthzCode(t, err, auth.CodeSelfAction)

	other := f.addUser(t, "u-root-2", "ops@sitesafe.test", auth.RoleSuperAdmin, "")
	_, err = svc.Suspend(ctx, rootActor, other.ID)
	requireAuthzCode(t, err, auth.CodeProtectedAccount)

	stored, err := f.store.GetUser(ctx, officer.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSafetyOfficer, stored.Role)
	assert.True(t, stored.IsActive)
}

func TestSuspendActivateAndReset(t *testing.T) {
	f := newFixture(t)
	svc := newUserService(t, f)
	ctx := context.Background()
	officer := f.addUser(t, "u-officer", "ada@acme.test", auth.RoleSafetyOfficer, f.tenant.ID)
	actor := auth.PrincipalForUser(officer, "s1")
	crew, err := svc.CreateUser(ctx, actor, f.tenant.ID, auth.CreateUserInput{Email: "sam@acme.test", Name: "Sam", Password: password, Role: "employee"})
	require.NoError(t, err)

	login, err := f.sessions.Login(ctx, auth.LoginRequest{Email: crew.Email, Password: password})
	require.NoError(t, err)

	suspended, err := svc.Suspend(ctx, actor, crew.ID)
	require.NoError(t, err)
	assert.False(t, suspended.IsActive)
	p, err := f.sessions.Resolve(ctx, login.Token)
	require.NoError(t, err)
	assert.Nil(t, p, "suspension revokes sessions")

	again, err := svc.Suspend(ctx, actor, crew.ID)
	require.NoError(t, err)
	assert.False(t, again.IsActive)

	tenant, err := f.store.GetTenant(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tenant.ActiveUsers, "suspending twice frees one slot")

	activated, err := svc.Activate(ctx, actor, crew.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	reset, err := svc.ResetPassword(ctx, actor, crew.ID, "another-long-secret")
	require.NoError(t, err)
	assert.Equal(t, f.tenant.ID, reset.TenantID)
	assert.NotEqual(t, crew.PasswordHash, reset.PasswordHash)
	_, err = f.sessions.Login(ctx, auth.LoginRequest{Email: crew.Email, Password: password})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	_, err = f.sessions.Login(ctx, auth.LoginRequest{Email: crew.Email, Password: "another-long-secret"})
	require.NoError(t, err)

	_, err = svc.ResetPassword(ctx, actor, crew.ID, "short")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

// racingReads holds the first n GetUser calls until all of them have read,
// so concurrent callers act on the same stale row.
type racingReads struct {
	*memory.Store
	calls   atomic.Int32
	n       int32
	arrived sync.WaitGroup
}

func newRacingReads(store *memory.Store, n int) *racingReads {
	r := &racingReads{Store: store, n: int32(n)}
	r.arrived.Add(n)
	return r
}

func (r *racingReads) GetUser(ctx context.Context, id string) (auth.User, error) {
	u, err := r.Store.GetUser(ctx, id)
	if r.calls.Add(1) <= r.n {
		r.arrived.Done()
		r.arrived.Wait()
	}
	return u, err
}

func TestConcurrentSuspendFreesOneSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	officer := f.addUser(t, "u-officer", "ada@acme.test", auth.RoleSafetyOfficer, f.tenant.ID)
	crew := f.addUser(t, "u-crew", "sam@acme.test", auth.RoleEmployee, f.tenant.ID)
	_, err := f.store.AdjustCounter(ctx, f.tenant.ID, auth.CounterUsers, 1)
	require.NoError(t, err)
	before, err := f.store.GetTenant(ctx, f.tenant.ID)
	require.NoError(t, err)

	users := newRacingReads(f.store, 2)
	svc, err := auth.NewUserService(f.store, users, f.store, f.sessions, f.hasher)
	require.NoError(t, err)
	actor := auth.PrincipalForUser(officer, "s1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Suspend(ctx, actor, crew.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	after, err := f.store.GetTenant(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, before.ActiveUsers-1, after.ActiveUsers)
	stored, err := f.store.GetUser(ctx, crew.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestConcurrentActivateTakesOneSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	officer := f.addUser(t, "u-officer", "ada@acme.test", auth.RoleSafetyOfficer, f.tenant.ID)
	crew := f.addUser(t, "u-crew", "sam@acme.test", auth.RoleEmployee, f.tenant.ID)
	_, err := f.store.SetUserActive(ctx, crew.ID, false)
	require.NoError(t, err)
	before, err := f.store.GetTenant(ctx, f.tenant.ID)
	require.NoError(t, err)

	users := newRacingReads(f.store, 2)
	svc, err := auth.NewUserService(f.store, users, f.store, f.sessions, f.hasher)
	require.NoError(t, err)
	actor := auth.PrincipalForUser(officer, "s1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Activate(ctx, actor, crew.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	after, err := f.store.GetTenant(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, before.ActiveUsers+1, after.ActiveUsers)
}

func TestChangeRole(t *testing.T) {
	f := newFixture(t)
	svc := newUserService(t, f)
	ctx := context.Background()
	officer := f.addUser(t, "u-officer", "ada@acme.test", auth.RoleSafetyOfficer, f.tenant.ID)
	crew := f.addUser(t, "u-crew", "sam@acme.test", auth.RoleEmployee, f.tenant.ID)
	actor := auth.PrincipalForUser(officer, "s1")

	u, err := svc.ChangeRole(ctx, actor, crew.ID, "Subcontractor")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSubcontractor, u.Role)

	_, err = svc.ChangeRole(ctx, actor, crew.ID, "super_admin")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = svc.ChangeRole(ctx, actor, crew.ID, "foreman")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = svc.ChangeRole(ctx, actor, "missing", "employee")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}
