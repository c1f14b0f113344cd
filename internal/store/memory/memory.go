// Package memory is an in-process implementation of every store. It backs
// development mode and service tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sitesafe.app/internal/audit"
	"sitesafe.app/internal/auth"
)

type grantKey struct {
	tenantID string
	role     auth.Role
	resource auth.Resource
	action   auth.Action
}

type state struct {
	tenants  map[string]auth.Tenant
	users    map[string]auth.User
	grants   map[grantKey]struct{}
	sessions map[string]auth.Session
	audit    []audit.Entry
}

func newState() *state {
	return &state{
		tenants:  make(map[string]auth.Tenant),
		users:    make(map[string]auth.User),
		grants:   make(map[grantKey]struct{}),
		sessions: make(map[string]auth.Session),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.tenants {
		out.tenants[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k := range s.grants {
		out.grants[k] = struct{}{}
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	out.audit = append([]audit.Entry(nil), s.audit...)
	return out
}

// Store implements all persistence interfaces in memory.
//
// A transaction works on a private copy of the state which replaces the
// committed state when fn succeeds. Writes outside a transaction wait for
// the running one to finish, so a commit never drops them. Reads outside a
// transaction only see committed data.
type Store struct {
	txMu sync.Mutex // held by the running transaction and by plain writes
	mu   sync.RWMutex
	st   *state
	now  func() time.Time
}

var (
	_ auth.TxRunner     = (*Store)(nil)
	_ auth.TenantStore  = (*Store)(nil)
	_ auth.UserStore    = (*Store)(nil)
	_ auth.GrantStore   = (*Store)(nil)
	_ auth.SessionStore = (*Store)(nil)
	_ audit.Store       = (*Store)(nil)
)

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// SetClock overrides the time source used for expiry and timestamps.
func (s *Store) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.now = fn
	}
}

func (s *Store) Ping(context.Context) error { return nil }

type txKey struct{}

type tx struct {
	owner *Store
	st    *state
}

func (s *Store) txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	if t == nil || t.owner != s {
		return nil
	}
	return t
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	t := &tx{owner: s, st: s.st.clone()}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = t.st
	s.mu.Unlock()
	return nil
}

// read runs fn against the state visible to ctx.
func (s *Store) read(ctx context.Context, fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.txFrom(ctx); t != nil {
		fn(t.st)
		return
	}
	fn(s.st)
}

// write runs fn against the transaction copy when ctx carries one and
// against the committed state otherwise.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if t := s.txFrom(ctx); t != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(t.st)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// --- tenants ---

func (s *Store) CreateTenant(ctx context.Context, t *auth.Tenant) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.tenants[t.ID]; ok {
			return fmt.Errorf("%w: tenant id", auth.ErrAlreadyExists)
		}
		for _, existing := range st.tenants {
			if existing.Email == t.Email {
				return fmt.Errorf("%w: tenant email", auth.ErrAlreadyExists)
			}
		}
		st.tenants[t.ID] = *t
		return nil
	})
}

func (s *Store) GetTenant(ctx context.Context, id string) (auth.Tenant, error) {
	var (
		t  auth.Tenant
		ok bool
	)
	s.read(ctx, func(st *state) { t, ok = st.tenants[id] })
	if !ok {
		return auth.Tenant{}, auth.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]auth.Tenant, error) {
	var out []auth.Tenant
	s.read(ctx, func(st *state) {
		out = make([]auth.Tenant, 0, len(st.tenants))
		for _, t := range st.tenants {
			out = append(out, t)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateTenant(ctx context.Context, id string, upd auth.TenantUpdate) (auth.Tenant, error) {
	var t auth.Tenant
	err := s.write(ctx, func(st *state) error {
		var ok bool
		t, ok = st.tenants[id]
		if !ok {
			return auth.ErrNotFound
		}
		if upd.Name != nil {
			t.Name = *upd.Name
		}
		if upd.Plan != nil {
			t.Plan = *upd.Plan
		}
		if upd.SubscriptionStatus != nil {
			t.SubscriptionStatus = *upd.SubscriptionStatus
		}
		if upd.MaxUsers != nil {
			t.MaxUsers = *upd.MaxUsers
		}
		if upd.MaxSites != nil {
			t.MaxSites = *upd.MaxSites
		}
		if upd.IsActive != nil {
			t.IsActive = *upd.IsActive
		}
		t.UpdatedAt = s.now().UTC()
		st.tenants[id] = t
		return nil
	})
	if err != nil {
		return auth.Tenant{}, err
	}
	return t, nil
}

func (s *Store) TenantEmailExists(ctx context.Context, email string) (bool, error) {
	var found bool
	s.read(ctx, func(st *state) {
		for _, t := range st.tenants {
			if t.Email == email {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (s *Store) AdjustCounter(ctx context.Context, tenantID string, c auth.Counter, delta int) (int, error) {
	var next int
	err := s.write(ctx, func(st *state) error {
		t, ok := st.tenants[tenantID]
		if !ok {
			return auth.ErrNotFound
		}
		var cur *int
		var limit int
		switch c {
		case auth.CounterUsers:
			cur, limit = &t.ActiveUsers, t.MaxUsers
		case auth.CounterSites:
			cur, limit = &t.ActiveSites, t.MaxSites
		default:
			return fmt.Errorf("%w: unknown counter %q", auth.ErrInvalidInput, c)
		}
		next = *cur + delta
		if next < 0 || (delta > 0 && limit > 0 && next > limit) {
			return fmt.Errorf("%w: %s", auth.ErrQuotaExceeded, c)
		}
		*cur = next
		t.UpdatedAt = s.now().UTC()
		st.tenants[tenantID] = t
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.users[u.ID]; ok {
			return fmt.Errorf("%w: user id", auth.ErrAlreadyExists)
		}
		for _, existing := range st.users {
			if existing.Email == u.Email {
				return fmt.Errorf("%w: user email", auth.ErrAlreadyExists)
			}
		}
		if u.TenantID != "" {
			if _, ok := st.tenants[u.TenantID]; !ok {
				return fmt.Errorf("%w: tenant", auth.ErrNotFound)
			}
		}
		st.users[u.ID] = *u
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	var (
		u  auth.User
		ok bool
	)
	s.read(ctx, func(st *state) { u, ok = st.users[id] })
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	var (
		u     auth.User
		found bool
	)
	s.read(ctx, func(st *state) {
		for _, candidate := range st.users {
			if candidate.Email == email {
				u, found = candidate, true
				return
			}
		}
	})
	if !found {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *Store) UserEmailExists(ctx context.Context, email string) (bool, error) {
	_, err := s.FindUserByEmail(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]auth.User, error) {
	var out []auth.User
	s.read(ctx, func(st *state) {
		for _, u := range st.users {
			if u.TenantID == tenantID {
				out = append(out, u)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) updateUser(ctx context.Context, id string, fn func(u *auth.User)) error {
	return s.write(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return auth.ErrNotFound
		}
		fn(&u)
		st.users[id] = u
		return nil
	})
}

func (s *Store) UpdateUserRole(ctx context.Context, id string, role auth.Role) error {
	return s.updateUser(ctx, id, func(u *auth.User) {
		u.Role = role
		u.UpdatedAt = s.now().UTC()
	})
}

// SetUserActive reports whether the flag changed. Setting the current value
// is a no-op.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) (bool, error) {
	var changed bool
	err := s.updateUser(ctx, id, func(u *auth.User) {
		if u.IsActive == active {
			return
		}
		u.IsActive = active
		u.UpdatedAt = s.now().UTC()
		changed = true
	})
	return changed, err
}

func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.updateUser(ctx, id, func(u *auth.User) {
		u.PasswordHash = hash
		u.FailedLogins = 0
		u.LockedUntil = nil
		u.UpdatedAt = s.now().UTC()
	})
}

func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return s.updateUser(ctx, id, func(u *auth.User) {
		t := at
		u.LastLoginAt = &t
		u.FailedLogins = 0
		u.LockedUntil = nil
	})
}

func (s *Store) RecordLoginFailure(ctx context.Context, id string) (int, error) {
	var n int
	err := s.updateUser(ctx, id, func(u *auth.User) {
		u.FailedLogins++
		n = u.FailedLogins
	})
	return n, err
}

func (s *Store) LockUser(ctx context.Context, id string, until time.Time) error {
	return s.updateUser(ctx, id, func(u *auth.User) {
		t := until
		u.LockedUntil = &t
		u.FailedLogins = 0
	})
}

// --- grants ---

func keyOf(g auth.Grant) grantKey {
	return grantKey{tenantID: g.TenantID, role: g.Role, resource: g.Resource, action: g.Action}
}

func (s *Store) IsGranted(ctx context.Context, tenantID string, role auth.Role, res auth.Resource, act auth.Action) (bool, error) {
	var ok bool
	s.read(ctx, func(st *state) {
		_, ok = st.grants[grantKey{tenantID: tenantID, role: role, resource: res, action: act}]
	})
	return ok, nil
}

func (s *Store) Grant(ctx context.Context, g auth.Grant) error {
	return s.BulkGrant(ctx, []auth.Grant{g})
}

func (s *Store) Revoke(ctx context.Context, g auth.Grant) error {
	return s.write(ctx, func(st *state) error {
		delete(st.grants, keyOf(g))
		return nil
	})
}

func (s *Store) BulkGrant(ctx context.Context, grants []auth.Grant) error {
	return s.write(ctx, func(st *state) error {
		for _, g := range grants {
			if _, ok := st.tenants[g.TenantID]; !ok {
				return fmt.Errorf("%w: tenant", auth.ErrNotFound)
			}
		}
		for _, g := range grants {
			st.grants[keyOf(g)] = struct{}{}
		}
		return nil
	})
}

func (s *Store) ListForRole(ctx context.Context, tenantID string, role auth.Role) ([]auth.Grant, error) {
	return s.listGrants(ctx, func(k grantKey) bool { return k.tenantID == tenantID && k.role == role }), nil
}

func (s *Store) ListForTenant(ctx context.Context, tenantID string) ([]auth.Grant, error) {
	return s.listGrants(ctx, func(k grantKey) bool { return k.tenantID == tenantID }), nil
}

func (s *Store) listGrants(ctx context.Context, match func(grantKey) bool) []auth.Grant {
	var out []auth.Grant
	s.read(ctx, func(st *state) {
		for k := range st.grants {
			if match(k) {
				out = append(out, auth.Grant{TenantID: k.tenantID, Role: k.role, Resource: k.resource, Action: k.action})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		return a.Action < b.Action
	})
	return out
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, sess auth.Session) error {
	return s.write(ctx, func(st *state) error {
		st.sessions[sess.ID] = sess
		return nil
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (auth.Session, error) {
	var (
		sess auth.Session
		ok   bool
	)
	s.read(ctx, func(st *state) {
		sess, ok = st.sessions[id]
		ok = ok && !sess.Expired(s.now())
	})
	if !ok {
		return auth.Session{}, auth.ErrNotFound
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	return s.write(ctx, func(st *state) error {
		sess, ok := st.sessions[id]
		if !ok {
			return auth.ErrNotFound
		}
		sess.LastSeenAt = at
		st.sessions[id] = sess
		return nil
	})
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.sessions[id]; !ok {
			return auth.ErrNotFound
		}
		delete(st.sessions, id)
		return nil
	})
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	return s.write(ctx, func(st *state) error {
		for id, sess := range st.sessions {
			if sess.UserID == userID {
				delete(st.sessions, id)
			}
		}
		return nil
	})
}

// --- audit ---

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	return s.write(ctx, func(st *state) error {
		st.audit = append(st.audit, e)
		return nil
	})
}

// ListAudit returns entries newest first.
func (s *Store) ListAudit(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	var out []audit.Entry
	s.read(ctx, func(st *state) {
		for i := len(st.audit) - 1; i >= 0; i-- {
			e := st.audit[i]
			if q.TenantID != "" && e.TenantID != q.TenantID {
				continue
			}
			if q.Before != "" && e.ID >= q.Before {
				continue
			}
			out = append(out, e)
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	})
	return out, nil
}
