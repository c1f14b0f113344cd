package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sitesafe.app/internal/ids"
)

const (
	defaultSessionTTL     = 12 * time.Hour
	defaultTouchInterval  = time.Minute
	defaultMaxFailedLogin = 5
	defaultLockDuration   = 15 * time.Minute
)

// SessionService logs users in and resolves session tokens into principals.
type SessionService struct {
	users    UserStore
	tenants  TenantStore
	sessions SessionStore
	signer   *TokenSigner
	hasher   *Hasher
	log      zerolog.Logger

	now           func() time.Time
	ttl           time.Duration
	touchInterval time.Duration
	maxFailures   int
	lockFor       time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// SessionOption configures SessionService behavior.
type SessionOption func(*SessionService) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) SessionOption {
	return func(s *SessionService) error {
		if fn != nil {
			s.now = fn
			s.signer.now = fn
		}
		return nil
	}
}

// WithSessionTTL configures how long a session stays valid.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *SessionService) error {
		if ttl > 0 {
			s.ttl = ttl
		}
		return nil
	}
}

// WithTouchInterval sets how stale last_seen_at may get before Resolve
// refreshes it. A negative value disables touching.
func WithTouchInterval(d time.Duration) SessionOption {
	return func(s *SessionService) error {
		s.touchInterval = d
		return nil
	}
}

// WithLockout configures the failed-login lockout.
func WithLockout(maxFailures int, lockFor time.Duration) SessionOption {
	return func(s *SessionService) error {
		if maxFailures <= 0 || lockFor <= 0 {
			return errors.New("auth: lockout requires positive attempts and duration")
		}
		s.maxFailures = maxFailures
		s.lockFor = lockFor
		return nil
	}
}

func WithHasher(h *Hasher) SessionOption {
	return func(s *SessionService) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

func WithLogger(l zerolog.Logger) SessionOption {
	return func(s *SessionService) error {
		s.log = l
		return nil
	}
}

func NewSessionService(users UserStore, tenants TenantStore, sessions SessionStore, signer *TokenSigner, opts ...SessionOption) (*SessionService, error) {
	if users == nil || tenants == nil || sessions == nil || signer == nil {
		return nil, errors.New("auth: session service dependencies are required")
	}
	svc := &SessionService{
		users:         users,
		tenants:       tenants,
		sessions:      sessions,
		signer:        signer,
		hasher:        defaultHasher,
		log:           zerolog.Nop(),
		now:           time.Now,
		ttl:           defaultSessionTTL,
		touchInterval: defaultTouchInterval,
		maxFailures:   defaultMaxFailedLogin,
		lockFor:       defaultLockDuration,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// LoginRequest carries credentials plus client metadata for the session row.
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
	Principal Principal
}

func (s *SessionService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("sitesafe-timing-equalizer")
	})
	return s.dummyHash
}

// Login verifies credentials and opens a session.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return LoginResult{}, ErrUnauthenticated
	}
	now := s.now().UTC()

	user, err := s.users.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Verify(req.Password, s.dummy())
		s.log.Warn().Str("email", email).Msg("login for unknown email")
		return LoginResult{}, ErrUnauthenticated
	}
	if err != nil {
		return LoginResult{}, err
	}
	if user.Locked(now) {
		s.log.Warn().Str("user_id", user.ID).Msg("login on locked account")
		return LoginResult{}, ErrAccountLocked
	}
	if !user.IsActive {
		s.log.Warn().Str("user_id", user.ID).Msg("login on inactive account")
		return LoginResult{}, ErrUnauthenticated
	}
	if ok, err := s.tenantUsable(ctx, user); err != nil {
		return LoginResult{}, err
	} else if !ok {
		s.log.Warn().Str("user_id", user.ID).Str("tenant_id", user.TenantID).Msg("login for disabled tenant")
		return LoginResult{}, ErrUnauthenticated
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		failures, err := s.users.RecordLoginFailure(ctx, user.ID)
		if err != nil {
			return LoginResult{}, err
		}
		if failures >= s.maxFailures {
			if err := s.users.LockUser(ctx, user.ID, now.Add(s.lockFor)); err != nil {
				return LoginResult{}, err
			}
			s.log.Warn().Str("user_id", user.ID).Int("failures", failures).Msg("account locked after failed logins")
			return LoginResult{}, ErrAccountLocked
		}
		s.log.Warn().Str("user_id", user.ID).Int("failures", failures).Msg("invalid password")
		return LoginResult{}, ErrUnauthenticated
	}

	sess := Session{
		ID:         ids.New(),
		UserID:     user.ID,
		TenantID:   user.TenantID,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.ttl),
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}
	token, err := s.signer.Sign(sess, user.Role)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, err
	}
	user.LastLoginAt = &now
	user.FailedLogins = 0
	user.LockedUntil = nil

	s.log.Info().Str("user_id", user.ID).Str("session_id", sess.ID).Msg("login successful")
	return LoginResult{
		Token:     token,
		ExpiresAt: sess.ExpiresAt,
		User:      user,
		Principal: PrincipalForUser(user, sess.ID),
	}, nil
}

// Resolve maps a session token to a principal. It returns nil, nil whenever
// the caller should be treated as unauthenticated; an error means the lookup
// itself failed.
func (s *SessionService) Resolve(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, nil
	}
	now := s.now().UTC()

	sess, err := s.sessions.GetSession(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.Expired(now) || sess.UserID != claims.Subject {
		return nil, nil
	}

	user, err := s.users.GetUser(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	ok, err := s.tenantUsable(ctx, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if s.touchInterval >= 0 && now.Sub(sess.LastSeenAt) >= s.touchInterval {
		if err := s.sessions.TouchSession(ctx, sess.ID, now); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("touch session failed")
		}
	}

	p := PrincipalForUser(user, sess.ID)
	return &p, nil
}

// Logout ends the principal's current session.
func (s *SessionService) Logout(ctx context.Context, p Principal) error {
	if p.SessionID == "" {
		return ErrUnauthenticated
	}
	if err := s.sessions.DeleteSession(ctx, p.SessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	s.log.Info().Str("user_id", p.UserID).Str("session_id", p.SessionID).Msg("logout")
	return nil
}

// RevokeUser ends every session of userID.
func (s *SessionService) RevokeUser(ctx context.Context, userID string) error {
	return s.sessions.DeleteUserSessions(ctx, userID)
}

// tenantUsable enforces that a tenant user belongs to an existing, active tenant.
func (s *SessionService) tenantUsable(ctx context.Context, u User) (bool, error) {
	if u.Role == RoleSuperAdmin {
		return true, nil
	}
	if u.TenantID == "" {
		return false, nil
	}
	t, err := s.tenants.GetTenant(ctx, u.TenantID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.IsActive, nil
}
