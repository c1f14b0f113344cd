package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer  = "sitesafe"
	minSecretBytes = 32
)

var errMissingSecret = errors.New("auth: token secret is not configured")

// Claims represents JWT claims carried by a session token. Role and tenant
// are informational; resolution always reloads them from storage.
type Claims struct {
	SessionID string `json:"sid"`
	TenantID  string `json:"tid,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies HS256 session tokens.
type TokenSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenSigner validates the secret. Short secrets are accepted only when
// allowWeak is set (dev mode).
func NewTokenSigner(secret, issuer string, allowWeak bool) (*TokenSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	if len(secret) < minSecretBytes && !allowWeak {
		return nil, fmt.Errorf("auth: token secret must be at least %d bytes", minSecretBytes)
	}
	if issuer = strings.TrimSpace(issuer); issuer == "" {
		issuer = defaultIssuer
	}
	return &TokenSigner{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Sign issues a token bound to the session.
func (s *TokenSigner) Sign(sess Session, role Role) (string, error) {
	if strings.TrimSpace(sess.ID) == "" || strings.TrimSpace(sess.UserID) == "" {
		return "", errors.New("auth: session id and user id are required")
	}
	now := s.now().UTC()
	if !sess.ExpiresAt.After(now) {
		return "", errors.New("auth: session already expired")
	}
	claims := Claims{
		SessionID: sess.ID,
		TenantID:  sess.TenantID,
		Role:      string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer and timestamps.
func (s *TokenSigner) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.SessionID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
