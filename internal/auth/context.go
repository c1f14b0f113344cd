package auth

import "context"

// Principal is the authenticated user attached to a request.
type Principal struct {
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	Role      Role   `json:"role"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	SessionID string `json:"-"`
}

// IsSuperAdmin reports whether the principal holds the global role.
func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Role == RoleSuperAdmin
}

// PrincipalForUser builds a principal from a stored user row.
func PrincipalForUser(u User, sessionID string) Principal {
	return Principal{
		UserID:    u.ID,
		TenantID:  u.TenantID,
		Role:      u.Role,
		Email:     u.Email,
		Name:      u.Name,
		SessionID: sessionID,
	}
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// principalPtr returns nil when no principal is attached.
func principalPtr(ctx context.Context) *Principal {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil
	}
	return &p
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
