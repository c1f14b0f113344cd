package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"sitesafe.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errMissingToken = errors.New("missing bearer token")

// withSession resolves a bearer token into a principal when one is present.
// It never rejects a request itself; guards on each route decide.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := a.sessions.Resolve(r.Context(), token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if principal == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), *principal)
		ctx = auth.ContextWithToken(ctx, token)
		l := zerolog.Ctx(ctx).With().Str("user_id", principal.UserID).Str("tenant_id", principal.TenantID).Logger()
		ctx = l.WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
