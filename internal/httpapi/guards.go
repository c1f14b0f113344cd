package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"

	"sitesafe.app/internal/auth"
	"sitesafe.app/internal/obs"
)

// principalHandler is a route body that runs after its guard passed.
type principalHandler func(w http.ResponseWriter, r *http.Request, p auth.Principal)

func principalFrom(r *http.Request) *auth.Principal {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return nil
	}
	return &p
}

func (a *API) authenticated(next principalHandler) http.HandlerFunc {
	return a.guard("authenticated", func(r *http.Request, p *auth.Principal) error {
		return auth.RequireAuthenticated(p)
	}, next)
}

func (a *API) superAdmin(next principalHandler) http.HandlerFunc {
	return a.guard("super_admin", func(r *http.Request, p *auth.Principal) error {
		return auth.RequireSuperAdmin(p)
	}, next)
}

func (a *API) permitted(res auth.Resource, act auth.Action, next principalHandler) http.HandlerFunc {
	return a.guard("permission", func(r *http.Request, p *auth.Principal) error {
		return a.authz.RequirePermission(r.Context(), p, res, act)
	}, next)
}

func (a *API) guard(name string, check func(*http.Request, *auth.Principal) error, next principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principalFrom(r)
		if err := check(r, p); err != nil {
			obs.ObserveAuthz(name, "deny")
			ev := zerolog.Ctx(r.Context()).Warn().Err(err).Str("guard", name).Str("path", r.URL.Path)
			if authz, ok := auth.IsAuthzError(err); ok {
				ev = ev.Str("code", authz.Code)
			}
			ev.Msg("request denied")
			writeServiceError(w, r, err)
			return
		}
		obs.ObserveAuthz(name, "allow")
		next(w, r, *p)
	}
}
