package httpapi

import (
	"errors"
	"net/http"
	"time"

	"sitesafe.app/internal/audit"
	"sitesafe.app/internal/auth"
	"sitesafe.app/internal/obs"
	"sitesafe.app/internal/tenancy"
)

type registerRequest struct {
	Tenant tenancy.TenantInput `json:"tenant"`
	Admin  tenancy.AdminInput  `json:"admin"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	User      auth.User `json:"user"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := a.provisioner.RegisterTenant(r.Context(), req.Tenant, req.Admin)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAlreadyExists):
			obs.ObserveRegistration("conflict")
		case errors.Is(err, auth.ErrInvalidInput):
			obs.ObserveRegistration("invalid")
		default:
			obs.ObserveRegistration("error")
		}
		writeServiceError(w, r, err)
		return
	}
	obs.ObserveRegistration("created")

	ctx := auth.ContextWithPrincipal(r.Context(), auth.PrincipalForUser(res.User, ""))
	a.record(ctx, "tenant.registered", audit.Target{Type: "tenant", ID: res.Tenant.ID, TenantID: res.Tenant.ID}, map[string]string{
		"plan":     string(res.Tenant.Plan),
		"admin_id": res.User.ID,
	})
	w.Header().Set("Location", "/v1/admin/tenants/"+res.Tenant.ID)
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := a.sessions.Login(r.Context(), auth.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	switch {
	case err == nil:
		obs.ObserveLogin("success")
	case errors.Is(err, auth.ErrAccountLocked):
		obs.ObserveLogin("locked")
		writeServiceError(w, r, err)
		return
	case errors.Is(err, auth.ErrUnauthenticated):
		obs.ObserveLogin("failure")
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid email or password", nil)
		return
	default:
		writeServiceError(w, r, err)
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), res.Principal)
	a.record(ctx, "auth.login", audit.Target{Type: "session", ID: res.Principal.SessionID}, map[string]string{
		"ip": clientIP(r),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		TokenType: "Bearer",
		ExpiresAt: res.ExpiresAt,
		User:      res.User,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	if err := a.sessions.Logout(r.Context(), p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r.Context(), "auth.logout", audit.Target{Type: "session", ID: p.SessionID}, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	u, err := a.users.GetUser(r.Context(), p, p.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": p,
		"user":      u,
	})
}
