package httpapi

import (
	"net/http"
	"strings"

	"sitesafe.app/internal/audit"
	"sitesafe.app/internal/auth"
)

type createUserRequest struct {
	auth.CreateUserInput
	TenantID string `json:"tenant_id"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

// tenantScope picks the tenant a request operates on. Tenant users are pinned
// to their own tenant; the super admin must name one.
func tenantScope(p auth.Principal, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if p.IsSuperAdmin() {
		if requested == "" {
			return "", &auth.ValidationError{Fields: map[string]string{"tenant_id": "is required for platform administrators"}}
		}
		return requested, nil
	}
	if requested != "" {
		if err := auth.RequireTenantAccess(&p, requested); err != nil {
			return "", err
		}
	}
	return p.TenantID, nil
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	tenantID, err := tenantScope(p, r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	users, err := a.users.ListUsers(r.Context(), p, tenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	tenantID, err := tenantScope(p, req.TenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	u, err := a.users.CreateUser(r.Context(), p, tenantID, req.CreateUserInput)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r.Context(), "user.created", audit.Target{Type: "user", ID: u.ID, TenantID: u.TenantID}, map[string]string{
		"role": string(u.Role),
	})
	w.Header().Set("Location", "/v1/users/"+u.ID)
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	u, err := a.users.GetUser(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req changeRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u, err := a.users.ChangeRole(r.Context(), p, r.PathValue("id"), req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r.Context(), "user.role_changed", audit.Target{Type: "user", ID: u.ID, TenantID: u.TenantID}, map[string]string{
		"role": string(u.Role),
	})
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleSuspend(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	u, err := a.users.Suspend(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r.Context(), "user.suspended", audit.Target{Type: "user", ID: u.ID, TenantID: u.TenantID}, nil)
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleActivate(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	u, err := a.users.Activate(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r.Context(), "user.activated", audit.Target{Type: "user", ID: u.ID, TenantID: u.TenantID}, nil)
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	id := r.PathValue("id")
	u, err := a.users.ResetPassword(r.Context(), p, id, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r.Context(), "user.password_reset", audit.Target{Type: "user", ID: u.ID, TenantID: u.TenantID}, nil)
	w.WriteHeader(http.StatusNoContent)
}
