package httpapi

import (
	"net/http"

	"sitesafe.app/internal/audit"
	"sitesafe.app/internal/auth"
)

type grantRequest struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (a *API) handleMatrix(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	tenantID, err := tenantScope(p, r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	m, err := a.perms.Matrix(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"roles":     m,
	})
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	tenantID, err := tenantScope(p, r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	role, err := auth.ParseRole(r.PathValue("role"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	perms, err := a.perms.ListForRole(r.Context(), tenantID, role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":   tenantID,
		"role":        role,
		"permissions": perms,
	})
}

func (a *API) decodeGrant(r *http.Request, p auth.Principal) (auth.Grant, error) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		return auth.Grant{}, err
	}
	tenantID, err := tenantScope(p, req.TenantID)
	if err != nil {
		return auth.Grant{}, err
	}
	return auth.Grant{
		TenantID: tenantID,
		Role:     auth.Role(req.Role),
		Resource: auth.Resource(req.Resource),
		Action:   auth.Action(req.Action),
	}, nil
}

func (a *API) handleGrant(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	g, err := a.decodeGrant(r, p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	g, err = a.perms.Grant(r.Context(), g)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r.Context(), "permission.granted", audit.Target{Type: "permission", ID: grantID(g), TenantID: g.TenantID}, nil)
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	g, err := a.decodeGrant(r, p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	g, err = a.perms.Revoke(r.Context(), g)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r.Context(), "permission.revoked", audit.Target{Type: "permission", ID: grantID(g), TenantID: g.TenantID}, nil)
	w.WriteHeader(http.StatusNoContent)
}

func grantID(g auth.Grant) string {
	return string(g.Role) + ":" + auth.Permission{Resource: g.Resource, Action: g.Action}.Key()
}
