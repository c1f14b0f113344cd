package httpapi

import (
	"net/http"
	"strconv"

	"sitesafe.app/internal/audit"
	"sitesafe.app/internal/auth"
)

type updateTenantRequest struct {
	Name               *string    `json:"name"`
	Plan               *auth.Plan `json:"plan"`
	SubscriptionStatus *string    `json:"subscription_status"`
	MaxUsers           *int       `json:"max_users"`
	MaxSites           *int       `json:"max_sites"`
	IsActive           *bool      `json:"is_active"`
}

type adjustSitesRequest struct {
	Delta int `json:"delta"`
}

func (a *API) handleListTenants(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	tenants, err := a.admin.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []auth.Tenant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (a *API) handleGetTenant(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	t, err := a.admin.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleUpdateTenant(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	var req updateTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	t, err := a.admin.Update(r.Context(), r.PathValue("id"), auth.TenantUpdate(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	meta := map[string]string{"plan": string(t.Plan), "is_active": strconv.FormatBool(t.IsActive)}
	a.record(r.Context(), "tenant.updated", audit.Target{Type: "tenant", ID: t.ID, TenantID: t.ID}, meta)
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleAdjustSites(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	var req adjustSitesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	id := r.PathValue("id")
	n, err := a.admin.AdjustSites(r.Context(), id, req.Delta)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r.Context(), "tenant.sites.adjusted", audit.Target{Type: "tenant", ID: id, TenantID: id}, map[string]string{
		"delta":        strconv.Itoa(req.Delta),
		"active_sites": strconv.Itoa(n),
	})
	writeJSON(w, http.StatusOK, map[string]any{"active_sites": n})
}

func (a *API) handleAuditLog(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, codeInvalidInput, "invalid input", map[string]string{"limit": "must be a non-negative integer"})
			return
		}
		limit = n
	}
	entries, err := a.auditor.List(r.Context(), audit.Query{
		TenantID: q.Get("tenant_id"),
		Before:   q.Get("before"),
		Limit:    limit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	resp := map[string]any{"entries": entries}
	if len(entries) > 0 {
		resp["next_before"] = entries[len(entries)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}
