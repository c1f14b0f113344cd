// Package httpapi exposes tenant registration, sessions, user administration
// and the permission matrix over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sitesafe.app/internal/audit"
	"sitesafe.app/internal/auth"
	"sitesafe.app/internal/obs"
	"sitesafe.app/internal/stream"
	"sitesafe.app/internal/tenancy"
)

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker reports whether dependencies are reachable.
type ReadyChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database and the session store. Nil members are skipped.
type ReadyProbe struct {
	DB       Pinger
	Sessions Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if rp.Sessions != nil {
		if err := rp.Sessions.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the services the API delegates to.
type Deps struct {
	Sessions    *auth.SessionService
	Authorizer  *auth.Authorizer
	Permissions *auth.PermissionService
	Users       *auth.UserService
	Provisioner *tenancy.Provisioner
	Admin       *tenancy.Admin
	Audit       *audit.Recorder
	Ready       ReadyChecker
	// Stream is optional; without it the live audit feed is not routed.
	Stream *stream.Hub
}

// API serves the HTTP surface.
type API struct {
	mux         *http.ServeMux
	sessions    *auth.SessionService
	authz       *auth.Authorizer
	perms       *auth.PermissionService
	users       *auth.UserService
	provisioner *tenancy.Provisioner
	admin       *tenancy.Admin
	auditor     *audit.Recorder
	hub         *stream.Hub
	ready       ReadyChecker
	version     string

	streams      context.Context
	closeStreams context.CancelFunc

	rateBurst  int
	ratePerSec float64
	maxBody    int64
	origins    []string
}

// Option configures API.
type Option func(*API)

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec = perSecond
			a.rateBurst = burst
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.origins = origins }
}

func New(d Deps, opts ...Option) (*API, error) {
	if d.Sessions == nil || d.Authorizer == nil || d.Permissions == nil || d.Users == nil ||
		d.Provisioner == nil || d.Admin == nil || d.Audit == nil {
		return nil, errors.New("httpapi: missing dependencies")
	}
	a := &API{
		mux:         http.NewServeMux(),
		sessions:    d.Sessions,
		authz:       d.Authorizer,
		perms:       d.Permissions,
		users:       d.Users,
		provisioner: d.Provisioner,
		admin:       d.Admin,
		auditor:     d.Audit,
		hub:         d.Stream,
		ready:       d.Ready,
		version:     "dev",
		rateBurst:   20,
		ratePerSec:  10,
		maxBody:     1 << 20,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	a.streams, a.closeStreams = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/tenants/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/logout", a.authenticated(a.handleLogout))
	a.mux.HandleFunc("GET /v1/auth/me", a.authenticated(a.handleMe))

	a.mux.HandleFunc("GET /v1/admin/tenants", a.superAdmin(a.handleListTenants))
	a.mux.HandleFunc("GET /v1/admin/tenants/{id}", a.superAdmin(a.handleGetTenant))
	a.mux.HandleFunc("PATCH /v1/admin/tenants/{id}", a.superAdmin(a.handleUpdateTenant))
	a.mux.HandleFunc("POST /v1/admin/tenants/{id}/site-count", a.superAdmin(a.handleAdjustSites))
	a.mux.HandleFunc("GET /v1/admin/audit", a.superAdmin(a.handleAuditLog))
	if a.hub != nil {
		a.mux.HandleFunc("GET /v1/admin/audit/stream", a.superAdmin(a.handleAuditStream))
	}

	a.mux.HandleFunc("GET /v1/users", a.permitted(auth.ResourceUsers, auth.ActionRead, a.handleListUsers))
	a.mux.HandleFunc("POST /v1/users", a.permitted(auth.ResourceUsers, auth.ActionCreate, a.handleCreateUser))
	a.mux.HandleFunc("GET /v1/users/{id}", a.permitted(auth.ResourceUsers, auth.ActionRead, a.handleGetUser))
	a.mux.HandleFunc("PUT /v1/users/{id}/role", a.permitted(auth.ResourceUsers, auth.ActionUpdate, a.handleChangeRole))
	a.mux.HandleFunc("POST /v1/users/{id}/suspend", a.permitted(auth.ResourceUsers, auth.ActionUpdate, a.handleSuspend))
	a.mux.HandleFunc("POST /v1/users/{id}/activate", a.permitted(auth.ResourceUsers, auth.ActionUpdate, a.handleActivate))
	a.mux.HandleFunc("POST /v1/users/{id}/reset-password", a.permitted(auth.ResourceUsers, auth.ActionUpdate, a.handleResetPassword))

	a.mux.HandleFunc("GET /v1/permissions", a.permitted(auth.ResourcePermissions, auth.ActionRead, a.handleMatrix))
	a.mux.HandleFunc("GET /v1/permissions/{role}", a.permitted(auth.ResourcePermissions, auth.ActionRead, a.handleRolePermissions))
	a.mux.HandleFunc("POST /v1/permissions", a.permitted(auth.ResourcePermissions, auth.ActionCreate, a.handleGrant))
	a.mux.HandleFunc("DELETE /v1/permissions", a.permitted(auth.ResourcePermissions, auth.ActionDelete, a.handleRevoke))
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withSession(a.mux)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(a.origins)(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		l := obs.Logger()
		l.Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	b := obs.BuildInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       b.Service,
		"version":    a.version,
		"commit":     b.Commit,
		"go_version": b.GoVersion,
		"started_at": b.StartedAt.Format(time.RFC3339),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

// record writes an audit entry. Failures are logged; the operation has
// already been committed.
func (a *API) record(ctx context.Context, event string, target audit.Target, meta map[string]string) {
	if err := a.auditor.Record(ctx, event, target, meta); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("event", event).Msg("audit write failed")
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
