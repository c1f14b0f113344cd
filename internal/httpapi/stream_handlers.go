package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sitesafe.app/internal/auth"
)

const streamKeepAlive = 15 * time.Second

// handleAuditStream pushes audit entries as server-sent events until the
// client disconnects or CloseStreams runs. tenant_id narrows the feed to one
// tenant.
func (a *API) handleAuditStream(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(a.streams, cancel)
	defer stop()

	entries := a.hub.Subscribe(ctx, r.URL.Query().Get("tenant_id"))
	rc := http.NewResponseController(w)
	// The server timeouts would otherwise cut long-lived feeds.
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("audit stream: flush unsupported")
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("audit stream: encode")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: audit\ndata: %s\n\n", e.ID, data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
