package httpapi

import (
	"net/http"
	"time"
)

// Server wraps the API handler with the service timeouts. Shutdown ends open
// audit streams, which would otherwise hold it until its deadline.
func (a *API) Server(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(a.CloseStreams)
	return srv
}

// CloseStreams ends every open audit stream. Other requests are unaffected.
func (a *API) CloseStreams() { a.closeStreams() }
