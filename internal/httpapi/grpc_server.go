package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sitesafe.app/internal/obs"
)

// HealthReporter serves grpc.health.v1 with a status that follows the
// readiness probe used by /readyz.
type HealthReporter struct {
	ready  ReadyChecker
	health *health.Server
}

// NewHealthReporter starts in NOT_SERVING until the first probe succeeds.
func NewHealthReporter(ready ReadyChecker) *HealthReporter {
	if ready == nil {
		ready = ReadyProbe{}
	}
	h := &HealthReporter{ready: ready, health: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to srv.
func (h *HealthReporter) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.health)
}

// Probe runs the readiness check once and publishes the result.
func (h *HealthReporter) Probe(ctx context.Context) error {
	err := h.ready.Check(ctx)
	obs.SetReady(err == nil)
	if err != nil {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run probes every interval until ctx is done, then marks the service as
// shutting down.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := h.Probe(pctx); err != nil {
			l := obs.Logger()
			l.Warn().Err(err).Msg("grpc health probe failed")
		}
	}
	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			probe()
		}
	}
}

func (h *HealthReporter) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(obs.ServiceName, st)
}
