package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitesafe.app/internal/ids"
)

// HTTP metrics shared by every route.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization guard outcomes.",
		},
		[]string{"guard", "decision"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	tenantRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_registrations_total",
			Help: "Tenant self-registrations by outcome.",
		},
		[]string{"outcome"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when dependencies answered the last readiness check.",
	})

	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audit_stream_subscribers",
		Help: "Live audit stream subscriptions.",
	})

	streamDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_stream_dropped_total",
		Help: "Audit entries dropped for slow stream subscribers.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, loginAttempts, tenantRegistrations, readyGauge,
			streamSubscribers, streamDropped,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthz counts one guard decision.
func ObserveAuthz(guard, decision string) {
	authzDecisions.WithLabelValues(guard, decision).Inc()
}

func ObserveLogin(outcome string) {
	loginAttempts.WithLabelValues(outcome).Inc()
}

func ObserveRegistration(outcome string) {
	tenantRegistrations.WithLabelValues(outcome).Inc()
}

func SetStreamSubscribers(n int) {
	streamSubscribers.Set(float64(n))
}

func ObserveStreamDrop() {
	streamDropped.Inc()
}

// SetReady mirrors the latest readiness result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath replaces entity ids in a path with ":id" to bound label
// cardinality. Query strings are dropped.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if ids.ValidEntity(s) || ids.ValidULID(s) {
			segs[i] = ":id"
		}
	}
	return strings.Join(segs, "/")
}

// statusWriter captures the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
