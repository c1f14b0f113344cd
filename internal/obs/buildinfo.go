package obs

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ServiceName labels logs, health responses and build info.
const ServiceName = "sitesafe-api"

// Build describes the running binary.
type Build struct {
	Service   string    `json:"name"`
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	GoVersion string    `json:"go_version"`
	StartedAt time.Time `json:"started_at"`
}

var (
	buildMu   sync.RWMutex
	buildOnce sync.Once
	current   = Build{Service: ServiceName, Version: "dev", GoVersion: runtime.Version(), StartedAt: time.Now().UTC()}

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "SiteSafe API build information.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo records the version and commit and sets
// build_info{version,commit,go_version} 1.
func InitBuildInfo(version, commit string) {
	buildOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildMu.Lock()
	current.Version, current.Commit = version, commit
	buildMu.Unlock()
	buildInfo.WithLabelValues(version, commit, current.GoVersion).Set(1)
}

// BuildInfo returns what InitBuildInfo recorded.
func BuildInfo() Build {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return current
}
