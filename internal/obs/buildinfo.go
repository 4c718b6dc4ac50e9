package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ems_build_info",
			Help: "EMS build information; constant 1 labelled by service, version and commit.",
		},
		[]string{"service", "version", "commit"},
	)
)

// InitBuildInfo registers ems_build_info once and sets it for service.
func InitBuildInfo(service, version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(service, version, commit).Set(1)
}
