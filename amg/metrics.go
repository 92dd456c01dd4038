package amg

import (
	"github.com/prometheus/client_golang/prometheus"
)

var BuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "gostokes",
	Subsystem: "amg",
	Name:      "build_seconds",
	Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
}, []string{"block"})

var BuildFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gostokes",
	Subsystem: "amg",
	Name:      "build_failures",
}, []string{"block"})

var HierarchyLevels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "gostokes",
	Subsystem: "amg",
	Name:      "hierarchy_levels",
}, []string{"block"})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{BuildDuration, BuildFailures, HierarchyLevels}
}
