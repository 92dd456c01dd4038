package krylov

import (
	"github.com/prometheus/client_golang/prometheus"
)

var Iterations = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "gostokes",
	Subsystem: "krylov",
	Name:      "iterations",
	Buckets:   prometheus.LinearBuckets(0, 10, 16),
})

var SolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "gostokes",
	Subsystem: "krylov",
	Name:      "solve_seconds",
	Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
})

var NonConvergences = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gostokes",
	Subsystem: "krylov",
	Name:      "nonconvergences",
})

var DeflationFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gostokes",
	Subsystem: "krylov",
	Name:      "deflation_fallbacks",
})

var DeflationRank = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "gostokes",
	Subsystem: "krylov",
	Name:      "deflation_rank",
})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{Iterations, SolveDuration, NonConvergences, DeflationFallbacks, DeflationRank}
}
