// Package metrics exposes Prometheus instrumentation for system-table
// store operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metabak_store_ops_total",
		Help: "Total system-table store operations by name.",
	}, []string{"op"})

	storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metabak_store_op_duration_seconds",
		Help:    "Latency of system-table store operations by name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// ObserveOp records one completed operation. Meant to be deferred at the top
// of an accessor: the start time is captured when the defer is evaluated.
func ObserveOp(op string, start time.Time) {
	storeOps.WithLabelValues(op).Inc()
	storeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
