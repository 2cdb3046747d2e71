package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ceolin", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ceolin", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	DocumentReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ceolin", Subsystem: "document", Name: "reads_total", Help: "Document reads by result (ok, default, error)."},
		[]string{"result"},
	)
	DocumentWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ceolin", Subsystem: "document", Name: "writes_total", Help: "Document writes by result (ok, conflict, invalid, error)."},
		[]string{"result"},
	)
	StoreLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "ceolin", Subsystem: "document", Name: "store_latency_seconds", Help: "Latency of backing store round trips.", Buckets: prometheus.DefBuckets},
		[]string{"store", "op"},
	)
	SnapshotFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "ceolin", Subsystem: "document", Name: "snapshot_failures_total", Help: "Snapshots that could not be archived after a successful write."},
	)
)

var registerOnce sync.Once

// RegisterCollectors registers every collector once; later calls are no-ops.
func RegisterCollectors(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(RateLimitAllowed, RateLimitRejected, DocumentReads, DocumentWrites, StoreLatency, SnapshotFailures)
	})
}
