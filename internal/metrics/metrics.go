// Package metrics exposes prometheus collectors for the queueing core and a
// storage hook for the pebble backend.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_messages_posted_total",
			Help: "Messages accepted by post, per queue",
		},
		[]string{"queue"},
	)

	MessagesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_messages_claimed_total",
			Help: "Messages handed out by claim create, per queue",
		},
		[]string{"queue"},
	)

	MessagesPopped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_messages_popped_total",
			Help: "Messages atomically popped, per queue",
		},
		[]string{"queue"},
	)

	PostConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_post_conflict_retries_total",
			Help: "Marker conflicts that forced a post retry",
		},
	)

	GCDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_gc_deleted_total",
			Help: "Expired messages removed by the garbage collector",
		},
	)

	GCSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quill_gc_sweep_duration_seconds",
			Help:    "Time taken for one full garbage collection sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	GCErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_gc_errors_total",
			Help: "Queue sweeps that failed and were skipped",
		},
	)

	storageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_storage_op_duration_seconds",
			Help:    "Latency of low-level storage operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	storageOpBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_storage_op_bytes_total",
			Help: "Bytes moved by low-level storage operations",
		},
		[]string{"op"},
	)
)

// StorageHook adapts the collectors to the pebble backend's MetricsHook.
type StorageHook struct{}

func (StorageHook) ObserveWrite(elapsed time.Duration, bytes int) {
	storageOpDuration.WithLabelValues("write").Observe(elapsed.Seconds())
	storageOpBytes.WithLabelValues("write").Add(float64(bytes))
}

func (StorageHook) ObserveRead(elapsed time.Duration, bytes int) {
	storageOpDuration.WithLabelValues("read").Observe(elapsed.Seconds())
	storageOpBytes.WithLabelValues("read").Add(float64(bytes))
}

func (StorageHook) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	storageOpDuration.WithLabelValues("batch_commit").Observe(elapsed.Seconds())
	storageOpBytes.WithLabelValues("batch_commit").Add(float64(bytes))
}
