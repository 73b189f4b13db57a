package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "milestone_submission_latency_ms",
			Help:    "Milestone update submission latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"status"},
	)

	UpdateResolvedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_update_resolved_count",
			Help: "Total number of resolved milestone updates",
		},
		[]string{"status"}, // status: success, error
	)

	RetryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_update_retry_count",
			Help: "Total number of milestone update retries",
		},
		[]string{"error_type"},
	)

	ConflictCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "milestone_conflict_count",
			Help: "Total number of raised milestone conflicts",
		},
	)

	BatchFlushCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_flush_count",
			Help: "Total number of batch window flushes",
		},
		[]string{"reason"}, // reason: debounce, max_wait, max_size, forced
	)

	BulkChunkCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_chunk_count",
			Help: "Total number of submitted bulk chunks",
		},
		[]string{"status"}, // status: success, failed
	)

	OfflineQueuedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_queued_count",
			Help: "Total number of intents parked in the offline queue",
		},
	)

	OfflineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_queue_depth",
			Help: "Number of intents currently persisted in the offline and retry queues",
		},
	)

	SnapshotIngestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_ingest_count",
			Help: "Total number of pushed milestone snapshots processed",
		},
		[]string{"outcome"}, // outcome: applied, duplicate, invalid
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slow_query_count",
			Help: "Total number of mirror queries exceeding the slow threshold",
		},
	)
)

// ObserveSubmission records one network submission round trip.
func ObserveSubmission(d time.Duration, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	SubmissionLatency.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

// IncUpdateResolved counts a terminally resolved update.
func IncUpdateResolved(status string) {
	UpdateResolvedCount.WithLabelValues(status).Inc()
}

// IncRetry counts one scheduled retry.
func IncRetry(errorType string) {
	RetryCount.WithLabelValues(errorType).Inc()
}

// IncConflict counts one raised conflict.
func IncConflict() {
	ConflictCount.Inc()
}

// IncBatchFlush counts one batch window flush.
func IncBatchFlush(reason string) {
	BatchFlushCount.WithLabelValues(reason).Inc()
}

// IncBulkChunk counts one submitted bulk chunk.
func IncBulkChunk(status string) {
	BulkChunkCount.WithLabelValues(status).Inc()
}

// IncOfflineQueued counts one intent parked offline.
func IncOfflineQueued() {
	OfflineQueuedCount.Inc()
}

// SetOfflineDepth records the current persisted queue depth.
func SetOfflineDepth(n int64) {
	OfflineQueueDepth.Set(float64(n))
}

// IncSnapshotIngest counts one pushed snapshot by outcome.
func IncSnapshotIngest(outcome string) {
	SnapshotIngestCount.WithLabelValues(outcome).Inc()
}

// IncSlowQuery counts one slow mirror query.
func IncSlowQuery() {
	SlowQueryCount.Inc()
}
