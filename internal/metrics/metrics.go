// Package metrics defines the Prometheus instrumentation for the upload
// engine and HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedepot_uploads_initiated_total",
		Help: "Chunked upload sessions created.",
	})

	ChunksAcknowledged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedepot_chunks_acknowledged_total",
		Help: "Chunk receipts recorded, including idempotent re-acknowledgements.",
	})

	UploadsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedepot_uploads_completed_total",
		Help: "Uploads finalized to COMPLETED, chunked and single-shot.",
	})

	UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedepot_uploads_failed_total",
		Help: "Uploads moved to FAILED after a compose error.",
	})

	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedepot_dedup_hits_total",
		Help: "Uploads short-circuited to an existing completed file.",
	})

	FilesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedepot_files_deleted_total",
		Help: "Files deleted through the API.",
	})

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedepot_sweep_runs_total",
		Help: "Cleanup sweeper executions.",
	})

	SessionsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedepot_sessions_reclaimed_total",
		Help: "Expired upload sessions reclaimed by the sweeper.",
	})

	ComposeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "filedepot_compose_duration_seconds",
		Help:    "Blob-store compose latency during finalize.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filedepot_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route, and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
