// Package metrics provides Prometheus metrics for the orchestrator service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts generation jobs by final status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comfystudio",
			Subsystem: "orchestrator",
			Name:      "jobs_total",
			Help:      "Total number of generation jobs by final status",
		},
		[]string{"status"}, // "completed", "error"
	)

	// JobsActive tracks currently running generation jobs.
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "comfystudio",
			Subsystem: "orchestrator",
			Name:      "jobs_active",
			Help:      "Number of currently running generation jobs",
		},
	)

	// JobDuration tracks end-to-end job duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "comfystudio",
			Subsystem: "orchestrator",
			Name:      "job_duration_seconds",
			Help:      "Generation job duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	// TrackOutcomes counts progress-tracking outcomes.
	TrackOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comfystudio",
			Subsystem: "orchestrator",
			Name:      "track_outcomes_total",
			Help:      "Total number of websocket tracking outcomes",
		},
		[]string{"outcome"}, // "completed", "timed_out", "connection_error"
	)

	// ProgressEventsTotal counts push events consumed from the engine.
	ProgressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comfystudio",
			Subsystem: "orchestrator",
			Name:      "progress_events_total",
			Help:      "Total number of push events consumed",
		},
		[]string{"type"},
	)

	// ArtifactBytes tracks artifact sizes fetched from the engine.
	ArtifactBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "comfystudio",
			Subsystem: "orchestrator",
			Name:      "artifact_bytes",
			Help:      "Size of fetched artifacts in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comfystudio",
			Subsystem: "orchestrator",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "comfystudio",
			Subsystem: "orchestrator",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SSEConnectionsActive tracks open job event streams.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "comfystudio",
			Subsystem: "orchestrator",
			Name:      "sse_connections_active",
			Help:      "Number of active SSE connections",
		},
	)
)
