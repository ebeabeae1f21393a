// Package metrics defines the Prometheus instruments for the research
// orchestrator. All collectors are registered at init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle

	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_sessions_started_total",
			Help: "Total number of research sessions started",
		},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_sessions_finished_total",
			Help: "Total number of research sessions reaching a terminal state",
		},
		[]string{"state"}, // completed, failed, cancelled
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_session_duration_seconds",
			Help:    "End-to-end session duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"state"},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_session_cache_size",
			Help: "Number of session records held in the local cache",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_session_cache_hits_total",
			Help: "Session reads served from the local cache",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_session_cache_misses_total",
			Help: "Session reads that went to Redis",
		},
	)

	// Research phase

	WorkersLaunched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_workers_launched_total",
			Help: "Total number of research workers fanned out",
		},
	)

	WorkerResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_worker_results_total",
			Help: "Worker results by role and terminal status",
		},
		[]string{"role", "status"},
	)

	WorkerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_worker_duration_seconds",
			Help:    "Worker execution duration",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"role"},
	)

	// Quality pipeline

	PipelineStages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_pipeline_stages_total",
			Help: "Pipeline stage executions by stage and outcome",
		},
		[]string{"stage", "outcome"}, // outcome: ok, redo, failed
	)

	ReflectionRedos = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_reflection_redos_total",
			Help: "Report redos triggered by the reflection critic",
		},
	)

	// Capability adapters

	CapabilityCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_capability_calls_total",
			Help: "Outbound capability calls by capability and outcome",
		},
		[]string{"capability", "outcome"}, // outcome: ok, timeout, error
	)

	// Memory store

	MemoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_memory_operations_total",
			Help: "Memory store operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	MemoryNamespacesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_memory_namespaces_deleted_total",
			Help: "Session namespaces deleted at teardown",
		},
	)

	// Reports

	ReportsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_reports_persisted_total",
			Help: "Completed reports written to the database",
		},
	)
)
