// Package metrics provides Prometheus metrics for the storage layer and the
// memory engine. All collectors are registered on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "convostore"
)

// LatencyBuckets defines histogram buckets for database and provider calls (in seconds).
var LatencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
}

// =============================================================================
// Store Metrics
// =============================================================================

var (
	// StoreOperations counts operations against persisted tables.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"table", "operation", "status"},
	)

	// StoreLatency tracks store operation latency.
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_latency_seconds",
			Help:      "Store operation latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"table", "operation"},
	)

	// ClearTableFailures counts documents that could not be removed by a
	// best-effort clear.
	ClearTableFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clear_table_failures_total",
			Help:      "Documents that failed to delete during ClearTable",
		},
		[]string{"table"},
	)

	// DBConnectionPoolSize tracks driver connection pool state.
	DBConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_pool",
			Help:      "Database connection pool connections by state",
		},
		[]string{"state"},
	)
)

// =============================================================================
// Memory Engine Metrics
// =============================================================================

var (
	// EmbeddingCacheLookups counts embedding cache lookups by result (hit/miss).
	EmbeddingCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by result",
		},
		[]string{"tier", "result"},
	)

	// EmbeddingRequests counts calls to the embedding provider.
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider calls",
		},
		[]string{"model", "status"},
	)

	// EmbeddingLatency tracks embedding provider latency.
	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_latency_seconds",
			Help:      "Embedding provider latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"model"},
	)

	// WorkingMemoryUpdates counts working memory updates by scope and outcome
	// (replaced, appended, created, skipped, failed).
	WorkingMemoryUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "working_memory_updates_total",
			Help:      "Working memory updates by outcome",
		},
		[]string{"scope", "outcome"},
	)

	// MutexWaitSeconds tracks time spent waiting for a per-key mutex.
	MutexWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutex_wait_seconds",
			Help:      "Time spent waiting for a working memory lock",
			Buckets:   LatencyBuckets,
		},
		[]string{"scope"},
	)

	// RecallHits counts messages contributed by vector search to recall.
	RecallHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recall_vector_hits_total",
			Help:      "Vector search hits used to expand recalled message windows",
		},
	)

	// CircuitBreakerState exposes breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per guarded dependency",
		},
		[]string{"name"},
	)

	// IndexingFailures counts background message indexing failures.
	IndexingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexing_failures_total",
			Help:      "Background semantic indexing failures",
		},
	)

	// DependencyUp reports the last probe result per dependency (1 healthy, 0 failing).
	DependencyUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_up",
			Help:      "Last health probe result per dependency",
		},
		[]string{"dependency"},
	)
)
