package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WorkerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_events_total",
			Help: "Total number of stream entries handled by the worker (count)",
		},
		[]string{"platform", "status"}, // status: received, processed, ignored, failed
	)

	WorkerProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_processing_duration_ms",
			Help:    "Per-entry processing duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"platform", "status"},
	)

	DeadLetterEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_entries_total",
			Help: "Total number of entries written to the dead-letter stream (count)",
		},
		[]string{"platform", "reason"},
	)

	ScoringRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoring_requests_total",
			Help: "Total number of composite scoring requests (count)",
		},
		[]string{"status"},
	)

	ScoringDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoring_duration_ms",
			Help:    "Composite scoring duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"status"},
	)

	ScorerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorer_calls_total",
			Help: "Total number of upstream scorer calls (count)",
		},
		[]string{"component", "status"}, // component: sentiment, value, uniqueness
	)

	ValueScoreRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "value_score_repairs_total",
			Help: "Total number of value-score repair outcomes (count)",
		},
		[]string{"outcome"}, // extracted, retried, defaulted
	)

	UniquenessIndexSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "uniqueness_index_size",
			Help: "Number of embeddings held per uniqueness scope (count)",
		},
		[]string{"scope"},
	)

	EmbeddingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedding_duration_ms",
			Help:    "Embedding call duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	ScoredEventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scored_events_emitted_total",
			Help: "Total number of scored events emitted downstream (count)",
		},
		[]string{"emitter", "status"},
	)

	DLQRequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_requeued_total",
			Help: "Total number of dead-letter entries requeued (count)",
		},
		[]string{"status"},
	)

	IgnoreRuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ignore_rule_matches_total",
			Help: "Total number of envelopes skipped by ignore rules (count)",
		},
		[]string{"platform"},
	)

	AuditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Total number of raw envelope audit writes (count)",
		},
		[]string{"status"}, // inserted, duplicate, error
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

func RegisterWorkerMetrics() {
	prometheus.MustRegister(WorkerEventsTotal)
	prometheus.MustRegister(WorkerProcessingDuration)
	prometheus.MustRegister(DeadLetterEntriesTotal)
	prometheus.MustRegister(IgnoreRuleMatchesTotal)
	prometheus.MustRegister(AuditWritesTotal)
}

func RegisterScoringMetrics() {
	prometheus.MustRegister(ScoringRequestsTotal)
	prometheus.MustRegister(ScoringDuration)
	prometheus.MustRegister(ScorerCallsTotal)
	prometheus.MustRegister(ValueScoreRepairsTotal)
}

func RegisterUniquenessMetrics() {
	prometheus.MustRegister(UniquenessIndexSize)
	prometheus.MustRegister(EmbeddingDuration)
}

func RegisterEmitterMetrics() {
	prometheus.MustRegister(ScoredEventsEmittedTotal)
}

func RegisterDLQMetrics() {
	prometheus.MustRegister(DLQRequeuedTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterDatabaseMetrics() {
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func ObserveWorkerDuration(platform, status string, duration time.Duration) {
	WorkerProcessingDuration.WithLabelValues(platform, status).Observe(float64(duration.Milliseconds()))
}

func ObserveScoringDuration(status string, duration time.Duration) {
	ScoringDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveEmbeddingDuration(status string, duration time.Duration) {
	EmbeddingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}

func SetUniquenessIndexSize(scope string, size int) {
	UniquenessIndexSize.WithLabelValues(scope).Set(float64(size))
}
