package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SuggestionsTotal tracks suggested trials per designer
	SuggestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pruner_suggestions_total",
			Help: "Total number of trial suggestions served",
		},
		[]string{"designer"},
	)

	// EvaluationsTotal tracks stopping-policy runs per policy
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pruner_evaluations_total",
			Help: "Total number of stopping policy evaluations",
		},
		[]string{"policy"},
	)

	// StopDecisionsTotal tracks decisions per policy and verdict
	StopDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pruner_stop_decisions_total",
			Help: "Total number of stop decisions returned",
		},
		[]string{"policy", "verdict"},
	)

	// RecycledDecisionsTotal tracks decision batches served from a cache
	// instead of a policy run
	RecycledDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pruner_recycled_decisions_total",
			Help: "Total number of decision batches recycled",
		},
		[]string{"source"},
	)

	// PolicyLatency tracks policy evaluation latency
	PolicyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pruner_policy_latency_seconds",
			Help:    "Policy evaluation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "policy"},
	)

	// TrialsCompletedTotal tracks terminal trial transitions
	TrialsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pruner_trials_completed_total",
			Help: "Total number of trials reaching a terminal state",
		},
		[]string{"state"},
	)

	// OperationsExpiredTotal tracks stop operations dropped after their
	// recycle window closed
	OperationsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pruner_operations_expired_total",
			Help: "Total number of expired stop operations removed",
		},
	)

	// TrialsSweptTotal tracks stopping trials swept back to active after
	// their client never acknowledged the stop
	TrialsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pruner_trials_swept_total",
			Help: "Total number of stale stopping trials reverted to active",
		},
	)

	// RemoteCallsTotal tracks calls to remote policy servers
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pruner_remote_calls_total",
			Help: "Total number of remote policy calls",
		},
		[]string{"endpoint", "result"},
	)

	// RemoteLatency tracks remote policy call latency
	RemoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pruner_remote_latency_seconds",
			Help:    "Remote policy call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// DBConnectionPoolUsage tracks database pool saturation
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pruner_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
