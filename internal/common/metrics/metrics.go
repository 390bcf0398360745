package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_step_transitions_total",
			Help: "Total number of wizard step transitions",
		},
		[]string{"from", "to"},
	)

	OperationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_operations_rejected_total",
			Help: "Total number of flow operations rejected, by error code",
		},
		[]string{"operation", "error_code"},
	)

	CollaboratorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_collaborator_calls_total",
			Help: "Total number of collaborator calls by outcome",
		},
		[]string{"collaborator", "outcome"},
	)

	CollaboratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eligibility_collaborator_duration_seconds",
			Help:    "Duration of collaborator calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator"},
	)

	OffersEvaluated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eligibility_offers_per_evaluation",
			Help:    "Number of lender quotes seen per evaluation",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eligibility_active_sessions",
			Help: "Number of live wizard sessions held by the API",
		},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
