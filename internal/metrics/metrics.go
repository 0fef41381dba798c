// Package metrics declares the Prometheus instruments exported by the
// planner, step executor, and pipeline driver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipelake_build_info",
			Help: "Build information of pipelake",
		},
		[]string{"version", "commit", "date"},
	)

	BatchesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelake_batches_processed_total",
			Help: "Total number of step batches processed",
		},
		[]string{"step", "status"},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipelake_batch_duration_seconds",
			Help:    "Duration of a single step batch",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"step"},
	)

	PlannerCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelake_planner_candidates_total",
			Help: "Total number of stale transform-key candidates emitted by the planner",
		},
		[]string{"step"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelake_runs_total",
			Help: "Total number of driver runs",
		},
		[]string{"mode", "status"},
	)

	ChangeListIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipelake_changelist_iterations",
			Help:    "Number of fixed-point iterations RunStepsChangeList took per run",
			Buckets: prometheus.LinearBuckets(1, 1, 20),
		},
	)
)
