// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished pipeline runs by round and outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagesmith",
		Name:      "pipeline_runs_total",
		Help:      "Finished pipeline runs by round and outcome.",
	}, []string{"round", "outcome"})

	// StepDuration observes each pipeline step.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagesmith",
		Name:      "pipeline_step_duration_seconds",
		Help:      "Duration of pipeline steps.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"step", "result"})

	// StepFailures counts aborted pipelines by failing step and failure kind.
	StepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagesmith",
		Name:      "pipeline_step_failures_total",
		Help:      "Pipeline aborts by step and failure kind.",
	}, []string{"step", "kind"})

	// NotifyAttempts counts evaluator POST attempts by result.
	NotifyAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagesmith",
		Name:      "notify_attempts_total",
		Help:      "Evaluator notification attempts by result.",
	}, []string{"result"})

	// InFlight is the number of pipelines currently running.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pagesmith",
		Name:      "pipelines_in_flight",
		Help:      "Pipelines currently running.",
	})

	// RequestsTotal counts inbound task requests by response code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagesmith",
		Name:      "task_requests_total",
		Help:      "Inbound task requests by HTTP status.",
	}, []string{"code"})
)
