// Package metrics exposes Prometheus metrics for engine activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bytesCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileops_bytes_copied_total",
			Help: "Total bytes copied by the executor",
		},
	)

	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileops_steps_total",
			Help: "Total steps executed, by kind and result",
		},
		[]string{"kind", "result"},
	)

	plansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileops_plans_total",
			Help: "Total plans finished, by terminal state",
		},
		[]string{"state"},
	)

	plansInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileops_plans_in_flight",
			Help: "Plans currently executing",
		},
	)
)

// AddBytesCopied records bytes written by copy steps.
func AddBytesCopied(n int64) {
	if n > 0 {
		bytesCopied.Add(float64(n))
	}
}

// StepFinished records one step outcome.
func StepFinished(kind, result string) {
	stepsTotal.WithLabelValues(kind, result).Inc()
}

// PlanStarted marks a plan entering execution.
func PlanStarted() {
	plansInFlight.Inc()
}

// PlanFinished marks a plan leaving execution with its terminal state.
func PlanFinished(state string) {
	plansInFlight.Dec()
	plansTotal.WithLabelValues(state).Inc()
}
