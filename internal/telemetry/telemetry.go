// Package telemetry exposes the engine's prometheus metrics. Metrics are
// package-level and registered once on the default registry; the server
// serves them on /metrics via promhttp.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viralforge",
		Name:      "steps_total",
		Help:      "Step executions by phase, step and outcome.",
	}, []string{"phase", "step", "status"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "viralforge",
		Name:      "step_duration_seconds",
		Help:      "Generation latency per step.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"phase", "step"})

	tokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "viralforge",
		Name:      "tokens_total",
		Help:      "Cumulative tokens consumed across all sessions.",
	})

	costTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "viralforge",
		Name:      "cost_dollars_total",
		Help:      "Cumulative estimated spend in dollars.",
	})

	staleRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "viralforge",
		Name:      "stale_recoveries_total",
		Help:      "Sessions reset to pending by staleness recovery.",
	})
)

// StepExecuted records one step attempt and its outcome.
func StepExecuted(phase, step, status string) {
	stepsTotal.WithLabelValues(phase, step, status).Inc()
}

// StepLatency records the generation latency of one step.
func StepLatency(phase, step string, d time.Duration) {
	stepDuration.WithLabelValues(phase, step).Observe(d.Seconds())
}

// UsageAdded accumulates token and cost counters.
func UsageAdded(tokens int64, cost float64) {
	tokensTotal.Add(float64(tokens))
	costTotal.Add(cost)
}

// StaleRecovered counts one staleness reset.
func StaleRecovered() {
	staleRecoveries.Inc()
}
