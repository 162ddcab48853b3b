// Package metrics exposes prometheus metrics for DP-SVI training runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TrainingMetrics collects per-run training metrics on a dedicated registry
// so that concurrent runs in one process do not collide.
type TrainingMetrics struct {
	registry *prometheus.Registry

	stepsTotal   prometheus.Counter
	batchLoss    prometheus.Gauge
	epsilonSpent prometheus.Gauge
	paramNorm    prometheus.Histogram
}

// NewTrainingMetrics creates the metric set, labelled with the run ID.
func NewTrainingMetrics(runID string) *TrainingMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"run_id": runID}

	m := &TrainingMetrics{
		registry: registry,
		stepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "dpsvi_steps_total",
			Help:        "Number of completed training steps.",
			ConstLabels: constLabels,
		}),
		batchLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dpsvi_batch_loss",
			Help:        "Batch loss of the most recent training step.",
			ConstLabels: constLabels,
		}),
		epsilonSpent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dpsvi_epsilon_spent",
			Help:        "Privacy epsilon accumulated over the steps taken so far.",
			ConstLabels: constLabels,
		}),
		paramNorm: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "dpsvi_parameter_norm",
			Help:        "Norm of the parameter vector after each training step.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 12),
		}),
	}

	registry.MustRegister(m.stepsTotal, m.batchLoss, m.epsilonSpent, m.paramNorm)
	return m
}

// ObserveStep records the outcome of one training step.
func (m *TrainingMetrics) ObserveStep(loss, paramNorm float64) {
	m.stepsTotal.Inc()
	m.batchLoss.Set(loss)
	m.paramNorm.Observe(paramNorm)
}

// SetEpsilonSpent records the accumulated privacy spend.
func (m *TrainingMetrics) SetEpsilonSpent(epsilon float64) {
	m.epsilonSpent.Set(epsilon)
}

// Handler serves the run's metrics in prometheus exposition format.
func (m *TrainingMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
