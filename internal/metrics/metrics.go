// Package metrics provides Prometheus metrics for the training and ensemble
// evaluation pipeline, exposed on the metrics endpoint when a port is
// configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	// Training metrics
	TrainRuns        prometheus.Counter   // Completed training runs
	TrainDuration    prometheus.Histogram // Wall-clock training duration in seconds
	TrainAccuracy    prometheus.Histogram // Final training accuracy per run
	BagSize          prometheus.Gauge     // Bag size of the most recent run
	EpochLoss        prometheus.Gauge     // Loss of the most recent epoch
	EpochAccuracy    prometheus.Gauge     // Accuracy of the most recent epoch

	// Ensemble evaluation metrics
	Predictions        prometheus.Counter // Total per-sample predictions computed
	PredictionFailures prometheus.Counter // Member prediction failures
	MembersEvaluated   prometheus.Gauge   // Members in the last aggregation
	EnsembleAccuracy   prometheus.Gauge   // Accuracy of the last aggregation
	MemberAccuracy     prometheus.Histogram // Per-member solo accuracy distribution
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry, which keeps test
// runs from colliding on the global one.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		TrainRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "train_runs_total",
			Help: "Total number of completed training runs",
		}),
		TrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "train_duration_seconds",
			Help:    "Wall-clock duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		TrainAccuracy: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "train_accuracy",
			Help:    "Final training accuracy per run",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
		}),
		BagSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bag_size",
			Help: "Bootstrap bag size of the most recent training run",
		}),
		EpochLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "epoch_loss",
			Help: "Training loss of the most recent epoch",
		}),
		EpochAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "epoch_accuracy",
			Help: "Training accuracy of the most recent epoch",
		}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of per-sample predictions computed",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of member prediction failures",
		}),
		MembersEvaluated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "members_evaluated",
			Help: "Number of ensemble members in the last aggregation",
		}),
		EnsembleAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ensemble_accuracy",
			Help: "Consensus accuracy of the last ensemble aggregation",
		}),
		MemberAccuracy: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "member_accuracy",
			Help:    "Solo accuracy distribution across ensemble members",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
		}),
	}
}
