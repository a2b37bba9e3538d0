// Package metrics exposes run-level counters for attack experiments and
// writes them as a Prometheus textfile next to the CSV results.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Model roles
const (
	RoleTarget = "target"
	RoleShadow = "shadow"
	RoleAttack = "attack"
)

// Registry holds the metrics of one process. All methods are safe on a nil
// receiver so components can run without metrics.
type Registry struct {
	registry *prometheus.Registry

	ModelsTrained    *prometheus.CounterVec
	TrainingDuration *prometheus.HistogramVec
	NodeQueries      prometheus.Counter
	Repetitions      *prometheus.CounterVec
	AttackAUROC      *prometheus.GaugeVec
}

// NewRegistry creates a registry with every metric registered.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.ModelsTrained = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "mia_models_trained_total",
			Help: "Total number of trained models",
		},
		[]string{"role"}, // target, shadow, attack
	)

	r.TrainingDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mia_training_duration_seconds",
			Help:    "Duration of a single model training run in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"role"},
	)

	r.NodeQueries = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "mia_node_queries_total",
			Help: "Total number of nodes answered by model queries",
		},
	)

	r.Repetitions = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "mia_repetitions_total",
			Help: "Total number of completed experiment repetitions",
		},
		[]string{"experiment", "attack"},
	)

	r.AttackAUROC = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mia_attack_auroc",
			Help: "AUROC of the most recent repetition",
		},
		[]string{"experiment", "attack"},
	)

	return r
}

// ObserveTraining records a finished training run for a model role.
func (r *Registry) ObserveTraining(role string, d time.Duration) {
	if r == nil {
		return
	}
	r.ModelsTrained.WithLabelValues(role).Inc()
	r.TrainingDuration.WithLabelValues(role).Observe(d.Seconds())
}

// ObserveQueries records answered node queries.
func (r *Registry) ObserveQueries(n int) {
	if r == nil {
		return
	}
	r.NodeQueries.Add(float64(n))
}

// ObserveRepetition records a completed repetition and its AUROC.
func (r *Registry) ObserveRepetition(experiment, attack string, auroc float64) {
	if r == nil {
		return
	}
	r.Repetitions.WithLabelValues(experiment, attack).Inc()
	r.AttackAUROC.WithLabelValues(experiment, attack).Set(auroc)
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes every metric in the Prometheus text format.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
