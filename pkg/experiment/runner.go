// Package experiment repeats an attack over randomised target/shadow splits
// and aggregates the resulting metrics.
package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/graph-mia/pkg/attack"
	"github.com/gilchrisn/graph-mia/pkg/config"
	"github.com/gilchrisn/graph-mia/pkg/dataset"
	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/metrics"
	"github.com/gilchrisn/graph-mia/pkg/nn"
	"github.com/gilchrisn/graph-mia/pkg/report"
	"github.com/gilchrisn/graph-mia/pkg/scoring"
	"github.com/gilchrisn/graph-mia/pkg/trainer"
)

// SplitFraction is the share of the dataset given to the target graph and to
// the shadow graph.
const SplitFraction = 0.5

// Option configures a Runner.
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	metrics *metrics.Registry
	tracker *report.Tracker
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(r *metrics.Registry) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// WithTracker logs every finished repetition to t.
func WithTracker(t *report.Tracker) Option {
	return func(o *options) {
		o.tracker = t
	}
}

// Runner runs one configured experiment on a dataset graph.
type Runner struct {
	cfg  config.Experiment
	data *graph.Graph
	o    options
}

// NewRunner creates a runner for cfg on data.
func NewRunner(cfg config.Experiment, data *graph.Graph, opts ...Option) *Runner {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Runner{cfg: cfg, data: data, o: o}
}

// Summary is the aggregated outcome of an experiment.
type Summary struct {
	Name           string
	Attack         attack.Kind
	Stats          []report.Stat
	BestRepetition int
	BestROC        scoring.Curve
	Repetitions    []*attack.Metrics
}

// Record returns the statistics.csv row of the summary.
func (s *Summary) Record() report.Record {
	return report.Record{Name: s.Name, Stats: s.Stats}
}

// ROC returns the best ROC curve under the experiment name.
func (s *Summary) ROC() report.ROC {
	return report.ROC{Name: s.Name, Curve: s.BestROC}
}

// Run executes every repetition in order. Any failure aborts the experiment
// without partial aggregation.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if r.cfg.Experiments < 1 {
		return nil, errs.Configf("experiments must be >= 1, got %d", r.cfg.Experiments)
	}
	logger := r.o.logger.With().Str("experiment", r.cfg.Name).Str("attack", r.cfg.Attack).Logger()
	logger.Info().Int("repetitions", r.cfg.Experiments).Msg("Starting experiment")

	start := time.Now()
	reps := make([]*attack.Metrics, 0, r.cfg.Experiments)
	for rep := 0; rep < r.cfg.Experiments; rep++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		repStart := time.Now()
		m, err := r.runRepetition(ctx, rep, logger)
		if err != nil {
			return nil, fmt.Errorf("experiment %s repetition %d: %w", r.cfg.Name, rep, err)
		}
		elapsed := time.Since(repStart)

		r.o.metrics.ObserveRepetition(r.cfg.Name, r.cfg.Attack, m.AUROC)
		if err := r.o.tracker.LogRepetition(r.cfg.Name, r.cfg.Attack, rep, m.Values(), elapsed); err != nil {
			return nil, fmt.Errorf("track repetition %d: %w", rep, err)
		}

		logger.Info().
			Int("repetition", rep).
			Float64("auroc", m.AUROC).
			Float64("accuracy", m.Accuracy).
			Float64("train_acc", m.TrainScore).
			Float64("test_acc", m.TestScore).
			Dur("duration", elapsed).
			Msg("Repetition finished")

		reps = append(reps, m)
	}

	summary, err := Summarise(r.cfg.Name, r.cfg.Kind(), reps)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("best_repetition", summary.BestRepetition).
		Dur("duration", time.Since(start)).
		Msg("Experiment finished")

	return summary, nil
}

// runRepetition draws the split, trains a fresh target model and runs the
// attack. Every random choice derives from (Seed, rep).
func (r *Runner) runRepetition(ctx context.Context, rep int, logger zerolog.Logger) (*attack.Metrics, error) {
	sampler := dataset.NewSampler(r.cfg.Seed, uint64(rep), dataset.DefaultMaskFractions())
	samples, population, err := r.split(sampler)
	if err != nil {
		return nil, err
	}

	target, err := nn.New(r.cfg.TargetSpec(samples.NumFeatures(), samples.NumClasses), sampler.Rand())
	if err != nil {
		return nil, err
	}
	history, err := trainer.TrainGraph(ctx, target, samples, r.cfg.TargetTrain(), logger)
	if err != nil {
		return nil, fmt.Errorf("target model: %w", err)
	}
	r.o.metrics.ObserveTraining(metrics.RoleTarget, history.Duration)

	logger.Debug().
		Int("repetition", rep).
		Int("epochs", history.Epochs()).
		Int("best_epoch", history.BestEpoch).
		Msg("Target model trained")

	a, err := r.newAttack(target, population, sampler.Rand().Uint64(), logger)
	if err != nil {
		return nil, err
	}
	return a.Run(ctx, samples)
}

// split returns the target sample graph and, for attacks that need one, the
// shadow or population graph.
func (r *Runner) split(s *dataset.Sampler) (*graph.Graph, *graph.Graph, error) {
	switch r.cfg.Kind() {
	case attack.BasicShadowKind:
		return s.TargetShadowSplit(r.data, r.cfg.SplitMode(), SplitFraction, SplitFraction)
	case attack.ConfidenceKind:
		samples, err := s.SampleSubgraph(r.data, r.data.NumNodes()/2)
		return samples, nil, err
	case attack.LiRAKind, attack.RMIAKind:
		return s.TargetShadowSplit(r.data, dataset.SplitDisjoint, SplitFraction, SplitFraction)
	default:
		return nil, nil, errs.Configf("unsupported attack %q", r.cfg.Attack)
	}
}

func (r *Runner) newAttack(target nn.Model, population *graph.Graph, seed uint64, logger zerolog.Logger) (attack.Attack, error) {
	opts := []attack.Option{attack.WithLogger(logger), attack.WithMetrics(r.o.metrics)}
	switch r.cfg.Kind() {
	case attack.BasicShadowKind:
		return attack.NewBasicShadow(target, population, r.cfg.BasicShadowConfig(seed), opts...), nil
	case attack.ConfidenceKind:
		return attack.NewConfidence(target, r.cfg.ConfidenceConfig(), opts...), nil
	case attack.LiRAKind:
		return attack.NewOfflineLiRA(target, population, r.cfg.LiRAConfig(seed), opts...), nil
	case attack.RMIAKind:
		return attack.NewRMIA(target, population, r.cfg.RMIAConfig(seed), opts...), nil
	default:
		return nil, errs.Configf("unsupported attack %q", r.cfg.Attack)
	}
}
