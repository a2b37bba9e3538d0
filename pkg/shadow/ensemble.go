// Package shadow trains ensembles of shadow models on random subgraphs of a
// population graph and summarises their per-node confidences.
package shadow

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/gilchrisn/graph-mia/pkg/dataset"
	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/metrics"
	"github.com/gilchrisn/graph-mia/pkg/nn"
	"github.com/gilchrisn/graph-mia/pkg/query"
	"github.com/gilchrisn/graph-mia/pkg/scoring"
	"github.com/gilchrisn/graph-mia/pkg/trainer"
)

// Config controls ensemble training. Model.NumFeatures and Model.NumClasses
// default to those of the population graph.
type Config struct {
	NumModels   int
	SampleRatio float64
	QueryHops   int
	Workers     int
	Seed        uint64
	Model       nn.Spec
	Train       trainer.Config
	Masks       dataset.MaskFractions
}

// Validate checks the ensemble configuration.
func (c Config) Validate() error {
	if c.NumModels < 1 {
		return errs.Configf("ensemble needs at least one model, got %d", c.NumModels)
	}
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		return errs.Configf("sample ratio must be in (0,1], got %.3f", c.SampleRatio)
	}
	if c.QueryHops < 0 {
		return errs.Configf("query hops must be >= 0, got %d", c.QueryHops)
	}
	if c.Workers < 0 {
		return errs.Configf("workers must be >= 0, got %d", c.Workers)
	}
	return c.Masks.Validate()
}

// Option configures Train.
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// WithLogger sets the logger used for per-model progress.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records trained models and node queries in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// Model is a trained shadow model together with the subgraph it saw.
type Model struct {
	Net     nn.Trainable
	Graph   *graph.Graph
	History *trainer.History
}

// Ensemble is a fixed set of trained shadow models. Querying it never
// retrains; it is not safe for concurrent use.
type Ensemble struct {
	models  []*Model
	hops    int
	metrics *metrics.Registry
}

// Train fits cfg.NumModels shadow models, each on a fresh subgraph holding
// floor(|population| * SampleRatio) nodes. Shadow i draws all of its
// randomness from (cfg.Seed, i), so the result does not depend on
// cfg.Workers. The first training error aborts the ensemble.
func Train(ctx context.Context, population *graph.Graph, cfg Config, opts ...Option) (*Ensemble, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	size := int(math.Floor(float64(population.NumNodes()) * cfg.SampleRatio))
	if size < 1 {
		return nil, errs.Configf("sample ratio %.3f leaves no node of %d", cfg.SampleRatio, population.NumNodes())
	}
	if cfg.Model.NumFeatures == 0 {
		cfg.Model.NumFeatures = population.NumFeatures()
	}
	if cfg.Model.NumClasses == 0 {
		cfg.Model.NumClasses = population.NumClasses
	}
	workers := max(cfg.Workers, 1)

	o.logger.Info().
		Int("models", cfg.NumModels).
		Int("subgraph_size", size).
		Int("workers", workers).
		Str("arch", cfg.Model.Arch).
		Msg("Training shadow ensemble")

	models := make([]*Model, cfg.NumModels)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i := 0; i < cfg.NumModels; i++ {
		group.Go(func() error {
			m, err := trainOne(gctx, population, size, cfg, i, o)
			if err != nil {
				return fmt.Errorf("shadow model %d: %w", i, err)
			}
			models[i] = m
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return NewEnsemble(models, cfg.QueryHops, opts...), nil
}

func trainOne(ctx context.Context, population *graph.Graph, size int, cfg Config, index int, o options) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sampler := dataset.NewSampler(cfg.Seed, uint64(index), cfg.Masks)
	sub, err := sampler.SampleSubgraph(population, size)
	if err != nil {
		return nil, err
	}
	net, err := nn.New(cfg.Model, sampler.Rand())
	if err != nil {
		return nil, err
	}

	history, err := trainer.TrainGraph(ctx, net, sub, cfg.Train, o.logger)
	if err != nil {
		return nil, err
	}
	o.metrics.ObserveTraining(metrics.RoleShadow, history.Duration)

	o.logger.Debug().
		Int("shadow", index).
		Int("epochs", history.Epochs()).
		Float64("train_acc", trainer.Accuracy(net, sub, sub.TrainMask)).
		Msg("Shadow model trained")

	return &Model{Net: net, Graph: sub, History: history}, nil
}

// NewEnsemble wraps already trained models queried with queryHops-hop
// neighbourhoods.
func NewEnsemble(models []*Model, queryHops int, opts ...Option) *Ensemble {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Ensemble{models: models, hops: queryHops, metrics: o.metrics}
}

// Size returns the number of shadow models.
func (e *Ensemble) Size() int {
	return len(e.models)
}

// Models returns the trained shadow models.
func (e *Ensemble) Models() []*Model {
	return e.models
}

// TrainedNodeIDs returns the dataset identities of every node that appeared
// in any shadow model's training graph.
func (e *Ensemble) TrainedNodeIDs() map[int]struct{} {
	ids := make(map[int]struct{})
	for _, m := range e.models {
		for _, id := range m.Graph.NodeIDs {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// ConfidenceMatrix queries every shadow model for the given nodes of g and
// returns a K x len(nodes) matrix of per-node confidences computed by fn.
func (e *Ensemble) ConfidenceMatrix(ctx context.Context, g *graph.Graph, nodes []int, fn scoring.ConfidenceFunc) (*mat.Dense, error) {
	if len(e.models) == 0 {
		return nil, errs.Degeneracyf("ensemble has no models")
	}
	if err := g.CheckNodes(nodes); err != nil {
		return nil, err
	}
	labels := make([]int, len(nodes))
	for i, v := range nodes {
		labels[i] = g.Labels[v]
	}

	var stacked *mat.Dense
	for k, m := range e.models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := query.Query(m.Net, g, nodes, e.hops, query.WithRecorder(e.metrics))
		if err != nil {
			return nil, err
		}
		conf, err := fn(out, labels)
		if err != nil {
			return nil, err
		}
		if len(conf) != len(nodes) {
			return nil, errs.Integrityf("shadow model %d returned %d confidences for %d nodes", k, len(conf), len(nodes))
		}
		if stacked == nil {
			stacked = mat.NewDense(len(e.models), len(nodes), nil)
		}
		stacked.SetRow(k, conf)
	}
	return stacked, nil
}

// Statistics returns, for every node, the sample mean and sample standard
// deviation of logit(max softmax) across the shadow models.
func (e *Ensemble) Statistics(ctx context.Context, g *graph.Graph, nodes []int) ([]float64, []float64, error) {
	m, err := e.ConfidenceMatrix(ctx, g, nodes, scoring.LogitConfidence)
	if err != nil {
		return nil, nil, err
	}
	return ColumnStats(m)
}

// ColumnStats reduces a K x n matrix to per-column sample means and sample
// standard deviations. It needs K >= 2 and finite results.
func ColumnStats(m *mat.Dense) ([]float64, []float64, error) {
	if m == nil {
		return nil, nil, errs.Integrityf("no confidence matrix")
	}
	k, n := m.Dims()
	if k < 2 {
		return nil, nil, errs.Degeneracyf("standard deviation needs at least 2 shadow models, got %d", k)
	}

	means := make([]float64, n)
	stds := make([]float64, n)
	col := make([]float64, k)
	for j := 0; j < n; j++ {
		mat.Col(col, j, m)
		means[j], stds[j] = stat.MeanStdDev(col, nil)
		if math.IsNaN(means[j]) || math.IsInf(means[j], 0) || math.IsNaN(stds[j]) || math.IsInf(stds[j], 0) {
			return nil, nil, errs.Degeneracyf("non-finite statistics for column %d", j)
		}
	}
	return means, stds, nil
}

// ColumnMeans returns the per-column means of a K x n matrix.
func ColumnMeans(m *mat.Dense) []float64 {
	k, n := m.Dims()
	means := make([]float64, n)
	col := make([]float64, k)
	for j := range means {
		mat.Col(col, j, m)
		means[j] = stat.Mean(col, nil)
	}
	return means
}
