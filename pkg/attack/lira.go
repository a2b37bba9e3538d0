package attack

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/nn"
	"github.com/gilchrisn/graph-mia/pkg/query"
	"github.com/gilchrisn/graph-mia/pkg/scoring"
	"github.com/gilchrisn/graph-mia/pkg/shadow"
)

// StdFloor is added to shadow standard deviations before normalising.
const StdFloor = 1e-8

// LiRAConfig configures offline LiRA. Shadow.QueryHops is used for both
// shadow and target queries.
type LiRAConfig struct {
	Shadow    shadow.Config
	Threshold float64
}

// OfflineLiRA fits a Gaussian to the logit confidences of shadow models that
// never saw the queried nodes and scores the target's confidence by its CDF.
type OfflineLiRA struct {
	target     nn.Model
	population *graph.Graph
	cfg        LiRAConfig
	o          options
	ensemble   *shadow.Ensemble
}

// NewOfflineLiRA creates an offline LiRA attack. population must not contain
// members of the sample graphs it will later be run on.
func NewOfflineLiRA(target nn.Model, population *graph.Graph, cfg LiRAConfig, opts ...Option) *OfflineLiRA {
	o := newOptions(opts)
	return &OfflineLiRA{target: target, population: population, cfg: cfg, o: o, ensemble: o.ensemble}
}

func (a *OfflineLiRA) Kind() Kind {
	return LiRAKind
}

// Ensemble trains the shadow ensemble on first use and returns it.
func (a *OfflineLiRA) Ensemble(ctx context.Context) (*shadow.Ensemble, error) {
	if a.ensemble == nil {
		e, err := trainEnsemble(ctx, a.population, a.cfg.Shadow, a.o)
		if err != nil {
			return nil, err
		}
		a.ensemble = e
	}
	return a.ensemble, nil
}

func (a *OfflineLiRA) Run(ctx context.Context, samples *graph.Graph) (*Metrics, error) {
	if err := CheckDisjoint(samples, a.population); err != nil {
		return nil, err
	}
	ens, err := a.Ensemble(ctx)
	if err != nil {
		return nil, err
	}
	if err := CheckShadowMembers(samples, ens); err != nil {
		return nil, err
	}

	nodes := samples.AllNodes()
	means, stds, err := ens.Statistics(ctx, samples, nodes)
	if err != nil {
		return nil, err
	}
	out, err := query.Query(a.target, samples, nodes, a.cfg.Shadow.QueryHops, query.WithRecorder(a.o.metrics))
	if err != nil {
		return nil, err
	}
	scores, err := LiRAScores(scoring.LogitTransform(scoring.MaxSoftmaxConfidence(out)), means, stds)
	if err != nil {
		return nil, err
	}

	a.o.logger.Debug().
		Int("nodes", len(nodes)).
		Int("shadow_models", ens.Size()).
		Msg("LiRA scores computed")

	return evaluate(a.target, samples, scores, a.cfg.Threshold)
}

// LiRAScores returns Phi((x - mean) / (std + StdFloor)) for every node, the
// probability that a non-member confidence falls below the target's.
func LiRAScores(target, means, stds []float64) ([]float64, error) {
	if len(target) != len(means) || len(target) != len(stds) {
		return nil, errs.Integrityf("LiRA inputs have lengths %d, %d, %d", len(target), len(means), len(stds))
	}
	scores := make([]float64, len(target))
	for i, x := range target {
		z := (x - means[i]) / (stds[i] + StdFloor)
		p := distuv.UnitNormal.CDF(z)
		if math.IsNaN(p) {
			return nil, errs.Degeneracyf("LiRA statistic of node %d is NaN", i)
		}
		scores[i] = p
	}
	return scores, nil
}

func trainEnsemble(ctx context.Context, population *graph.Graph, cfg shadow.Config, o options) (*shadow.Ensemble, error) {
	return shadow.Train(ctx, population, cfg, shadow.WithLogger(o.logger), shadow.WithMetrics(o.metrics))
}
