package attack

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/nn"
	"github.com/gilchrisn/graph-mia/pkg/query"
	"github.com/gilchrisn/graph-mia/pkg/scoring"
	"github.com/gilchrisn/graph-mia/pkg/shadow"
)

// RMIAConfig configures offline RMIA. InterpParam is the offline
// interpolation a between the OUT-model average and 1, Gamma the pairwise
// likelihood-ratio threshold and PopulationSamples the size of the reference
// set Z drawn from the population.
type RMIAConfig struct {
	Shadow            shadow.Config
	InterpParam       float64
	Gamma             float64
	PopulationSamples int
	Threshold         float64
}

// RMIA compares the target's likelihood ratio on each node against those of
// population nodes.
type RMIA struct {
	target     nn.Model
	population *graph.Graph
	cfg        RMIAConfig
	o          options
	ensemble   *shadow.Ensemble

	// true-label probabilities of the population samples under the target
	// and averaged over the reference models
	pZ, poutZ []float64
}

// NewRMIA creates an offline RMIA attack. population must not contain
// members of the sample graphs it will later be run on.
func NewRMIA(target nn.Model, population *graph.Graph, cfg RMIAConfig, opts ...Option) *RMIA {
	o := newOptions(opts)
	return &RMIA{target: target, population: population, cfg: cfg, o: o, ensemble: o.ensemble}
}

func (a *RMIA) Kind() Kind {
	return RMIAKind
}

// Ensemble trains the reference models on first use and returns them.
func (a *RMIA) Ensemble(ctx context.Context) (*shadow.Ensemble, error) {
	if a.ensemble == nil {
		e, err := trainEnsemble(ctx, a.population, a.cfg.Shadow, a.o)
		if err != nil {
			return nil, err
		}
		a.ensemble = e
	}
	return a.ensemble, nil
}

func (a *RMIA) Run(ctx context.Context, samples *graph.Graph) (*Metrics, error) {
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

	if a.pZ == nil {
		zNodes := a.populationSample()
		a.pZ, a.poutZ, err = a.probabilities(ctx, ens, a.population, zNodes)
		if err != nil {
			return nil, err
		}
	}

	px, poutX, err := a.probabilities(ctx, ens, samples, samples.AllNodes())
	if err != nil {
		return nil, err
	}
	scores, err := RMIAScores(px, poutX, a.pZ, a.poutZ, a.cfg.InterpParam, a.cfg.Gamma)
	if err != nil {
		return nil, err
	}

	a.o.logger.Debug().
		Int("nodes", len(px)).
		Int("population_samples", len(a.pZ)).
		Int("reference_models", ens.Size()).
		Msg("RMIA scores computed")

	return evaluate(a.target, samples, scores, a.cfg.Threshold)
}

// probabilities returns the target's true-label probability and the mean
// reference-model true-label probability for nodes of g.
func (a *RMIA) probabilities(ctx context.Context, ens *shadow.Ensemble, g *graph.Graph, nodes []int) ([]float64, []float64, error) {
	out, err := query.Query(a.target, g, nodes, a.cfg.Shadow.QueryHops, query.WithRecorder(a.o.metrics))
	if err != nil {
		return nil, nil, err
	}
	labels := make([]int, len(nodes))
	for i, v := range nodes {
		labels[i] = g.Labels[v]
	}
	pTarget, err := scoring.TrueLabelProbability(out, labels)
	if err != nil {
		return nil, nil, err
	}
	ref, err := ens.ConfidenceMatrix(ctx, g, nodes, scoring.TrueLabelConfidence)
	if err != nil {
		return nil, nil, err
	}
	return pTarget, shadow.ColumnMeans(ref), nil
}

// populationSample draws up to PopulationSamples distinct population nodes.
func (a *RMIA) populationSample() []int {
	n := a.population.NumNodes()
	k := a.cfg.PopulationSamples
	if k <= 0 || k > n {
		k = n
	}
	rng := rand.New(rand.NewPCG(a.cfg.Shadow.Seed, uint64(a.cfg.Shadow.NumModels)+1))
	nodes := rng.Perm(n)[:k]
	sort.Ints(nodes)
	return nodes
}

// RMIAScores computes offline RMIA scores from precomputed probabilities.
// pX and poutX are the target and mean reference true-label probabilities of
// the queried nodes, pZ and poutZ those of the population samples.
func RMIAScores(pX, poutX, pZ, poutZ []float64, a, gamma float64) ([]float64, error) {
	if err := validateRMIA(a, gamma); err != nil {
		return nil, err
	}
	if len(pX) != len(poutX) || len(pZ) != len(poutZ) {
		return nil, errs.Integrityf("RMIA inputs have lengths %d/%d and %d/%d", len(pX), len(poutX), len(pZ), len(poutZ))
	}
	if len(pZ) == 0 {
		return nil, errs.Degeneracyf("RMIA needs at least one population sample")
	}

	reference := make([]float64, len(pZ))
	for i := range pZ {
		reference[i] = rmiaRatio(pZ[i], poutZ[i], a)
	}
	sort.Float64s(reference)

	scores := make([]float64, len(pX))
	for i := range pX {
		scores[i] = dominatedFraction(rmiaRatio(pX[i], poutX[i], a), reference, gamma)
		if math.IsNaN(scores[i]) {
			return nil, errs.Degeneracyf("RMIA score of node %d is NaN", i)
		}
	}
	return scores, nil
}

func validateRMIA(a, gamma float64) error {
	if a < 0 || a > 1 {
		return errs.Configf("rmia interpolation parameter must be in [0,1], got %g", a)
	}
	if gamma <= 0 {
		return errs.Configf("rmia gamma must be > 0, got %g", gamma)
	}
	return nil
}

// rmiaRatio is p(x|theta) / Pr(x) with Pr(x) = ((1+a) pOut + (1-a)) / 2.
func rmiaRatio(p, pOut, a float64) float64 {
	pr := 0.5 * ((1+a)*pOut + (1 - a))
	return math.Max(p, scoring.Epsilon) / math.Max(pr, scoring.Epsilon)
}

// dominatedFraction returns |{z : ratio / ratio(z) >= gamma}| / |Z| given the
// sorted reference ratios.
func dominatedFraction(ratio float64, reference []float64, gamma float64) float64 {
	limit := ratio / gamma
	count := sort.Search(len(reference), func(i int) bool { return reference[i] > limit })
	return float64(count) / float64(len(reference))
}
