package attack

import (
	"context"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/metrics"
	"github.com/gilchrisn/graph-mia/pkg/nn"
	"github.com/gilchrisn/graph-mia/pkg/query"
	"github.com/gilchrisn/graph-mia/pkg/trainer"
)

// AttackTrainFraction is the share of the attack dataset used for training;
// the rest validates the attack classifier.
const AttackTrainFraction = 0.8

// BasicShadowConfig configures the shadow-model attack. Model describes the
// shadow model (the target's architecture); AttackHidden the attack MLP.
type BasicShadowConfig struct {
	Model        nn.Spec
	ShadowTrain  trainer.Config
	AttackHidden []int
	AttackTrain  trainer.Config
	QueryHops    int
	Threshold    float64
	Seed         uint64
}

// BasicShadow trains one shadow model to mimic the target, learns an attack
// classifier on the shadow model's outputs for its own members and
// non-members, and applies it to the target's outputs.
type BasicShadow struct {
	target      nn.Model
	shadowGraph *graph.Graph
	cfg         BasicShadowConfig
	o           options

	shadowModel nn.Trainable
	attackModel nn.Trainable
}

// NewBasicShadow creates a shadow-model attack trained on shadowGraph.
func NewBasicShadow(target nn.Model, shadowGraph *graph.Graph, cfg BasicShadowConfig, opts ...Option) *BasicShadow {
	return &BasicShadow{target: target, shadowGraph: shadowGraph, cfg: cfg, o: newOptions(opts)}
}

func (a *BasicShadow) Kind() Kind {
	return BasicShadowKind
}

func (a *BasicShadow) Run(ctx context.Context, samples *graph.Graph) (*Metrics, error) {
	if err := a.prepare(ctx); err != nil {
		return nil, err
	}

	out, err := query.Query(a.target, samples, samples.AllNodes(), a.cfg.QueryHops, query.WithRecorder(a.o.metrics))
	if err != nil {
		return nil, err
	}
	probs := nn.Softmax(a.attackModel.ForwardMatrix(AttackFeatures(out), nil, false))
	scores := mat.Col(nil, 1, probs)

	return evaluate(a.target, samples, scores, a.cfg.Threshold)
}

// prepare trains the shadow and attack models once.
func (a *BasicShadow) prepare(ctx context.Context) error {
	if a.attackModel != nil {
		return nil
	}
	rng := rand.New(rand.NewPCG(a.cfg.Seed, 0xb5))

	spec := a.cfg.Model
	spec.NumFeatures = a.shadowGraph.NumFeatures()
	spec.NumClasses = a.shadowGraph.NumClasses
	shadowModel, err := nn.New(spec, rng)
	if err != nil {
		return err
	}
	history, err := trainer.TrainGraph(ctx, shadowModel, a.shadowGraph, a.cfg.ShadowTrain, a.o.logger)
	if err != nil {
		return err
	}
	a.o.metrics.ObserveTraining(metrics.RoleShadow, history.Duration)

	a.o.logger.Info().
		Float64("train_acc", trainer.Accuracy(shadowModel, a.shadowGraph, a.shadowGraph.TrainMask)).
		Float64("test_acc", trainer.Accuracy(shadowModel, a.shadowGraph, a.shadowGraph.TestMask)).
		Msg("Shadow model trained")

	out, err := query.Query(shadowModel, a.shadowGraph, a.shadowGraph.AllNodes(), a.cfg.QueryHops, query.WithRecorder(a.o.metrics))
	if err != nil {
		return err
	}
	x := AttackFeatures(out)
	labels := make([]int, a.shadowGraph.NumNodes())
	for i, member := range a.shadowGraph.TrainMask {
		if member {
			labels[i] = 1
		}
	}
	trainRows, validRows := splitRows(len(labels), AttackTrainFraction, rng)

	attackModel, err := nn.New(nn.Spec{
		Arch:        nn.MLP,
		NumFeatures: spec.NumClasses,
		HiddenDims:  a.cfg.AttackHidden,
		NumClasses:  2,
	}, rng)
	if err != nil {
		return err
	}
	history, err = trainer.TrainTabular(ctx, attackModel, x, labels, trainRows, validRows, a.cfg.AttackTrain, rng, a.o.logger)
	if err != nil {
		return err
	}
	a.o.metrics.ObserveTraining(metrics.RoleAttack, history.Duration)

	a.o.logger.Info().
		Float64("valid_acc", history.ValidScore[history.BestEpoch]).
		Msg("Attack model trained")

	a.shadowModel = shadowModel
	a.attackModel = attackModel
	return nil
}

// AttackFeatures converts raw class scores to the attack classifier's input:
// each row's softmax probabilities sorted in descending order.
func AttackFeatures(out mat.Matrix) *mat.Dense {
	probs := nn.Softmax(out)
	r, _ := probs.Dims()
	for i := 0; i < r; i++ {
		sort.Sort(sort.Reverse(sort.Float64Slice(probs.RawRowView(i))))
	}
	return probs
}

// splitRows shuffles 0..n-1 and splits it at frac.
func splitRows(n int, frac float64, rng *rand.Rand) ([]int, []int) {
	perm := rng.Perm(n)
	cut := int(frac * float64(n))
	if cut < 1 {
		cut = min(1, n)
	}
	return perm[:cut], perm[cut:]
}
