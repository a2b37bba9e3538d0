// Package attack implements the membership inference attacks run against a
// trained target model: a learned shadow-model attack, a confidence
// threshold, offline LiRA and offline RMIA.
package attack

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/metrics"
	"github.com/gilchrisn/graph-mia/pkg/nn"
	"github.com/gilchrisn/graph-mia/pkg/scoring"
	"github.com/gilchrisn/graph-mia/pkg/shadow"
	"github.com/gilchrisn/graph-mia/pkg/trainer"
)

// Kind names an attack variant.
type Kind string

const (
	BasicShadowKind Kind = "basic-shadow"
	ConfidenceKind  Kind = "confidence"
	LiRAKind        Kind = "lira"
	RMIAKind        Kind = "rmia"
)

// Kinds returns every supported attack.
func Kinds() []Kind {
	return []Kind{BasicShadowKind, ConfidenceKind, LiRAKind, RMIAKind}
}

// ParseKind converts a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "basic-shadow":
		return BasicShadowKind, nil
	case "confidence":
		return ConfidenceKind, nil
	case "lira", "lira-offline":
		return LiRAKind, nil
	case "rmia":
		return RMIAKind, nil
	default:
		return "", errs.Configf("unknown attack %q (basic-shadow, confidence, lira, rmia)", s)
	}
}

// Attack scores every node of a target sample graph as member or non-member
// of the target model's training set. The ground truth is the sample graph's
// train mask.
type Attack interface {
	Kind() Kind
	Run(ctx context.Context, samples *graph.Graph) (*Metrics, error)
}

// Metric keys in reporting order.
const (
	KeyTrainAcc  = "train_acc"
	KeyTestAcc   = "test_acc"
	KeyAUROC     = "auroc"
	KeyAccuracy  = "accuracy"
	KeyF1        = "f1_score"
	KeyPrecision = "precision"
	KeyRecall    = "recall"
)

// MetricKeys lists the scalar metrics of a run in reporting order.
var MetricKeys = []string{KeyTrainAcc, KeyTestAcc, KeyAUROC, KeyAccuracy, KeyF1, KeyPrecision, KeyRecall}

// Metrics is the outcome of one attack run.
type Metrics struct {
	TrainScore float64       `json:"train_score"`
	TestScore  float64       `json:"test_score"`
	AUROC      float64       `json:"auroc"`
	Accuracy   float64       `json:"accuracy"`
	F1         float64       `json:"f1_score"`
	Precision  float64       `json:"precision"`
	Recall     float64       `json:"recall"`
	ROC        scoring.Curve `json:"roc"`
}

// Values returns the scalar metrics keyed by MetricKeys.
func (m *Metrics) Values() map[string]float64 {
	return map[string]float64{
		KeyTrainAcc:  m.TrainScore,
		KeyTestAcc:   m.TestScore,
		KeyAUROC:     m.AUROC,
		KeyAccuracy:  m.Accuracy,
		KeyF1:        m.F1,
		KeyPrecision: m.Precision,
		KeyRecall:    m.Recall,
	}
}

// Option configures an attack.
type Option func(*options)

type options struct {
	logger   zerolog.Logger
	metrics  *metrics.Registry
	ensemble *shadow.Ensemble
}

func newOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the attack's logger.
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

// WithEnsemble makes LiRA and RMIA reuse e instead of training their own
// ensemble on the population graph.
func WithEnsemble(e *shadow.Ensemble) Option {
	return func(o *options) {
		o.ensemble = e
	}
}

// evaluate turns per-node membership scores into Metrics, adding the target
// model's accuracy on the sample graph's train and test masks.
func evaluate(target nn.Model, samples *graph.Graph, scores []float64, threshold float64) (*Metrics, error) {
	eval, err := scoring.Evaluate(scores, samples.TrainMask, threshold)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		TrainScore: trainer.Accuracy(target, samples, samples.TrainMask),
		TestScore:  trainer.Accuracy(target, samples, samples.TestMask),
		AUROC:      eval.AUROC,
		Accuracy:   eval.Accuracy,
		F1:         eval.F1,
		Precision:  eval.Precision,
		Recall:     eval.Recall,
		ROC:        eval.ROC,
	}, nil
}

// CheckDisjoint fails with ErrDataIntegrity if any member of samples (a node
// in its train mask) appears in population.
func CheckDisjoint(samples, population *graph.Graph) error {
	members := samples.IDSet(graph.MaskedNodes(samples.TrainMask))
	var leaked []int
	for _, id := range population.NodeIDs {
		if _, ok := members[id]; ok {
			leaked = append(leaked, id)
		}
	}
	if len(leaked) > 0 {
		sort.Ints(leaked)
		return errs.Integrityf("%d target members leaked into the shadow population (first: node %d)", len(leaked), leaked[0])
	}
	return nil
}

// CheckShadowMembers fails with ErrDataIntegrity if any member of samples was
// part of a shadow model's training graph.
func CheckShadowMembers(samples *graph.Graph, ens *shadow.Ensemble) error {
	members := samples.IDSet(graph.MaskedNodes(samples.TrainMask))
	var leaked []int
	for id := range ens.TrainedNodeIDs() {
		if _, ok := members[id]; ok {
			leaked = append(leaked, id)
		}
	}
	if len(leaked) > 0 {
		sort.Ints(leaked)
		return errs.Integrityf("%d target members were trained on by shadow models (first: node %d)", len(leaked), leaked[0])
	}
	return nil
}
