// Package scoring derives per-node membership scores from model outputs and
// evaluates them as a binary member/non-member classifier.
package scoring

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/nn"
)

// Epsilon bounds probabilities away from 0 and 1 before taking logits.
const Epsilon = 1e-8

// Logit returns log(p/(1-p)) with p clamped to [Epsilon, 1-Epsilon].
func Logit(p float64) float64 {
	p = math.Min(math.Max(p, Epsilon), 1-Epsilon)
	return math.Log(p / (1 - p))
}

// LogitTransform applies Logit elementwise.
func LogitTransform(ps []float64) []float64 {
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = Logit(p)
	}
	return out
}

// Sigmoid is the inverse of Logit away from the clamp.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// MaxSoftmaxConfidence returns, for every row of raw class scores, the
// largest softmax probability.
func MaxSoftmaxConfidence(out mat.Matrix) []float64 {
	probs := nn.Softmax(out)
	r, _ := probs.Dims()
	conf := make([]float64, r)
	for i := range conf {
		conf[i] = floats.Max(probs.RawRowView(i))
	}
	return conf
}

// TrueLabelProbability returns the softmax probability of each row's label.
func TrueLabelProbability(out mat.Matrix, labels []int) ([]float64, error) {
	probs := nn.Softmax(out)
	r, c := probs.Dims()
	if r != len(labels) {
		return nil, errs.Integrityf("%d output rows for %d labels", r, len(labels))
	}
	p := make([]float64, r)
	for i, y := range labels {
		if y < 0 || y >= c {
			return nil, errs.Integrityf("label %d of row %d outside [0,%d)", y, i, c)
		}
		p[i] = probs.At(i, y)
	}
	return p, nil
}

// ConfidenceFunc turns a block of raw class scores for the given labels into
// one scalar per row.
type ConfidenceFunc func(out mat.Matrix, labels []int) ([]float64, error)

// LogitConfidence is logit(max softmax), the calibrated statistic of LiRA.
func LogitConfidence(out mat.Matrix, _ []int) ([]float64, error) {
	return LogitTransform(MaxSoftmaxConfidence(out)), nil
}

// TrueLabelConfidence adapts TrueLabelProbability to a ConfidenceFunc.
func TrueLabelConfidence(out mat.Matrix, labels []int) ([]float64, error) {
	return TrueLabelProbability(out, labels)
}
