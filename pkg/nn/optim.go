package nn

import (
	"math"
	"strings"

	"github.com/gilchrisn/graph-mia/pkg/errs"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step(params []*Param)
}

// NewOptimizer returns the named optimizer. Weight decay is an L2 penalty
// added to the gradient.
func NewOptimizer(name string, lr, weightDecay float64) (Optimizer, error) {
	if lr <= 0 {
		return nil, errs.Configf("learning rate must be > 0, got %g", lr)
	}
	if weightDecay < 0 {
		return nil, errs.Configf("weight decay must be >= 0, got %g", weightDecay)
	}
	switch strings.ToLower(name) {
	case "adam":
		return NewAdam(lr, weightDecay), nil
	case "sgd":
		return &SGD{LR: lr, WeightDecay: weightDecay}, nil
	default:
		return nil, errs.Configf("unknown optimizer %q (Adam, SGD)", name)
	}
}

// SGD is plain stochastic gradient descent.
type SGD struct {
	LR          float64
	WeightDecay float64
}

func (o *SGD) Step(params []*Param) {
	for _, p := range params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		for i := range w {
			w[i] -= o.LR * (g[i] + o.WeightDecay*w[i])
		}
	}
}

// Adam implements Kingma and Ba's optimizer with bias correction.
type Adam struct {
	LR, Beta1, Beta2, Eps float64
	WeightDecay           float64

	t    int
	m, v map[*Param][]float64
}

// NewAdam returns Adam with the usual defaults (0.9, 0.999, 1e-8).
func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(map[*Param][]float64),
		v:           make(map[*Param][]float64),
	}
}

func (o *Adam) Step(params []*Param) {
	o.t++
	c1 := 1 - math.Pow(o.Beta1, float64(o.t))
	c2 := 1 - math.Pow(o.Beta2, float64(o.t))

	for _, p := range params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m, ok := o.m[p]
		if !ok {
			m = make([]float64, len(w))
			o.m[p] = m
			o.v[p] = make([]float64, len(w))
		}
		v := o.v[p]

		for i := range w {
			grad := g[i] + o.WeightDecay*w[i]
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*grad
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*grad*grad
			w[i] -= o.LR * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.Eps)
		}
	}
}
