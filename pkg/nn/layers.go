package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/graph"
)

// Layer is one differentiable stage of a Sequential model. Forward caches
// whatever Backward needs; Backward must follow the matching Forward.
type Layer interface {
	Forward(x *mat.Dense, g *graph.Graph, training bool) *mat.Dense
	Backward(grad *mat.Dense) *mat.Dense
	Params() []*Param
}

// glorot fills m with Glorot-uniform values.
func glorot(m *mat.Dense, rng *rand.Rand) {
	r, c := m.Dims()
	limit := math.Sqrt(6 / float64(r+c))
	raw := m.RawMatrix().Data
	for i := range raw {
		raw[i] = (2*rng.Float64() - 1) * limit
	}
}

// Linear computes x W + b.
type Linear struct {
	W, B *Param
	x    *mat.Dense
}

// NewLinear creates a dense layer with Glorot-initialised weights and zero bias.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		W: newParam(name+".weight", in, out),
		B: newParam(name+".bias", 1, out),
	}
	glorot(l.W.Value, rng)
	return l
}

func (l *Linear) Forward(x *mat.Dense, _ *graph.Graph, _ bool) *mat.Dense {
	l.x = x
	var out mat.Dense
	out.Mul(x, l.W.Value)
	addBias(&out, l.B.Value)
	return &out
}

func (l *Linear) Backward(grad *mat.Dense) *mat.Dense {
	accumulate(l.W.Grad, l.x.T(), grad)
	accumulateBias(l.B.Grad, grad)

	var dx mat.Dense
	dx.Mul(grad, l.W.Value.T())
	return &dx
}

func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

// Propagate applies a graph operator Hops times.
type Propagate struct {
	Kind graph.PropagationKind
	Hops int
	op   *graph.Propagator
}

// NewPropagate creates a parameter-free propagation layer.
func NewPropagate(kind graph.PropagationKind, hops int) *Propagate {
	return &Propagate{Kind: kind, Hops: hops}
}

func (p *Propagate) Forward(x *mat.Dense, g *graph.Graph, _ bool) *mat.Dense {
	p.op = g.Propagator(p.Kind)
	out := x
	for i := 0; i < p.Hops; i++ {
		out = p.op.Apply(out)
	}
	return out
}

func (p *Propagate) Backward(grad *mat.Dense) *mat.Dense {
	for i := 0; i < p.Hops; i++ {
		grad = p.op.ApplyT(grad)
	}
	return grad
}

func (p *Propagate) Params() []*Param {
	return nil
}

// SAGEConv is a GraphSAGE layer with mean aggregation:
// x W_self + mean_{j in N(i)} x_j W_neigh + b.
type SAGEConv struct {
	Self, Neigh, B *Param
	x, agg         *mat.Dense
	op             *graph.Propagator
}

// NewSAGEConv creates a GraphSAGE layer.
func NewSAGEConv(name string, in, out int, rng *rand.Rand) *SAGEConv {
	l := &SAGEConv{
		Self:  newParam(name+".lin_r.weight", in, out),
		Neigh: newParam(name+".lin_l.weight", in, out),
		B:     newParam(name+".lin_l.bias", 1, out),
	}
	glorot(l.Self.Value, rng)
	glorot(l.Neigh.Value, rng)
	return l
}

func (l *SAGEConv) Forward(x *mat.Dense, g *graph.Graph, _ bool) *mat.Dense {
	l.op = g.Propagator(graph.MeanAggregation)
	l.x = x
	l.agg = l.op.Apply(x)

	var out, neigh mat.Dense
	out.Mul(x, l.Self.Value)
	neigh.Mul(l.agg, l.Neigh.Value)
	out.Add(&out, &neigh)
	addBias(&out, l.B.Value)
	return &out
}

func (l *SAGEConv) Backward(grad *mat.Dense) *mat.Dense {
	accumulate(l.Self.Grad, l.x.T(), grad)
	accumulate(l.Neigh.Grad, l.agg.T(), grad)
	accumulateBias(l.B.Grad, grad)

	var dx, dagg mat.Dense
	dx.Mul(grad, l.Self.Value.T())
	dagg.Mul(grad, l.Neigh.Value.T())
	dx.Add(&dx, l.op.ApplyT(&dagg))
	return &dx
}

func (l *SAGEConv) Params() []*Param {
	return []*Param{l.Self, l.Neigh, l.B}
}

// ReLU is max(0, x).
type ReLU struct {
	mask []bool
}

func (r *ReLU) Forward(x *mat.Dense, _ *graph.Graph, _ bool) *mat.Dense {
	out := mat.DenseCopyOf(x)
	raw := out.RawMatrix().Data
	r.mask = make([]bool, len(raw))
	for i, v := range raw {
		if v > 0 {
			r.mask[i] = true
		} else {
			raw[i] = 0
		}
	}
	return out
}

func (r *ReLU) Backward(grad *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(grad)
	raw := out.RawMatrix().Data
	for i := range raw {
		if !r.mask[i] {
			raw[i] = 0
		}
	}
	return out
}

func (r *ReLU) Params() []*Param {
	return nil
}

// Dropout zeroes inputs with probability Rate during training and rescales
// the survivors. It is the identity at inference.
type Dropout struct {
	Rate  float64
	rng   *rand.Rand
	scale []float64
}

// NewDropout creates a dropout layer drawing masks from rng.
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

func (d *Dropout) Forward(x *mat.Dense, _ *graph.Graph, training bool) *mat.Dense {
	if !training || d.Rate == 0 {
		d.scale = nil
		return x
	}
	out := mat.DenseCopyOf(x)
	raw := out.RawMatrix().Data
	d.scale = make([]float64, len(raw))
	keep := 1 / (1 - d.Rate)
	for i := range raw {
		if d.rng.Float64() >= d.Rate {
			d.scale[i] = keep
		}
		raw[i] *= d.scale[i]
	}
	return out
}

func (d *Dropout) Backward(grad *mat.Dense) *mat.Dense {
	if d.scale == nil {
		return grad
	}
	out := mat.DenseCopyOf(grad)
	floats.Mul(out.RawMatrix().Data, d.scale)
	return out
}

func (d *Dropout) Params() []*Param {
	return nil
}

// addBias adds the 1 x c row b to every row of m.
func addBias(m, b *mat.Dense) {
	r, _ := m.Dims()
	row := b.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), row)
	}
}

// accumulate adds a*b to dst.
func accumulate(dst *mat.Dense, a, b mat.Matrix) {
	var tmp mat.Dense
	tmp.Mul(a, b)
	dst.Add(dst, &tmp)
}

// accumulateBias adds the column sums of grad to the 1 x c bias gradient.
func accumulateBias(dst, grad *mat.Dense) {
	r, _ := grad.Dims()
	row := dst.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(row, grad.RawRowView(i))
	}
}
