// Package nn provides the small GNN model zoo used as target, shadow and
// attack models: dense layers over gonum matrices, graph propagation over
// the sparse operators of pkg/graph, and the optimizers that train them.
package nn

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
)

// Model maps a graph to one row of raw class scores per node.
type Model interface {
	Name() string
	Forward(g *graph.Graph, training bool) *mat.Dense
}

// Trainable is a Model whose parameters can be fitted by gradient descent.
// ForwardMatrix runs the model on an explicit input matrix; g may be nil for
// models without propagation layers.
type Trainable interface {
	Model
	ForwardMatrix(x *mat.Dense, g *graph.Graph, training bool) *mat.Dense
	Backward(grad *mat.Dense) *mat.Dense
	Params() []*Param
	ZeroGrad()
}

// Param is a learnable matrix together with its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, r, c int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(r, c, nil),
		Grad:  mat.NewDense(r, c, nil),
	}
}

// Architectures
const (
	GCN       = "GCN"
	SGC       = "SGC"
	GraphSAGE = "GraphSAGE"
	GIN       = "GIN"
	MLP       = "MLP"
)

// ParseArch normalises an architecture name.
func ParseArch(name string) (string, error) {
	switch strings.ToLower(name) {
	case "gcn":
		return GCN, nil
	case "sgc":
		return SGC, nil
	case "graphsage", "sage":
		return GraphSAGE, nil
	case "gin":
		return GIN, nil
	case "mlp":
		return MLP, nil
	case "gat":
		return "", errs.Configf("model %q is not supported", name)
	default:
		return "", errs.Configf("unknown model %q (GCN, SGC, GraphSAGE, GIN, MLP)", name)
	}
}

// Spec describes a freshly initialised model.
type Spec struct {
	Arch        string
	NumFeatures int
	Hidden      int
	HiddenDims  []int // MLP only
	NumClasses  int
	Dropout     float64
}

// New builds a model with fresh parameters drawn from rng.
func New(spec Spec, rng *rand.Rand) (*Sequential, error) {
	arch, err := ParseArch(spec.Arch)
	if err != nil {
		return nil, err
	}
	if spec.NumFeatures < 1 || spec.NumClasses < 2 {
		return nil, errs.Configf("model needs features >= 1 and classes >= 2 (got %d, %d)", spec.NumFeatures, spec.NumClasses)
	}
	if spec.Dropout < 0 || spec.Dropout >= 1 {
		return nil, errs.Configf("dropout must be in [0,1), got %.3f", spec.Dropout)
	}
	if arch != SGC && arch != MLP && spec.Hidden < 1 {
		return nil, errs.Configf("hidden dimension must be >= 1, got %d", spec.Hidden)
	}

	f, h, c := spec.NumFeatures, spec.Hidden, spec.NumClasses
	var layers []Layer
	switch arch {
	case GCN:
		layers = []Layer{
			NewDropout(spec.Dropout, rng),
			NewLinear("conv1", f, h, rng),
			NewPropagate(graph.GCNNorm, 1),
			&ReLU{},
			NewDropout(spec.Dropout, rng),
			NewLinear("conv2", h, c, rng),
			NewPropagate(graph.GCNNorm, 1),
		}
	case SGC:
		layers = []Layer{
			NewPropagate(graph.GCNNorm, 2),
			NewLinear("conv", f, c, rng),
		}
	case GraphSAGE:
		layers = []Layer{
			NewSAGEConv("sage1", f, h, rng),
			&ReLU{},
			NewDropout(spec.Dropout, rng),
			NewSAGEConv("sage2", h, c, rng),
		}
	case GIN:
		layers = []Layer{
			NewPropagate(graph.SumWithSelf, 1),
			NewLinear("gin1.mlp1", f, h, rng),
			&ReLU{},
			NewLinear("gin1.mlp2", h, h, rng),
			&ReLU{},
			NewDropout(spec.Dropout, rng),
			NewPropagate(graph.SumWithSelf, 1),
			NewLinear("gin2", h, c, rng),
		}
	case MLP:
		in := f
		for i, d := range spec.HiddenDims {
			if d < 1 {
				return nil, errs.Configf("hidden dims must be >= 1, got %v", spec.HiddenDims)
			}
			layers = append(layers,
				NewLinear(fmt.Sprintf("fc%d", i), in, d, rng),
				&ReLU{},
				NewDropout(spec.Dropout, rng),
			)
			in = d
		}
		layers = append(layers, NewLinear(fmt.Sprintf("fc%d", len(spec.HiddenDims)), in, c, rng))
	}

	return NewSequential(arch, layers...), nil
}

// Sequential chains layers and implements Trainable.
type Sequential struct {
	name   string
	layers []Layer
}

// NewSequential composes layers under a model name.
func NewSequential(name string, layers ...Layer) *Sequential {
	return &Sequential{name: name, layers: layers}
}

// Name returns the architecture name.
func (s *Sequential) Name() string {
	return s.name
}

// Forward runs the model on the graph's own features.
func (s *Sequential) Forward(g *graph.Graph, training bool) *mat.Dense {
	return s.ForwardMatrix(g.Features, g, training)
}

// ForwardMatrix runs the model on x, propagating over g where needed.
func (s *Sequential) ForwardMatrix(x *mat.Dense, g *graph.Graph, training bool) *mat.Dense {
	out := x
	for _, l := range s.layers {
		out = l.Forward(out, g, training)
	}
	return out
}

// Backward propagates the loss gradient with respect to the last output
// through every layer, accumulating parameter gradients. It returns the
// gradient with respect to the input.
func (s *Sequential) Backward(grad *mat.Dense) *mat.Dense {
	for i := len(s.layers) - 1; i >= 0; i-- {
		grad = s.layers[i].Backward(grad)
	}
	return grad
}

// Params returns every learnable parameter in layer order.
func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, l := range s.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// ZeroGrad clears accumulated gradients.
func (s *Sequential) ZeroGrad() {
	for _, p := range s.Params() {
		p.Grad.Zero()
	}
}

// NumParams returns the total number of scalar parameters.
func (s *Sequential) NumParams() int {
	total := 0
	for _, p := range s.Params() {
		r, c := p.Value.Dims()
		total += r * c
	}
	return total
}

// SaveParams copies the current parameter values.
func SaveParams(params []*Param) []*mat.Dense {
	saved := make([]*mat.Dense, len(params))
	for i, p := range params {
		saved[i] = mat.DenseCopyOf(p.Value)
	}
	return saved
}

// LoadParams restores values previously returned by SaveParams.
func LoadParams(params []*Param, saved []*mat.Dense) {
	for i, p := range params {
		p.Value.Copy(saved[i])
	}
}
