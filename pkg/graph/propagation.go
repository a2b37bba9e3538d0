package graph

import (
	"math"
	"sort"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PropagationKind selects how node representations are aggregated over edges.
type PropagationKind int

const (
	// GCNNorm is the symmetric normalisation D^-1/2 (A+I) D^-1/2.
	GCNNorm PropagationKind = iota
	// MeanAggregation averages over neighbours, excluding the node itself.
	MeanAggregation
	// SumWithSelf sums over neighbours and the node itself (GIN, eps = 0).
	SumWithSelf
)

// String returns the name of the propagation kind.
func (k PropagationKind) String() string {
	switch k {
	case GCNNorm:
		return "gcn"
	case MeanAggregation:
		return "mean"
	case SumWithSelf:
		return "sum"
	default:
		return "unknown"
	}
}

// Propagator is a sparse n x n operator. out = P * x.
type Propagator struct {
	m *sparse.CSR
}

// Propagator returns the cached operator of the given kind for this graph.
func (g *Graph) Propagator(kind PropagationKind) *Propagator {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.props[kind]; ok {
		return p
	}
	if g.props == nil {
		g.props = make(map[PropagationKind]*Propagator)
	}
	p := newPropagator(g.NumNodes(), g.Edges, kind)
	g.props[kind] = p
	return p
}

// newPropagator builds the operator from an edge list treated as undirected.
// Rows keep ascending column order.
func newPropagator(n int, edges []Edge, kind PropagationKind) *Propagator {
	neighbors := sortedNeighbors(n, edges)

	indptr := make([]int, n+1)
	var (
		ind  []int
		data []float64
	)
	add := func(j int, v float64) {
		ind = append(ind, j)
		data = append(data, v)
	}

	var deg []float64
	if kind == GCNNorm {
		deg = make([]float64, n)
		for i := range deg {
			deg[i] = float64(len(neighbors[i]) + 1)
		}
	}

	for i := 0; i < n; i++ {
		switch kind {
		case GCNNorm:
			self := false
			for _, j := range neighbors[i] {
				if !self && j > i {
					add(i, 1/deg[i])
					self = true
				}
				add(j, 1/math.Sqrt(deg[i]*deg[j]))
			}
			if !self {
				add(i, 1/deg[i])
			}
		case MeanAggregation:
			if len(neighbors[i]) > 0 {
				w := 1 / float64(len(neighbors[i]))
				for _, j := range neighbors[i] {
					add(j, w)
				}
			}
		case SumWithSelf:
			self := false
			for _, j := range neighbors[i] {
				if !self && j > i {
					add(i, 1)
					self = true
				}
				add(j, 1)
			}
			if !self {
				add(i, 1)
			}
		}
		indptr[i+1] = len(ind)
	}

	return &Propagator{m: sparse.NewCSR(n, n, indptr, ind, data)}
}

// sortedNeighbors returns deduplicated, ascending neighbour lists so that
// aggregation order and therefore floating point results are reproducible.
func sortedNeighbors(n int, edges []Edge) [][]int {
	sets := make([]map[int]struct{}, n)
	for i := range sets {
		sets[i] = make(map[int]struct{})
	}
	for _, e := range edges {
		if e.Src == e.Dst {
			continue
		}
		sets[e.Src][e.Dst] = struct{}{}
		sets[e.Dst][e.Src] = struct{}{}
	}

	neighbors := make([][]int, n)
	for i, set := range sets {
		neighbors[i] = make([]int, 0, len(set))
		for j := range set {
			neighbors[i] = append(neighbors[i], j)
		}
		sort.Ints(neighbors[i])
	}
	return neighbors
}

// Size returns the number of nodes the operator acts on.
func (p *Propagator) Size() int {
	n, _ := p.m.Dims()
	return n
}

// Matrix exposes the operator as a sparse matrix.
func (p *Propagator) Matrix() *sparse.CSR {
	return p.m
}

// NNZ returns the number of stored entries.
func (p *Propagator) NNZ() int {
	return p.m.NNZ()
}

// Apply returns P * x.
func (p *Propagator) Apply(x *mat.Dense) *mat.Dense {
	return p.mul(x, false)
}

// ApplyT returns P^T * x.
func (p *Propagator) ApplyT(x *mat.Dense) *mat.Dense {
	return p.mul(x, true)
}

func (p *Propagator) mul(x *mat.Dense, trans bool) *mat.Dense {
	n, _ := p.m.Dims()
	_, c := x.Dims()
	out := mat.NewDense(n, c, nil)
	p.m.DoNonZero(func(i, j int, v float64) {
		if trans {
			i, j = j, i
		}
		floats.AddScaled(out.RawRowView(i), v, x.RawRowView(j))
	})
	return out
}
