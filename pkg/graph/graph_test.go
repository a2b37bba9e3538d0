package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
)

// chainGraph builds 0 - 1 - 2 - ... - (n-1) with one-hot-ish features.
func chainGraph(t *testing.T, n int) *Graph {
	t.Helper()
	features := mat.NewDense(n, 2, nil)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		features.Set(i, 0, float64(i))
		features.Set(i, 1, 1)
		labels[i] = i % 2
	}
	g := NewGraph("chain", features, labels, 2)
	for i := 0; i+1 < n; i++ {
		require.NoError(t, g.AddEdge(i, i+1))
	}
	return g
}

func TestValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		g := chainGraph(t, 4)
		assert.NoError(t, g.Validate())
	})

	t.Run("OverlappingMasks", func(t *testing.T) {
		g := chainGraph(t, 4)
		g.TrainMask[1] = true
		g.TestMask[1] = true
		err := g.Validate()
		assert.True(t, errors.Is(err, errs.ErrDataIntegrity))
	})

	t.Run("LabelOutOfRange", func(t *testing.T) {
		g := chainGraph(t, 4)
		g.Labels[2] = 5
		assert.True(t, errors.Is(g.Validate(), errs.ErrDataIntegrity))
	})

	t.Run("EdgeOutOfRange", func(t *testing.T) {
		g := chainGraph(t, 4)
		g.Edges = append(g.Edges, Edge{Src: 0, Dst: 9})
		assert.True(t, errors.Is(g.Validate(), errs.ErrInvalidNodeIndex))
	})
}

func TestAddEdgeRejectsInvalidIndex(t *testing.T) {
	g := chainGraph(t, 3)
	err := g.AddEdge(0, 3)
	assert.True(t, errors.Is(err, errs.ErrInvalidNodeIndex))
}

func TestInducedSubgraph(t *testing.T) {
	g := chainGraph(t, 5)
	g.TrainMask[3] = true

	sub, err := g.InducedSubgraph([]int{3, 1, 2})
	require.NoError(t, err)

	assert.Equal(t, 3, sub.NumNodes())
	assert.Equal(t, []int{3, 1, 2}, sub.NodeIDs)
	assert.Equal(t, []bool{true, false, false}, sub.TrainMask)
	assert.Equal(t, 3.0, sub.Features.At(0, 0))
	// 1-2 and 2-3 survive, 0-1 and 3-4 do not.
	assert.ElementsMatch(t, []Edge{{Src: 1, Dst: 2}, {Src: 2, Dst: 0}}, sub.Edges)
	assert.NoError(t, sub.Validate())

	_, err = g.InducedSubgraph([]int{1, 1})
	assert.True(t, errors.Is(err, errs.ErrDataIntegrity))

	_, err = g.InducedSubgraph([]int{7})
	assert.True(t, errors.Is(err, errs.ErrInvalidNodeIndex))
}

func TestCloneIsDeep(t *testing.T) {
	g := chainGraph(t, 3)
	c := g.Clone()
	c.Labels[0] = 1
	c.Features.Set(0, 0, 42)
	assert.Equal(t, 0, g.Labels[0])
	assert.Equal(t, 0.0, g.Features.At(0, 0))
}

func TestNeighborhood(t *testing.T) {
	g := chainGraph(t, 6)

	tests := []struct {
		node, hops int
		want       []int
	}{
		{node: 0, hops: 0, want: []int{0}},
		{node: 0, hops: 1, want: []int{0, 1}},
		{node: 0, hops: 2, want: []int{0, 1, 2}},
		{node: 3, hops: 1, want: []int{2, 3, 4}},
		{node: 3, hops: 10, want: []int{0, 1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		got, err := g.Neighborhood(tt.node, tt.hops)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "node %d hops %d", tt.node, tt.hops)
	}

	_, err := g.Neighborhood(6, 1)
	assert.True(t, errors.Is(err, errs.ErrInvalidNodeIndex))
	_, err = g.Neighborhood(0, -1)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestNeighborhoodSubgraph(t *testing.T) {
	g := chainGraph(t, 6)
	sub, pos, err := g.NeighborhoodSubgraph(3, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.NumNodes())
	assert.Equal(t, 3, sub.NodeIDs[pos])
}

func TestPropagators(t *testing.T) {
	g := chainGraph(t, 3)
	x := mat.NewDense(3, 1, []float64{1, 1, 1})

	t.Run("Mean", func(t *testing.T) {
		out := g.Propagator(MeanAggregation).Apply(x)
		for i := 0; i < 3; i++ {
			assert.InDelta(t, 1.0, out.At(i, 0), 1e-12)
		}
	})

	t.Run("SumWithSelf", func(t *testing.T) {
		out := g.Propagator(SumWithSelf).Apply(x)
		assert.Equal(t, []float64{2, 3, 2}, mat.Col(nil, 0, out))
	})

	t.Run("GCNIsSymmetric", func(t *testing.T) {
		p := g.Propagator(GCNNorm)
		y := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
		assert.True(t, mat.EqualApprox(p.Apply(y), p.ApplyT(y), 1e-12))
	})

	t.Run("MeanTranspose", func(t *testing.T) {
		// <P x, y> == <x, P^T y>
		p := g.Propagator(MeanAggregation)
		a := mat.NewDense(3, 1, []float64{1, 2, 3})
		b := mat.NewDense(3, 1, []float64{4, -1, 2})
		lhs := mat.Dot(p.Apply(a).ColView(0), b.ColView(0))
		rhs := mat.Dot(a.ColView(0), p.ApplyT(b).ColView(0))
		assert.InDelta(t, lhs, rhs, 1e-12)
	})

	t.Run("Cached", func(t *testing.T) {
		assert.Same(t, g.Propagator(GCNNorm), g.Propagator(GCNNorm))
	})

	t.Run("MatchesDenseProduct", func(t *testing.T) {
		p := g.Propagator(GCNNorm)
		assert.Equal(t, 3, p.Size())
		assert.Equal(t, 7, p.NNZ())
		assert.InDelta(t, 0.5, p.Matrix().At(0, 0), 1e-12)
		assert.InDelta(t, 1/math.Sqrt(6), p.Matrix().At(0, 1), 1e-12)
		assert.Equal(t, 0.0, p.Matrix().At(0, 2))

		y := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
		var want, wantT mat.Dense
		want.Mul(p.Matrix(), y)
		wantT.Mul(p.Matrix().T(), y)
		assert.True(t, mat.EqualApprox(&want, p.Apply(y), 1e-12))
		assert.True(t, mat.EqualApprox(&wantT, p.ApplyT(y), 1e-12))
	})
}

func TestMaskedNodesAndIDSet(t *testing.T) {
	g := chainGraph(t, 4)
	g.NodeIDs = []int{10, 11, 12, 13}
	g.TrainMask = []bool{true, false, true, false}

	members := MaskedNodes(g.TrainMask)
	assert.Equal(t, []int{0, 2}, members)
	assert.Equal(t, map[int]struct{}{10: {}, 12: {}}, g.IDSet(members))
}
