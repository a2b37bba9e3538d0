package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
)

// sizeModel answers every node with (graph size, node feature, training flag).
type sizeModel struct {
	calls    int
	training bool
}

func (m *sizeModel) Name() string { return "size" }

func (m *sizeModel) Forward(g *graph.Graph, training bool) *mat.Dense {
	m.calls++
	m.training = m.training || training
	n := g.NumNodes()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, float64(n))
		out.Set(i, 1, g.Features.At(i, 0))
	}
	return out
}

type counter struct{ n int }

func (c *counter) ObserveQueries(n int) { c.n += n }

func starGraph(t *testing.T) *graph.Graph {
	t.Helper()
	// 0 is the centre, 1..4 are leaves, 5 hangs off 4.
	features := mat.NewDense(6, 1, []float64{10, 11, 12, 13, 14, 15})
	g := graph.NewGraph("star", features, []int{0, 1, 0, 1, 0, 1}, 2)
	for _, e := range [][2]int{{0, 1}, {0, 2}, {0, 3}, {0, 4}, {4, 5}} {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func TestQueryFullGraph(t *testing.T) {
	g := starGraph(t)
	m := &sizeModel{}
	rec := &counter{}

	out, err := Query(m, g, []int{5, 0}, 0, WithRecorder(rec))
	require.NoError(t, err)

	assert.Equal(t, 1, m.calls)
	assert.False(t, m.training)
	assert.Equal(t, []float64{6, 15}, out.RawRowView(0))
	assert.Equal(t, []float64{6, 10}, out.RawRowView(1))
	assert.Equal(t, 2, rec.n)
}

func TestQueryNeighborhoods(t *testing.T) {
	g := starGraph(t)
	m := &sizeModel{}

	out, err := Query(m, g, []int{0, 5, 1}, 1)
	require.NoError(t, err)

	assert.Equal(t, 3, m.calls)
	assert.False(t, m.training)
	// node 0 sees itself and four leaves
	assert.Equal(t, []float64{5, 10}, out.RawRowView(0))
	// node 5 sees itself and node 4
	assert.Equal(t, []float64{2, 15}, out.RawRowView(1))
	// node 1 sees itself and the centre
	assert.Equal(t, []float64{2, 11}, out.RawRowView(2))

	out, err = Query(m, g, []int{5}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 15}, out.RawRowView(0))
}

func TestQueryErrors(t *testing.T) {
	g := starGraph(t)
	m := &sizeModel{}

	_, err := Query(m, g, nil, 0)
	assert.True(t, errors.Is(err, errs.ErrDataIntegrity))

	_, err = Query(m, g, []int{6}, 0)
	assert.True(t, errors.Is(err, errs.ErrInvalidNodeIndex))

	_, err = Query(m, g, []int{0}, -1)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))

	assert.Equal(t, 0, m.calls)
}
