package shadow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/dataset"
	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/metrics"
	"github.com/gilchrisn/graph-mia/pkg/nn"
	"github.com/gilchrisn/graph-mia/pkg/trainer"
)

func population(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := dataset.GenerateSBM(dataset.SyntheticConfig{
		Nodes: 90, Classes: 3, Features: 6, PIn: 0.15, POut: 0.01, Noise: 1,
	}, 21)
	require.NoError(t, err)
	return g
}

func testConfig(k, workers int) Config {
	return Config{
		NumModels:   k,
		SampleRatio: 0.5,
		Workers:     workers,
		Seed:        42,
		Model:       nn.Spec{Arch: nn.GCN, Hidden: 8, Dropout: 0.2},
		Train: trainer.Config{
			Device:    "cpu",
			Epochs:    15,
			LR:        0.01,
			Optimizer: "Adam",
		},
		Masks: dataset.DefaultMaskFractions(),
	}
}

func TestTrainEnsemble(t *testing.T) {
	pop := population(t)
	reg := metrics.NewRegistry()

	e, err := Train(context.Background(), pop, testConfig(3, 1), WithMetrics(reg))
	require.NoError(t, err)

	assert.Equal(t, 3, e.Size())
	for _, m := range e.Models() {
		assert.Equal(t, 45, m.Graph.NumNodes())
		assert.Equal(t, 15, m.History.Epochs())
	}
	ids := e.TrainedNodeIDs()
	assert.NotEmpty(t, ids)
	for id := range ids {
		assert.Less(t, id, pop.NumNodes())
	}
	assert.NotEqual(t, e.Models()[0].Graph.NodeIDs, e.Models()[1].Graph.NodeIDs)
}

func TestStatisticsIdempotent(t *testing.T) {
	pop := population(t)
	e, err := Train(context.Background(), pop, testConfig(3, 1))
	require.NoError(t, err)

	nodes := []int{0, 5, 17, 40, 89}
	means1, stds1, err := e.Statistics(context.Background(), pop, nodes)
	require.NoError(t, err)
	means2, stds2, err := e.Statistics(context.Background(), pop, nodes)
	require.NoError(t, err)

	assert.Equal(t, means1, means2)
	assert.Equal(t, stds1, stds2)
	assert.Len(t, means1, len(nodes))
	for _, s := range stds1 {
		assert.GreaterOrEqual(t, s, 0.0)
	}
}

func TestTrainIndependentOfWorkers(t *testing.T) {
	pop := population(t)
	nodes := pop.AllNodes()

	seq, err := Train(context.Background(), pop, testConfig(4, 1))
	require.NoError(t, err)
	par, err := Train(context.Background(), pop, testConfig(4, 4))
	require.NoError(t, err)

	m1, s1, err := seq.Statistics(context.Background(), pop, nodes)
	require.NoError(t, err)
	m2, s2, err := par.Statistics(context.Background(), pop, nodes)
	require.NoError(t, err)

	assert.Equal(t, m1, m2)
	assert.Equal(t, s1, s2)
}

func TestStatisticsNeedsTwoModels(t *testing.T) {
	pop := population(t)
	e, err := Train(context.Background(), pop, testConfig(1, 1))
	require.NoError(t, err)

	_, _, err = e.Statistics(context.Background(), pop, []int{0, 1})
	assert.True(t, errors.Is(err, errs.ErrNumericalDegeneracy))
}

func TestConfidenceMatrixShapeMismatch(t *testing.T) {
	pop := population(t)
	e, err := Train(context.Background(), pop, testConfig(2, 1))
	require.NoError(t, err)

	short := func(out mat.Matrix, labels []int) ([]float64, error) {
		return []float64{0}, nil
	}
	_, err = e.ConfidenceMatrix(context.Background(), pop, []int{0, 1, 2}, short)
	assert.True(t, errors.Is(err, errs.ErrDataIntegrity))

	_, err = e.ConfidenceMatrix(context.Background(), pop, []int{1000}, short)
	assert.True(t, errors.Is(err, errs.ErrInvalidNodeIndex))
}

func TestTrainRejectsConfig(t *testing.T) {
	pop := population(t)

	cfg := testConfig(0, 1)
	_, err := Train(context.Background(), pop, cfg)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))

	cfg = testConfig(2, 1)
	cfg.SampleRatio = 1.5
	_, err = Train(context.Background(), pop, cfg)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))

	cfg = testConfig(2, 1)
	cfg.Model.Arch = "GAT"
	_, err = Train(context.Background(), pop, cfg)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestTrainDivergingModelFails(t *testing.T) {
	cfg := testConfig(3, 2)
	cfg.Train.LR = 1e305
	cfg.Train.Optimizer = "SGD"

	e, err := Train(context.Background(), population(t), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTrainingFailure))
	assert.Contains(t, err.Error(), "shadow model")
	assert.Nil(t, e)
}

func TestTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, population(t), testConfig(3, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestColumnStats(t *testing.T) {
	m := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})
	means, stds, err := ColumnStats(m)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 5}, means)
	assert.InDelta(t, 1.2909944487358056, stds[0], 1e-12)
	assert.Equal(t, 0.0, stds[1])

	_, _, err = ColumnStats(mat.NewDense(1, 3, nil))
	assert.True(t, errors.Is(err, errs.ErrNumericalDegeneracy))

	_, _, err = ColumnStats(nil)
	assert.True(t, errors.Is(err, errs.ErrDataIntegrity))
}
