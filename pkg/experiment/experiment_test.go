package experiment

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/graph-mia/pkg/attack"
	"github.com/gilchrisn/graph-mia/pkg/config"
	"github.com/gilchrisn/graph-mia/pkg/dataset"
	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/metrics"
	"github.com/gilchrisn/graph-mia/pkg/report"
	"github.com/gilchrisn/graph-mia/pkg/scoring"
)

func smallGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := dataset.GenerateSBM(dataset.SyntheticConfig{
		Nodes: 120, Classes: 3, Features: 8, PIn: 0.15, POut: 0.01, Noise: 1.0,
	}, 1)
	require.NoError(t, err)
	return g
}

func experimentConfig(t *testing.T, overrides map[string]any) config.Experiment {
	t.Helper()
	c := config.New()
	c.Set("name", "test")
	c.Set("dataset", "synthetic")
	c.Set("epochs_target", 20)
	c.Set("epochs_attack", 10)
	c.Set("hidden_dim_target", 16)
	c.Set("hidden_dim_attack", []int{8})
	c.Set("lr", 0.01)
	c.Set("dropout", 0.0)
	c.Set("num_shadow_models", 2)
	c.Set("rmia_population_samples", 20)
	for k, v := range overrides {
		c.Set(k, v)
	}
	e, err := c.Experiment()
	require.NoError(t, err)
	return e
}

func statKeys(stats []report.Stat) []string {
	keys := make([]string, len(stats))
	for i, s := range stats {
		keys[i] = s.Key
	}
	return keys
}

func TestSingleRepetitionReportsRawKeys(t *testing.T) {
	cfg := experimentConfig(t, map[string]any{"attack": "confidence", "experiments": 1})

	summary, err := NewRunner(cfg, smallGraph(t)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, attack.MetricKeys, statKeys(summary.Stats))
	assert.Len(t, summary.Repetitions, 1)
	assert.Equal(t, summary.Repetitions[0].ROC, summary.BestROC)
	for _, s := range summary.Stats {
		assert.GreaterOrEqual(t, s.Value, 0.0, s.Key)
		assert.LessOrEqual(t, s.Value, 1.0, s.Key)
	}
}

func TestRepeatedExperimentReportsMeanAndStdev(t *testing.T) {
	cfg := experimentConfig(t, map[string]any{"attack": "confidence", "experiments": 3})
	reg := metrics.NewRegistry()
	path := filepath.Join(t.TempDir(), report.RepetitionsFile)
	tracker, err := report.NewTracker(path)
	require.NoError(t, err)

	summary, err := NewRunner(cfg, smallGraph(t), WithMetrics(reg), WithTracker(tracker)).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, tracker.Close())

	var want []string
	for _, k := range attack.MetricKeys {
		want = append(want, k+"_mean", k+"_stdev")
	}
	assert.Equal(t, want, statKeys(summary.Stats))
	require.Len(t, summary.Repetitions, 3)

	best := summary.Repetitions[summary.BestRepetition]
	for _, m := range summary.Repetitions {
		assert.LessOrEqual(t, m.AUROC, best.AUROC)
	}
	assert.Equal(t, best.ROC, summary.BestROC)

	assert.Equal(t, 3.0, testutil.ToFloat64(reg.Repetitions.WithLabelValues("test", "confidence")))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.ModelsTrained.WithLabelValues(metrics.RoleTarget)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := experimentConfig(t, map[string]any{"attack": "confidence", "experiments": 2, "seed": 7})
	g := smallGraph(t)

	a, err := NewRunner(cfg, g).Run(context.Background())
	require.NoError(t, err)
	b, err := NewRunner(cfg, g).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.Stats, b.Stats)
}

func TestAttacksEndToEnd(t *testing.T) {
	for _, kind := range []string{"basic-shadow", "lira", "rmia"} {
		t.Run(kind, func(t *testing.T) {
			cfg := experimentConfig(t, map[string]any{"attack": kind, "experiments": 1})
			reg := metrics.NewRegistry()

			summary, err := NewRunner(cfg, smallGraph(t), WithMetrics(reg)).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, attack.Kind(kind), summary.Attack)
			assert.Len(t, summary.Stats, len(attack.MetricKeys))
			assert.Greater(t, testutil.ToFloat64(reg.ModelsTrained.WithLabelValues(metrics.RoleShadow)), 0.0)
		})
	}
}

func TestDivergingTrainingAbortsRun(t *testing.T) {
	cfg := experimentConfig(t, map[string]any{"attack": "lira", "experiments": 2, "lr": 1e305, "optimizer": "SGD", "workers": 2})
	reg := metrics.NewRegistry()
	path := filepath.Join(t.TempDir(), report.RepetitionsFile)
	tracker, err := report.NewTracker(path)
	require.NoError(t, err)

	summary, err := NewRunner(cfg, smallGraph(t), WithMetrics(reg), WithTracker(tracker)).Run(context.Background())
	require.NoError(t, tracker.Close())
	assert.True(t, errors.Is(err, errs.ErrTrainingFailure))
	assert.Contains(t, err.Error(), "repetition 0")
	assert.Nil(t, summary)

	assert.Equal(t, 0.0, testutil.ToFloat64(reg.Repetitions.WithLabelValues("test", "lira")))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestCancelledRun(t *testing.T) {
	cfg := experimentConfig(t, map[string]any{"attack": "confidence"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(cfg, smallGraph(t)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregate(t *testing.T) {
	stats, err := Aggregate("auroc", []float64{0.7}, false)
	require.NoError(t, err)
	assert.Equal(t, []report.Stat{{Key: "auroc", Value: 0.7}}, stats)

	stats, err = Aggregate("auroc", []float64{0.5, 0.7, 0.9}, true)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "auroc_mean", stats[0].Key)
	assert.InDelta(t, 0.7, stats[0].Value, 1e-12)
	assert.Equal(t, "auroc_stdev", stats[1].Key)
	assert.InDelta(t, 0.2, stats[1].Value, 1e-12)

	_, err = Aggregate("auroc", []float64{0.7}, true)
	assert.True(t, errors.Is(err, errs.ErrInsufficientRepetitions))
	assert.True(t, errors.Is(err, errs.ErrNumericalDegeneracy))

	_, err = Aggregate("auroc", nil, false)
	assert.True(t, errors.Is(err, errs.ErrInsufficientRepetitions))
}

func TestSummariseKeepsBestROC(t *testing.T) {
	low := &attack.Metrics{AUROC: 0.6, ROC: scoring.Curve{FPR: []float64{0, 1}, TPR: []float64{0, 1}}}
	high := &attack.Metrics{AUROC: 0.9, ROC: scoring.Curve{FPR: []float64{0, 0.1, 1}, TPR: []float64{0, 0.8, 1}}}

	s, err := Summarise("x", attack.LiRAKind, []*attack.Metrics{low, high, low})
	require.NoError(t, err)
	assert.Equal(t, 1, s.BestRepetition)
	assert.Equal(t, high.ROC, s.BestROC)
	assert.Equal(t, "x", s.Record().Name)
	assert.Equal(t, high.ROC, s.ROC().Curve)

	_, err = Summarise("x", attack.LiRAKind, nil)
	assert.True(t, errors.Is(err, errs.ErrInsufficientRepetitions))
}
