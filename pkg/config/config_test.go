package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/graph-mia/pkg/attack"
	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/nn"
)

func TestDefaults(t *testing.T) {
	e, err := New().Experiment()
	require.NoError(t, err)

	assert.Equal(t, "unnamed", e.Name)
	assert.Equal(t, attack.BasicShadowKind, e.Kind())
	assert.Equal(t, "cora", e.Dataset)
	assert.Equal(t, "sampled", e.Split)
	assert.Equal(t, nn.GCN, e.Model)
	assert.Equal(t, 32, e.BatchSize)
	assert.Equal(t, 100, e.EpochsTarget)
	assert.Equal(t, 100, e.EpochsAttack)
	assert.Equal(t, 1e-3, e.LR)
	assert.Equal(t, 0.2, e.Dropout)
	assert.Equal(t, 256, e.HiddenDimTarget)
	assert.Equal(t, []int{128, 64}, e.HiddenDimAttack)
	assert.Equal(t, 0, e.QueryHops)
	assert.Equal(t, 1, e.Experiments)
	assert.Equal(t, "adam", e.Optimizer)
	assert.Equal(t, 64, e.NumShadowModels)
	assert.Equal(t, 0.6, e.RMIAOfflineInterpParam)
	assert.Equal(t, 1.0, e.RMIAGamma)
	assert.Equal(t, 1000, e.RMIAPopulationSamples)
	assert.Equal(t, 0.5, e.ConfidenceThreshold)
	assert.Equal(t, "cpu", e.Device)
	assert.Equal(t, 600, e.Synthetic.Nodes)
	assert.Equal(t, "./data", e.DataDir)
	assert.Equal(t, "./results", e.SaveDir)
}

func TestNormalisesNames(t *testing.T) {
	c := New()
	c.Set("attack", "LiRA-offline")
	c.Set("model", "graphsage")
	c.Set("optimizer", "SGD")
	c.Set("dataset", "Synthetic")

	e, err := c.Experiment()
	require.NoError(t, err)
	assert.Equal(t, attack.LiRAKind, e.Kind())
	assert.Equal(t, nn.GraphSAGE, e.Model)
	assert.Equal(t, "sgd", e.Optimizer)
	assert.Equal(t, "synthetic", e.Dataset)
}

func TestRejectsInvalid(t *testing.T) {
	tests := map[string]any{
		"attack":                    "online-lira",
		"model":                     "GAT",
		"split":                     "random",
		"dataset":                   "pubmed",
		"optimizer":                 "rmsprop",
		"device":                    "cuda",
		"lr":                        0.0,
		"dropout":                   1.0,
		"experiments":               0,
		"num_shadow_models":         0,
		"rmia_offline_interp_param": 1.5,
		"rmia_gamma":                0.0,
		"shadow_sample_ratio":       0.0,
		"hidden_dim_attack":         []int{64, 0},
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			c := New()
			c.Set(key, value)
			_, err := c.Experiment()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrConfiguration), err.Error())
		})
	}
}

func TestLiRANeedsTwoShadowModels(t *testing.T) {
	c := New()
	c.Set("attack", "lira")
	c.Set("num_shadow_models", 1)
	_, err := c.Experiment()
	assert.True(t, errors.Is(err, errs.ErrConfiguration))

	c.Set("num_shadow_models", 2)
	_, err = c.Experiment()
	assert.NoError(t, err)

	c = New()
	c.Set("attack", "rmia")
	c.Set("num_shadow_models", 1)
	_, err = c.Experiment()
	assert.NoError(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mia.yaml")
	require.NoError(t, os.WriteFile(path, []byte("attack: rmia\nnum_shadow_models: 8\nsynthetic:\n  nodes: 200\n"), 0o644))

	c := New()
	require.NoError(t, c.LoadFromFile(path))
	e, err := c.Experiment()
	require.NoError(t, err)
	assert.Equal(t, attack.RMIAKind, e.Kind())
	assert.Equal(t, 8, e.NumShadowModels)
	assert.Equal(t, 200, e.Synthetic.Nodes)
	assert.Equal(t, 4, e.Synthetic.Classes)

	err = New().LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("MIA_EPOCHS_TARGET", "7")

	e, err := New().Experiment()
	require.NoError(t, err)
	assert.Equal(t, 7, e.EpochsTarget)
}

func TestFlags(t *testing.T) {
	c := New()
	fs := pflag.NewFlagSet("mia", pflag.ContinueOnError)
	c.AddFlags(fs)
	require.NoError(t, c.BindFlags(fs))
	require.NoError(t, fs.Parse([]string{"--attack", "confidence", "--epochs-target", "12", "--hidden-dim-attack", "32,16"}))

	e, err := c.Experiment()
	require.NoError(t, err)
	assert.Equal(t, attack.ConfidenceKind, e.Kind())
	assert.Equal(t, 12, e.EpochsTarget)
	assert.Equal(t, []int{32, 16}, e.HiddenDimAttack)
	assert.Equal(t, 100, e.EpochsAttack)
}

func TestDerivedConfigs(t *testing.T) {
	c := New()
	c.Set("epochs_attack", 5)
	c.Set("lr", 0.01)
	e, err := c.Experiment()
	require.NoError(t, err)

	target := e.TargetTrain()
	assert.Equal(t, 100, target.Epochs)
	assert.Equal(t, 0.01, target.LR)

	at := e.AttackTrain()
	assert.Equal(t, 5, at.Epochs)
	assert.Equal(t, AttackLR, at.LR)

	sc := e.ShadowConfig(11)
	assert.Equal(t, uint64(11), sc.Seed)
	assert.Equal(t, 64, sc.NumModels)
	assert.NoError(t, sc.Validate())

	spec := e.TargetSpec(10, 3)
	assert.Equal(t, nn.Spec{Arch: nn.GCN, NumFeatures: 10, Hidden: 256, NumClasses: 3, Dropout: 0.2}, spec)

	assert.Equal(t, 0.6, e.RMIAConfig(1).InterpParam)
	assert.Equal(t, []int{128, 64}, e.BasicShadowConfig(1).AttackHidden)
}

func TestParseBatch(t *testing.T) {
	doc := []byte(`
second:
  attack: lira
  dataset: citeseer
  split: disjoint
  model: GCN
  experiments: 2
first:
  attack: confidence
  dataset: cora
  split: sampled
  model: SGC
  name: custom
`)
	exps, err := ParseBatch(doc, map[string]any{"savedir": "out"})
	require.NoError(t, err)
	require.Len(t, exps, 2)

	assert.Equal(t, "lira-citeseer-disjoint-GCN", exps[0].Name)
	assert.Equal(t, 10, exps[0].Experiments, "static parameters override entries")
	assert.True(t, exps[0].EarlyStopping)
	assert.Equal(t, "out", exps[0].SaveDir)

	assert.Equal(t, "custom", exps[1].Name)
	assert.Equal(t, nn.SGC, exps[1].Model)
}

func TestParseBatchErrors(t *testing.T) {
	_, err := ParseBatch([]byte(""), nil)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))

	_, err = ParseBatch([]byte("- a\n- b\n"), nil)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))

	_, err = ParseBatch([]byte("x:\n  attack: nope\n"), nil)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
	assert.Equal(t, 1, strings.Count(err.Error(), errs.ErrConfiguration.Error()), err.Error())
	assert.Contains(t, err.Error(), `batch entry "x"`)

	_, err = ParseBatch([]byte("x: [1, 2]\n"), nil)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
	assert.Equal(t, 1, strings.Count(err.Error(), errs.ErrConfiguration.Error()), err.Error())

	_, err = LoadBatch(filepath.Join(t.TempDir(), "none.yaml"), nil)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}
