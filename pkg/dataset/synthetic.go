package dataset

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
)

// SyntheticConfig parameterises the stochastic block model generator. PIn and
// POut are the edge probabilities within and across blocks, Noise is the
// standard deviation of node features around their class centre.
type SyntheticConfig struct {
	Nodes    int     `mapstructure:"nodes" json:"nodes"`
	Classes  int     `mapstructure:"classes" json:"classes"`
	Features int     `mapstructure:"features" json:"features"`
	PIn      float64 `mapstructure:"p_in" json:"p_in"`
	POut     float64 `mapstructure:"p_out" json:"p_out"`
	Noise    float64 `mapstructure:"noise" json:"noise"`
}

// DefaultSyntheticConfig returns a small, clearly clustered graph.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Nodes:    600,
		Classes:  4,
		Features: 32,
		PIn:      0.05,
		POut:     0.005,
		Noise:    1.0,
	}
}

func (c SyntheticConfig) validate() error {
	switch {
	case c.Nodes < c.Classes:
		return errs.Configf("synthetic graph needs at least one node per class (nodes=%d classes=%d)", c.Nodes, c.Classes)
	case c.Classes < 2:
		return errs.Configf("synthetic graph needs at least 2 classes, got %d", c.Classes)
	case c.Features < 1:
		return errs.Configf("synthetic graph needs at least 1 feature, got %d", c.Features)
	case c.PIn < 0 || c.PIn > 1 || c.POut < 0 || c.POut > 1:
		return errs.Configf("edge probabilities must be in [0,1] (p_in=%.3f p_out=%.3f)", c.PIn, c.POut)
	case c.Noise < 0:
		return errs.Configf("noise must be >= 0, got %.3f", c.Noise)
	}
	return nil
}

// GenerateSBM samples a stochastic block model whose blocks are the classes.
// Node features are Gaussian around a random per-class centre.
func GenerateSBM(cfg SyntheticConfig, seed uint64) (*graph.Graph, error) {
	if cfg == (SyntheticConfig{}) {
		cfg = DefaultSyntheticConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, 0x5b))

	centres := mat.NewDense(cfg.Classes, cfg.Features, nil)
	for c := 0; c < cfg.Classes; c++ {
		for j := 0; j < cfg.Features; j++ {
			centres.Set(c, j, rng.NormFloat64())
		}
	}

	labels := make([]int, cfg.Nodes)
	features := mat.NewDense(cfg.Nodes, cfg.Features, nil)
	for i := range labels {
		labels[i] = i % cfg.Classes
		for j := 0; j < cfg.Features; j++ {
			features.Set(i, j, centres.At(labels[i], j)+cfg.Noise*rng.NormFloat64())
		}
	}

	g := graph.NewGraph(fmt.Sprintf("%s-%d", Synthetic, cfg.Nodes), features, labels, cfg.Classes)
	for i := 0; i < cfg.Nodes; i++ {
		for j := i + 1; j < cfg.Nodes; j++ {
			p := cfg.POut
			if labels[i] == labels[j] {
				p = cfg.PIn
			}
			if rng.Float64() < p {
				if err := g.AddEdge(i, j); err != nil {
					return nil, err
				}
			}
		}
	}
	return g, nil
}
