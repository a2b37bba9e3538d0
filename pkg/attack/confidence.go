package attack

import (
	"context"

	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/nn"
	"github.com/gilchrisn/graph-mia/pkg/query"
	"github.com/gilchrisn/graph-mia/pkg/scoring"
)

// ConfidenceConfig configures the confidence threshold attack.
type ConfidenceConfig struct {
	QueryHops int
	Threshold float64
}

// Confidence predicts "member" when the target's top softmax probability
// reaches the threshold.
type Confidence struct {
	target nn.Model
	cfg    ConfidenceConfig
	o      options
}

// NewConfidence creates a confidence attack on target.
func NewConfidence(target nn.Model, cfg ConfidenceConfig, opts ...Option) *Confidence {
	return &Confidence{target: target, cfg: cfg, o: newOptions(opts)}
}

func (a *Confidence) Kind() Kind {
	return ConfidenceKind
}

func (a *Confidence) Run(ctx context.Context, samples *graph.Graph) (*Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := query.Query(a.target, samples, samples.AllNodes(), a.cfg.QueryHops, query.WithRecorder(a.o.metrics))
	if err != nil {
		return nil, err
	}
	return evaluate(a.target, samples, scoring.MaxSoftmaxConfidence(out), a.cfg.Threshold)
}
