// Package query runs bounded-neighbourhood inference queries against a
// trained model, the only access an attacker has to the target.
package query

import (
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/nn"
)

// Recorder counts answered node queries.
type Recorder interface {
	ObserveQueries(n int)
}

// Option configures a query.
type Option func(*options)

type options struct {
	recorder Recorder
}

// WithRecorder reports the number of answered nodes to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// Query returns one row of raw class scores for each requested node, in the
// order given. With hops == 0 the model sees the whole graph in a single
// pass; otherwise each node is answered from the induced subgraph of its
// hops-neighbourhood. The model always runs in inference mode.
func Query(model nn.Model, g *graph.Graph, nodes []int, hops int, opts ...Option) (*mat.Dense, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if len(nodes) == 0 {
		return nil, errs.Integrityf("query needs at least one node")
	}
	if hops < 0 {
		return nil, errs.Configf("hops must be >= 0, got %d", hops)
	}
	if err := g.CheckNodes(nodes); err != nil {
		return nil, err
	}

	var out *mat.Dense
	if hops == 0 {
		full := model.Forward(g, false)
		_, c := full.Dims()
		out = mat.NewDense(len(nodes), c, nil)
		for i, v := range nodes {
			out.SetRow(i, full.RawRowView(v))
		}
	} else {
		for i, v := range nodes {
			sub, pos, err := g.NeighborhoodSubgraph(v, hops)
			if err != nil {
				return nil, err
			}
			row := model.Forward(sub, false).RawRowView(pos)
			if out == nil {
				out = mat.NewDense(len(nodes), len(row), nil)
			}
			out.SetRow(i, row)
		}
	}

	if o.recorder != nil {
		o.recorder.ObserveQueries(len(nodes))
	}
	return out, nil
}
