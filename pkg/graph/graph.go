// Package graph holds the attributed node-classification graph that target,
// shadow and attack models are trained and queried on.
package graph

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
)

// Edge is a directed edge between two local node indices.
type Edge struct {
	Src int `json:"src"`
	Dst int `json:"dst"`
}

// Graph represents a node-classification graph with supervised-training masks.
// TrainMask is the membership ground truth: a node is a member of a model
// trained on this graph iff its TrainMask entry is true.
type Graph struct {
	Name       string     `json:"name"`
	NodeIDs    []int      `json:"node_ids"` // dataset-level identity of each local node
	Features   *mat.Dense `json:"-"`        // n x f node feature matrix
	Edges      []Edge     `json:"edges"`
	Labels     []int      `json:"labels"`
	NumClasses int        `json:"num_classes"`
	TrainMask  []bool     `json:"train_mask"`
	ValidMask  []bool     `json:"valid_mask"`
	TestMask   []bool     `json:"test_mask"`

	mu    sync.Mutex
	topo  *simple.UndirectedGraph
	props map[PropagationKind]*Propagator
}

// NewGraph creates a graph over the given features and labels. Node i gets
// dataset identity i and all masks start out empty.
func NewGraph(name string, features *mat.Dense, labels []int, numClasses int) *Graph {
	n := len(labels)
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return &Graph{
		Name:       name,
		NodeIDs:    ids,
		Features:   features,
		Labels:     labels,
		NumClasses: numClasses,
		TrainMask:  make([]bool, n),
		ValidMask:  make([]bool, n),
		TestMask:   make([]bool, n),
	}
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int {
	return len(g.Labels)
}

// NumFeatures returns the width of the feature matrix.
func (g *Graph) NumFeatures() int {
	if g.Features == nil {
		return 0
	}
	_, c := g.Features.Dims()
	return c
}

// AddEdge adds a directed edge between two local node indices.
func (g *Graph) AddEdge(src, dst int) error {
	n := g.NumNodes()
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return fmt.Errorf("%w: edge %d->%d, numNodes=%d", errs.ErrInvalidNodeIndex, src, dst, n)
	}
	g.Edges = append(g.Edges, Edge{Src: src, Dst: dst})
	g.invalidate()
	return nil
}

// Validate checks graph consistency.
func (g *Graph) Validate() error {
	n := g.NumNodes()
	if n == 0 {
		return errs.Integrityf("graph %q has no nodes", g.Name)
	}
	if g.Features == nil {
		return errs.Integrityf("graph %q has no features", g.Name)
	}
	if r, _ := g.Features.Dims(); r != n {
		return errs.Integrityf("graph %q: %d feature rows for %d nodes", g.Name, r, n)
	}
	if len(g.NodeIDs) != n || len(g.TrainMask) != n || len(g.ValidMask) != n || len(g.TestMask) != n {
		return errs.Integrityf("graph %q: node ids and masks must have length %d", g.Name, n)
	}
	if g.NumClasses < 2 {
		return errs.Integrityf("graph %q: need at least 2 classes, got %d", g.Name, g.NumClasses)
	}

	for i, y := range g.Labels {
		if y < 0 || y >= g.NumClasses {
			return errs.Integrityf("graph %q: label %d of node %d outside [0,%d)", g.Name, y, i, g.NumClasses)
		}
		set := 0
		for _, m := range []bool{g.TrainMask[i], g.ValidMask[i], g.TestMask[i]} {
			if m {
				set++
			}
		}
		if set > 1 {
			return errs.Integrityf("graph %q: node %d is in more than one mask", g.Name, i)
		}
	}

	for _, e := range g.Edges {
		if e.Src < 0 || e.Src >= n || e.Dst < 0 || e.Dst >= n {
			return fmt.Errorf("%w: edge %d->%d in graph %q", errs.ErrInvalidNodeIndex, e.Src, e.Dst, g.Name)
		}
	}

	return nil
}

// CheckNodes fails with ErrInvalidNodeIndex if any index is out of range.
func (g *Graph) CheckNodes(nodes []int) error {
	n := g.NumNodes()
	for _, v := range nodes {
		if v < 0 || v >= n {
			return fmt.Errorf("%w: %d not in [0,%d)", errs.ErrInvalidNodeIndex, v, n)
		}
	}
	return nil
}

// AllNodes returns the local indices 0..n-1.
func (g *Graph) AllNodes() []int {
	nodes := make([]int, g.NumNodes())
	for i := range nodes {
		nodes[i] = i
	}
	return nodes
}

// MaskedNodes returns the local indices whose mask entry is set.
func MaskedNodes(mask []bool) []int {
	nodes := make([]int, 0, len(mask))
	for i, m := range mask {
		if m {
			nodes = append(nodes, i)
		}
	}
	return nodes
}

// IDSet returns the dataset-level identities of the given local nodes.
func (g *Graph) IDSet(nodes []int) map[int]struct{} {
	set := make(map[int]struct{}, len(nodes))
	for _, v := range nodes {
		set[g.NodeIDs[v]] = struct{}{}
	}
	return set
}

// InducedSubgraph extracts the subgraph spanned by nodes. Local index i of the
// result corresponds to nodes[i]; node identities, labels and masks are kept.
func (g *Graph) InducedSubgraph(nodes []int) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, errs.Integrityf("induced subgraph of %q needs at least one node", g.Name)
	}
	if err := g.CheckNodes(nodes); err != nil {
		return nil, err
	}

	local := make(map[int]int, len(nodes))
	for i, v := range nodes {
		if _, dup := local[v]; dup {
			return nil, errs.Integrityf("node %d listed twice in subgraph of %q", v, g.Name)
		}
		local[v] = i
	}

	f := g.NumFeatures()
	sub := &Graph{
		Name:       g.Name,
		NodeIDs:    make([]int, len(nodes)),
		Features:   mat.NewDense(len(nodes), f, nil),
		Labels:     make([]int, len(nodes)),
		NumClasses: g.NumClasses,
		TrainMask:  make([]bool, len(nodes)),
		ValidMask:  make([]bool, len(nodes)),
		TestMask:   make([]bool, len(nodes)),
	}
	for i, v := range nodes {
		sub.NodeIDs[i] = g.NodeIDs[v]
		sub.Features.SetRow(i, g.Features.RawRowView(v))
		sub.Labels[i] = g.Labels[v]
		sub.TrainMask[i] = g.TrainMask[v]
		sub.ValidMask[i] = g.ValidMask[v]
		sub.TestMask[i] = g.TestMask[v]
	}
	for _, e := range g.Edges {
		s, okS := local[e.Src]
		d, okD := local[e.Dst]
		if okS && okD {
			sub.Edges = append(sub.Edges, Edge{Src: s, Dst: d})
		}
	}

	return sub, nil
}

// Clone creates a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		Name:       g.Name,
		NodeIDs:    append([]int(nil), g.NodeIDs...),
		Edges:      append([]Edge(nil), g.Edges...),
		Labels:     append([]int(nil), g.Labels...),
		NumClasses: g.NumClasses,
		TrainMask:  append([]bool(nil), g.TrainMask...),
		ValidMask:  append([]bool(nil), g.ValidMask...),
		TestMask:   append([]bool(nil), g.TestMask...),
	}
	if g.Features != nil {
		clone.Features = mat.DenseCopyOf(g.Features)
	}
	return clone
}

// invalidate drops cached structure after an edge mutation.
func (g *Graph) invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.topo = nil
	g.props = nil
}
