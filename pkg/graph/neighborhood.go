package graph

import (
	"sort"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/gilchrisn/graph-mia/pkg/errs"
)

// topology returns the undirected view of the edge list used for
// neighbourhood traversal. Self loops are dropped.
func (g *Graph) topology() *simple.UndirectedGraph {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.topo != nil {
		return g.topo
	}

	u := simple.NewUndirectedGraph()
	for i := 0; i < g.NumNodes(); i++ {
		u.AddNode(simple.Node(int64(i)))
	}
	for _, e := range g.Edges {
		if e.Src == e.Dst {
			continue
		}
		u.SetEdge(simple.Edge{F: simple.Node(int64(e.Src)), T: simple.Node(int64(e.Dst))})
	}
	g.topo = u
	return u
}

// Neighborhood returns the sorted local indices of all nodes within hops
// edges of node, node included. Edge direction is ignored.
func (g *Graph) Neighborhood(node, hops int) ([]int, error) {
	if err := g.CheckNodes([]int{node}); err != nil {
		return nil, err
	}
	if hops < 0 {
		return nil, errs.Configf("hops must be >= 0, got %d", hops)
	}
	if hops == 0 {
		return []int{node}, nil
	}

	topo := g.topology()
	reached := make([]int, 0)

	var bfs traverse.BreadthFirst
	bfs.Walk(topo, simple.Node(int64(node)), func(n gonumgraph.Node, depth int) bool {
		if depth > hops {
			return true
		}
		reached = append(reached, int(n.ID()))
		return false
	})

	sort.Ints(reached)
	return reached, nil
}

// NeighborhoodSubgraph extracts the induced subgraph of node's hops
// neighbourhood and returns the position of node inside it.
func (g *Graph) NeighborhoodSubgraph(node, hops int) (*Graph, int, error) {
	nodes, err := g.Neighborhood(node, hops)
	if err != nil {
		return nil, 0, err
	}
	sub, err := g.InducedSubgraph(nodes)
	if err != nil {
		return nil, 0, err
	}
	pos := sort.SearchInts(nodes, node)
	return sub, pos, nil
}
