package dataset

import (
	"math/rand/v2"
	"sort"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
)

// SplitMode controls whether target and shadow graphs may share nodes.
type SplitMode string

const (
	// SplitSampled draws target and shadow graphs independently; they may overlap.
	SplitSampled SplitMode = "sampled"
	// SplitDisjoint guarantees that target and shadow graphs share no node.
	SplitDisjoint SplitMode = "disjoint"
)

// ParseSplitMode converts a configuration string to a SplitMode.
func ParseSplitMode(s string) (SplitMode, error) {
	switch SplitMode(s) {
	case SplitSampled, SplitDisjoint:
		return SplitMode(s), nil
	default:
		return "", errs.Configf("unsupported split %q (sampled, disjoint)", s)
	}
}

// MaskFractions sets the share of nodes assigned to the train and validation
// masks of a freshly sampled graph. The remainder becomes the test mask.
type MaskFractions struct {
	Train float64 `json:"train"`
	Valid float64 `json:"valid"`
}

// DefaultMaskFractions returns a balanced member/non-member split.
func DefaultMaskFractions() MaskFractions {
	return MaskFractions{Train: 0.5, Valid: 0.1}
}

// Validate checks that the fractions describe a proper partition.
func (f MaskFractions) Validate() error {
	if f.Train <= 0 || f.Valid < 0 || f.Train+f.Valid >= 1 {
		return errs.Configf("mask fractions train=%.3f valid=%.3f must satisfy 0 < train, 0 <= valid, train+valid < 1", f.Train, f.Valid)
	}
	return nil
}

// Sampler draws random subgraphs and splits. It is not safe for concurrent
// use; give each worker its own Sampler.
type Sampler struct {
	rng   *rand.Rand
	masks MaskFractions
}

// NewSampler creates a sampler whose draws are fully determined by
// (seed, stream).
func NewSampler(seed, stream uint64, masks MaskFractions) *Sampler {
	return &Sampler{
		rng:   rand.New(rand.NewPCG(seed, stream)),
		masks: masks,
	}
}

// Rand exposes the sampler's random source.
func (s *Sampler) Rand() *rand.Rand {
	return s.rng
}

// SampleSubgraph draws numNodes distinct nodes uniformly at random, extracts
// their induced subgraph and assigns fresh train/valid/test masks.
func (s *Sampler) SampleSubgraph(g *graph.Graph, numNodes int) (*graph.Graph, error) {
	n := g.NumNodes()
	if numNodes < 1 || numNodes > n {
		return nil, errs.Configf("cannot sample %d nodes from a graph of %d", numNodes, n)
	}

	nodes := s.rng.Perm(n)[:numNodes]
	sort.Ints(nodes)

	sub, err := g.InducedSubgraph(nodes)
	if err != nil {
		return nil, err
	}
	s.AssignMasks(sub)
	return sub, nil
}

// TargetShadowSplit derives a target graph and a shadow (or population) graph
// holding targetFrac and shadowFrac of the nodes of g respectively.
func (s *Sampler) TargetShadowSplit(g *graph.Graph, mode SplitMode, targetFrac, shadowFrac float64) (*graph.Graph, *graph.Graph, error) {
	n := g.NumNodes()
	nTarget := int(targetFrac * float64(n))
	nShadow := int(shadowFrac * float64(n))
	if nTarget < 1 || nShadow < 1 || targetFrac > 1 || shadowFrac > 1 {
		return nil, nil, errs.Configf("split fractions target=%.3f shadow=%.3f invalid for %d nodes", targetFrac, shadowFrac, n)
	}

	switch mode {
	case SplitSampled:
		target, err := s.SampleSubgraph(g, nTarget)
		if err != nil {
			return nil, nil, err
		}
		shadow, err := s.SampleSubgraph(g, nShadow)
		if err != nil {
			return nil, nil, err
		}
		return target, shadow, nil

	case SplitDisjoint:
		if nTarget+nShadow > n {
			return nil, nil, errs.Configf("disjoint split needs target+shadow <= 1, got %.3f+%.3f", targetFrac, shadowFrac)
		}
		perm := s.rng.Perm(n)
		targetNodes := append([]int(nil), perm[:nTarget]...)
		shadowNodes := append([]int(nil), perm[nTarget:nTarget+nShadow]...)
		sort.Ints(targetNodes)
		sort.Ints(shadowNodes)

		target, err := g.InducedSubgraph(targetNodes)
		if err != nil {
			return nil, nil, err
		}
		shadow, err := g.InducedSubgraph(shadowNodes)
		if err != nil {
			return nil, nil, err
		}
		s.AssignMasks(target)
		s.AssignMasks(shadow)
		return target, shadow, nil

	default:
		return nil, nil, errs.Configf("unsupported split %q", mode)
	}
}

// AssignMasks overwrites the masks of g with a random partition following
// the sampler's mask fractions.
func (s *Sampler) AssignMasks(g *graph.Graph) {
	n := g.NumNodes()
	nTrain := int(s.masks.Train * float64(n))
	nValid := int(s.masks.Valid * float64(n))

	g.TrainMask = make([]bool, n)
	g.ValidMask = make([]bool, n)
	g.TestMask = make([]bool, n)
	for rank, v := range s.rng.Perm(n) {
		switch {
		case rank < nTrain:
			g.TrainMask[v] = true
		case rank < nTrain+nValid:
			g.ValidMask[v] = true
		default:
			g.TestMask[v] = true
		}
	}
}

// SharedNodeIDs returns the sorted dataset identities present in both graphs.
func SharedNodeIDs(a, b *graph.Graph) []int {
	ids := a.IDSet(a.AllNodes())
	shared := make([]int, 0)
	for _, id := range b.NodeIDs {
		if _, ok := ids[id]; ok {
			shared = append(shared, id)
		}
	}
	sort.Ints(shared)
	return shared
}
