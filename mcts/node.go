package mcts

import (
	"math"
	"sort"

	"github.com/fiverow/fiverow/game"
)

// candidate is an admissible child move with its expansion prior, stored in
// admission order (descending prior).
type candidate struct {
	move  int
	prior float32
}

// node is one search tree position. Children are keyed by the flattened
// move index and created lazily when first selected; cands holds the full
// admission-ordered candidate list from which progressive widening admits a
// growing prefix.
type node struct {
	toMove game.Stone

	parent *node
	move   int // flat move that led here; -1 at the root
	depth  int

	prior     float32
	visits    int
	valueSum  float64
	vloss     int
	expanded  bool
	pending   bool
	terminal  bool
	termValue float64

	cands    []candidate
	children map[int]*node
	order    []int // child creation order, the stable tie-break
}

func (n *node) value() float64 {
	if n.visits == 0 {
		return 0
	}
	return n.valueSum / float64(n.visits)
}

// admitted returns how many candidates progressive widening currently
// allows at this node.
func (n *node) admitted(cfg Config) int {
	maxK := cfg.KChildMax
	if n.parent == nil {
		maxK = cfg.KRootMax
	}
	k := cfg.KChildBase + cfg.KChildStep*int(math.Sqrt(float64(n.visits)))
	if k > maxK {
		k = maxK
	}
	if k > len(n.cands) {
		k = len(n.cands)
	}
	return k
}

// setCandidates installs the admission-ordered candidate list from a flat
// prior vector. Zero-prior cells are dropped.
func (n *node) setCandidates(priors []float32) {
	cands := make([]candidate, 0, 64)
	for idx, p := range priors {
		if p > 0 {
			cands = append(cands, candidate{move: idx, prior: p})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].prior > cands[j].prior
	})
	n.cands = cands
}
