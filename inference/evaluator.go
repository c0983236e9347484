// Package inference provides the policy/value oracle used by the search:
// an abstract batched Evaluator contract, the ONNX Runtime implementation,
// a prediction LRU cache, and symmetry-averaged root evaluation.
package inference

import (
	"sync/atomic"

	"github.com/fiverow/fiverow/game"
)

// Planes is the number of input feature planes: side-to-move stones,
// opponent stones, and a constant side-color plane.
const Planes = 3

// Evaluator is the batched policy/value oracle. Each input is a flat
// [N,N,3] tensor of length N*N*3; the returned policies have length N*N and
// values lie in [-1, 1] from the side-to-move's perspective.
//
// Implementations must be safe for concurrent callers or serialized
// internally.
type Evaluator interface {
	Predict(batch [][]float32, size int) ([][]float32, []float32, error)
}

// Encode builds the network input for a position: plane 0 holds the
// side-to-move stones, plane 1 the opponent stones, plane 2 is all ones when
// the side to move is black. Layout is [N,N,3] row-major.
func Encode(b game.Board, toMove game.Stone) []float32 {
	size := b.Size()
	out := make([]float32, size*size*Planes)
	sidePlane := float32(0)
	if toMove == game.Black {
		sidePlane = 1
	}
	opp := toMove.Opponent()
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			base := (r*size + c) * Planes
			switch b.At(r, c) {
			case toMove:
				out[base] = 1
			case opp:
				out[base+1] = 1
			}
			out[base+2] = sidePlane
		}
	}
	return out
}

// Counting wraps an Evaluator with an atomic evaluation counter for
// throughput stats.
type Counting struct {
	Evaluator
	evals atomic.Int64
}

func NewCounting(ev Evaluator) *Counting {
	return &Counting{Evaluator: ev}
}

func (c *Counting) Predict(batch [][]float32, size int) ([][]float32, []float32, error) {
	c.evals.Add(int64(len(batch)))
	return c.Evaluator.Predict(batch, size)
}

func (c *Counting) Evaluations() int64 {
	return c.evals.Load()
}
