// Package swap2 implements the Swap2 opening negotiation: the first player
// proposes a B-W-B triple and the second player picks the option with the
// best shallow-rollout value.
package swap2

import (
	"fmt"
	"time"

	"github.com/fiverow/fiverow/game"
	"github.com/fiverow/fiverow/inference"
)

// Decision is the outcome of the second player's choice.
type Decision struct {
	// Board is the position after any option stones were placed.
	Board game.Board
	// ToMove is the side to play next.
	ToMove game.Stone
	// SwapColors reports that the players exchange colors (option 1).
	SwapColors bool
	// Option is 1, 2 or 3.
	Option int
}

// Negotiator evaluates the three Swap2 options with shallow NN-guided
// rollouts.
type Negotiator struct {
	ev    inference.Evaluator
	cache *inference.PredictionCache
	// Plies is the rollout depth per option estimate.
	Plies int
	// Budget is not consulted by the negotiation: the rollouts play their
	// Plies greedy moves without a time limit.
	Budget time.Duration
}

func NewNegotiator(ev inference.Evaluator, cache *inference.PredictionCache) *Negotiator {
	return &Negotiator{ev: ev, cache: cache, Plies: 3, Budget: 500 * time.Millisecond}
}

// Propose places the opening triple near the center: two black stones and
// one white. White is to move afterwards.
func Propose(size int) (game.Board, []game.Move) {
	b := game.NewBoard(size)
	c := size / 2
	triple := []game.Move{{R: c, C: c}, {R: c, C: c + 1}, {R: c - 1, C: c + 1}}
	b.Set(triple[0].R, triple[0].C, game.Black)
	b.Set(triple[1].R, triple[1].C, game.White)
	b.Set(triple[2].R, triple[2].C, game.Black)
	return b, triple
}

// ChooseSecond runs the second player's side of the protocol on a proposed
// triple. The board must hold exactly two black stones and one white.
func (n *Negotiator) ChooseSecond(b game.Board) (Decision, error) {
	// Option 1: take black; the first player keeps the move as white.
	v1, err := n.estimate(b, game.White)
	if err != nil {
		return Decision{}, err
	}
	option1 := -v1

	// Option 2: stay white, place one more white stone, black moves next.
	b2 := b.Clone()
	w, err := n.bestPlacement(b2, game.White)
	if err != nil {
		return Decision{}, err
	}
	b2.Set(w.R, w.C, game.White)
	v2, err := n.estimate(b2, game.Black)
	if err != nil {
		return Decision{}, err
	}
	option2 := -v2

	// Option 3: place one more white and one more black, then the first
	// player picks whichever color stands better.
	b3 := b2.Clone()
	blk, err := n.bestPlacement(b3, game.Black)
	if err != nil {
		return Decision{}, err
	}
	b3.Set(blk.R, blk.C, game.Black)
	vWhite, err := n.estimate(b3, game.White)
	if err != nil {
		return Decision{}, err
	}
	vBlack, err := n.estimate(b3, game.Black)
	if err != nil {
		return Decision{}, err
	}
	option3 := -maxf(vWhite, vBlack)

	switch {
	case option1 >= option2 && option1 >= option3:
		return Decision{Board: b.Clone(), ToMove: game.White, SwapColors: true, Option: 1}, nil
	case option2 >= option3:
		return Decision{Board: b2, ToMove: game.Black, Option: 2}, nil
	default:
		return Decision{Board: b3, ToMove: game.White, Option: 3}, nil
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// bestPlacement picks the highest-prior legal (and unforbidden) cell for
// the given color.
func (n *Negotiator) bestPlacement(b game.Board, color game.Stone) (game.Move, error) {
	policy, _, err := inference.EvaluatePosition(n.ev, n.cache, b, color)
	if err != nil {
		return game.NoMove, err
	}
	size := b.Size()
	best := game.NoMove
	bestP := float32(-1)
	for _, m := range game.LegalMoves(b, game.CandidateRadius(b)) {
		if game.IsForbidden(b, m, color) {
			continue
		}
		if p := policy[m.Flat(size)]; p > bestP {
			bestP = p
			best = m
		}
	}
	if best == game.NoMove {
		return game.NoMove, fmt.Errorf("no legal placement")
	}
	return best, nil
}

// estimate plays Plies greedy policy moves and returns the resulting
// network value from toMove's perspective.
func (n *Negotiator) estimate(b game.Board, toMove game.Stone) (float64, error) {
	board := b.Clone()
	cur := toMove
	for ply := 0; ply < n.Plies; ply++ {
		mv, err := n.bestPlacement(board, cur)
		if err != nil {
			break
		}
		board.Set(mv.R, mv.C, cur)
		if game.CheckWin(board, cur, mv) {
			if cur == toMove {
				return 1, nil
			}
			return -1, nil
		}
		cur = cur.Opponent()
	}
	_, v, err := inference.EvaluatePosition(n.ev, n.cache, board, cur)
	if err != nil {
		return 0, err
	}
	if cur == toMove {
		return float64(v), nil
	}
	return -float64(v), nil
}
