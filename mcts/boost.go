package mcts

import "github.com/fiverow/fiverow/game"

// boostPriors applies the multiplicative tactical boosts of one tier to a
// masked flat prior vector, in place. Forbidden cells for black are scaled
// by the penalty (zero removes them). The caller renormalizes afterwards.
func boostPriors(priors []float32, b game.Board, toMove game.Stone, f BoostFactors, forbiddenPenalty float64) {
	size := b.Size()

	apply := func(moves []game.Move, factor float64) {
		if factor == 1 {
			return
		}
		for _, m := range moves {
			idx := m.Flat(size)
			priors[idx] = float32(float64(priors[idx]) * factor)
		}
	}

	mine := game.DetectThreats(b, toMove)
	apply(mine.Wins, f.Win)
	apply(mine.OpenFours, f.OpenFour)
	apply(mine.Fours, f.Four)
	apply(mine.OpenThrees, f.OpenThree)
	apply(mine.ConnectedThrees, f.ConnectedThree)
	apply(mine.LongLinks, f.LongLink)

	theirs := game.DetectThreats(b, toMove.Opponent())
	apply(theirs.Wins, f.BlockWin)
	apply(theirs.OpenFours, f.BlockOpenFour)
	apply(theirs.Fours, f.BlockFour)
	apply(theirs.OpenThrees, f.BlockOpenThree)
	apply(theirs.ConnectedThrees, f.BlockConnectedThree)

	if toMove == game.Black {
		for idx, p := range priors {
			if p == 0 {
				continue
			}
			m := game.MoveFromFlat(idx, size)
			if game.IsForbidden(b, m, game.Black) {
				priors[idx] = float32(float64(p) * forbiddenPenalty)
			}
		}
	}
}

// normalize scales the vector to sum 1. Returns false when everything is
// zero (no usable prior mass).
func normalize(priors []float32) bool {
	sum := float32(0)
	for _, p := range priors {
		sum += p
	}
	if sum <= 0 {
		return false
	}
	inv := 1 / sum
	for i := range priors {
		priors[i] *= inv
	}
	return true
}
