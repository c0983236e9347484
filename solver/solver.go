// Package solver implements the bounded-depth VCF/VCT threat-space searches
// used as short-circuits in front of the main tree search, plus the
// defensive refutation search.
package solver

import (
	"time"

	"github.com/fiverow/fiverow/game"
)

// Config bounds a solver run. Whichever of the deadline and the node cap
// triggers first terminates the search.
type Config struct {
	VCFDepth int
	VCTDepth int
	NodeCap  int
	Deadline time.Time
}

// DefaultConfig derives solver bounds from the total think budget: the
// deadline is min(1500ms, 30% of budget) and VCT depth drops to 2 when the
// budget is tight or fast mode is on.
func DefaultConfig(budget time.Duration, fastMode bool) Config {
	soft := budget * 30 / 100
	if soft > 1500*time.Millisecond {
		soft = 1500 * time.Millisecond
	}
	cfg := Config{
		VCFDepth: 3,
		VCTDepth: 4,
		NodeCap:  20000,
		Deadline: time.Now().Add(soft),
	}
	if fastMode || budget <= 900*time.Millisecond {
		cfg.VCTDepth = 2
	}
	return cfg
}

type search struct {
	cfg   Config
	nodes int
}

func (s *search) exhausted() bool {
	s.nodes++
	if s.cfg.NodeCap > 0 && s.nodes > s.cfg.NodeCap {
		return true
	}
	// Checking the clock on every node is measurable; sample it.
	if s.nodes%64 == 0 && !s.cfg.Deadline.IsZero() && time.Now().After(s.cfg.Deadline) {
		return true
	}
	return false
}

// FindForcedWin runs the VCF search: only candidates that themselves create
// winning threats are tried. Returns the first winning move found.
func FindForcedWin(b game.Board, player game.Stone, cfg Config) (game.Move, bool) {
	s := &search{cfg: cfg}
	return s.forcedWin(b, player, cfg.VCFDepth, false)
}

// FindThreatWin runs the broader VCT search, adding plain fours to the
// candidate set.
func FindThreatWin(b game.Board, player game.Stone, cfg Config) (game.Move, bool) {
	s := &search{cfg: cfg}
	return s.forcedWin(b, player, cfg.VCTDepth, true)
}

func (s *search) candidates(b game.Board, player game.Stone, wide bool) []game.Move {
	th := game.DetectThreats(b, player)
	seen := make(map[game.Move]bool, len(th.Wins)+len(th.OpenFours)+len(th.OpenThrees))
	out := make([]game.Move, 0, 16)
	add := func(moves []game.Move) {
		for _, m := range moves {
			if seen[m] {
				continue
			}
			seen[m] = true
			if game.IsForbidden(b, m, player) {
				continue
			}
			out = append(out, m)
		}
	}
	add(th.Wins)
	add(th.OpenFours)
	if wide {
		add(th.Fours)
	}
	add(th.OpenThrees)
	return out
}

// forcedWin reports a move from which player forces a five within depth
// plies of own threats, against any defense.
func (s *search) forcedWin(b game.Board, player game.Stone, depth int, wide bool) (game.Move, bool) {
	if depth <= 0 || s.exhausted() {
		return game.NoMove, false
	}

	for _, cand := range s.candidates(b, player, wide) {
		if game.MakesFive(b, player, cand) {
			return cand, true
		}
		next := b.Clone()
		next.Set(cand.R, cand.C, player)

		// Winning continuations the opponent must answer.
		wins := game.DetectThreats(next, player).Wins
		if len(wins) >= 2 {
			// Double threat: at most one can be blocked.
			return cand, true
		}
		if len(wins) != 1 {
			continue
		}
		block := wins[0]
		opp := player.Opponent()
		if game.IsForbidden(next, block, opp) {
			// The forced block is illegal for the opponent, so the
			// threat converts next turn.
			return cand, true
		}
		next.Set(block.R, block.C, opp)
		if game.CheckWin(next, opp, block) {
			continue
		}
		if _, ok := s.forcedWin(next, player, depth-1, wide); ok {
			return cand, true
		}
	}
	return game.NoMove, false
}

// FindDefense looks for a block that refutes the opponent's forced win. It
// returns NoMove if the opponent has no forced win, or if no single block
// refutes it.
func FindDefense(b game.Board, player game.Stone, cfg Config) (game.Move, bool) {
	opp := player.Opponent()
	if _, threatened := FindThreatWin(b, opp, cfg); !threatened {
		return game.NoMove, false
	}

	oppThreats := game.DetectThreats(b, opp)
	seen := make(map[game.Move]bool)
	blocks := make([]game.Move, 0, 32)
	add := func(moves []game.Move) {
		for _, m := range moves {
			if !seen[m] {
				seen[m] = true
				blocks = append(blocks, m)
			}
		}
	}
	add(oppThreats.Wins)
	add(oppThreats.OpenFours)
	add(oppThreats.Fours)
	add(oppThreats.OpenThrees)
	// Central proximity fallback when the threat squares alone don't refute.
	add(game.LegalMoves(b, 1))

	for _, block := range blocks {
		if game.IsForbidden(b, block, player) {
			continue
		}
		next := b.Clone()
		next.Set(block.R, block.C, player)
		if game.CheckWin(next, player, block) {
			return block, true
		}
		if _, still := FindThreatWin(next, opp, cfg); !still {
			return block, true
		}
	}
	return game.NoMove, false
}
