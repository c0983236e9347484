// Package mcts implements the NN-guided PUCT search with tactical solver
// short-circuits, progressive widening, transposition caching and batched
// leaf evaluation.
package mcts

import (
	"math"
	"math/rand"
	"time"

	"github.com/fiverow/fiverow/game"
	"github.com/fiverow/fiverow/inference"
	"github.com/fiverow/fiverow/solver"
)

// VisitStat is one root child with its final visit count. The returned
// policy of a search is the list of these, in child creation order.
type VisitStat struct {
	Move   game.Move
	Visits int
}

// Engine is a search instance. It owns (or shares) a transposition table
// and a prediction cache; both live for the engine's lifetime while search
// trees are released after every FindBestMove call.
type Engine struct {
	cfg   Config
	ev    inference.Evaluator
	cache *inference.PredictionCache
	tt    *TT
	rng   *rand.Rand
}

func NewEngine(ev inference.Evaluator, cfg Config, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		cfg:   cfg,
		ev:    ev,
		cache: inference.NewPredictionCache(cfg.PredictionCacheSize),
		tt:    NewTT(cfg.TTCapacity),
		rng:   rng,
	}
}

func (e *Engine) Cache() *inference.PredictionCache { return e.cache }
func (e *Engine) TT() *TT                           { return e.tt }
func (e *Engine) Config() Config                    { return e.cfg }

// Evaluate runs a single cached network evaluation of a position, used by
// callers that need the raw teacher policy/value outside a search.
func (e *Engine) Evaluate(b game.Board, toMove game.Stone) ([]float32, float32, error) {
	return inference.EvaluatePosition(e.ev, e.cache, b, toMove)
}

func soloStat(mv game.Move) []VisitStat {
	return []VisitStat{{Move: mv, Visits: 1}}
}

// FindBestMove returns the best move for the side to move within the time
// budget, together with the root visit distribution. Tactical forced wins
// short-circuit the tree search entirely.
func (e *Engine) FindBestMove(b game.Board, toMove game.Stone, budget time.Duration) (game.Move, []VisitStat, error) {
	deadline := time.Now().Add(budget)

	if !b.HasEmpty() {
		return game.NoMove, nil, nil
	}

	scfg := solver.DefaultConfig(budget, e.cfg.FastMode)
	if mv, ok := solver.FindThreatWin(b, toMove, scfg); ok {
		return mv, soloStat(mv), nil
	}
	if mv, ok := solver.FindForcedWin(b, toMove, scfg); ok {
		return mv, soloStat(mv), nil
	}

	// One-ply mate and block. A five completion is always legal, including
	// for black.
	mine := game.DetectThreats(b, toMove)
	if len(mine.Wins) > 0 {
		return mine.Wins[0], soloStat(mine.Wins[0]), nil
	}
	theirs := game.DetectThreats(b, toMove.Opponent())
	for _, m := range theirs.Wins {
		if !game.IsForbidden(b, m, toMove) {
			return m, soloStat(m), nil
		}
	}

	if mv, ok := solver.FindDefense(b, toMove, scfg); ok {
		return mv, soloStat(mv), nil
	}

	return e.search(b, toMove, budget, deadline)
}

type leafRef struct {
	n     *node
	board game.Board
}

func (e *Engine) search(b game.Board, toMove game.Stone, budget time.Duration, deadline time.Time) (game.Move, []VisitStat, error) {
	root, err := e.runSearch(b, toMove, budget, deadline)
	if err != nil {
		return game.NoMove, nil, err
	}
	if root == nil {
		return game.NoMove, nil, nil
	}
	if !root.expanded {
		// Candidate fallback chosen before any simulation ran.
		return game.MoveFromFlat(root.move, b.Size()), soloStat(game.MoveFromFlat(root.move, b.Size())), nil
	}
	return e.pickResult(root, b.Size())
}

// runSearch builds and runs the tree, returning its root. A root carrying
// expanded=false signals a pre-search fallback move stored in root.move.
func (e *Engine) runSearch(b game.Board, toMove game.Stone, budget time.Duration, deadline time.Time) (*node, error) {
	size := b.Size()
	legal := game.LegalMoves(b, game.CandidateRadius(b))
	if len(legal) == 0 {
		return nil, nil
	}

	root := &node{toMove: toMove, move: -1, children: make(map[int]*node)}

	syms := inference.SymmetryCount(budget, e.cfg.FastMode)
	policy, rootValue, err := inference.EvaluateSymmetric(e.ev, b, toMove, syms)
	if err != nil {
		return nil, err
	}

	key, tr := game.CanonicalKey(b, toMove)
	priors := e.preparePriors(policy, b, toMove, legal, key, tr, true)

	// Root Dirichlet noise during the opening phase.
	openingLimit := size / 2
	if openingLimit < 8 {
		openingLimit = 8
	}
	if b.Stones() <= openingLimit && e.cfg.DirichletEpsilon > 0 {
		e.mixDirichlet(priors)
	}

	root.setCandidates(priors)
	root.expanded = true
	root.visits = 1
	root.valueSum = float64(rootValue)
	e.tt.Observe(key, float64(rootValue))

	if len(root.cands) == 0 {
		// Everything masked away (e.g. all candidates forbidden): play the
		// first legal non-forbidden cell, or concede the first legal one.
		fallback := legal[0]
		for _, m := range legal {
			if !game.IsForbidden(b, m, toMove) {
				fallback = m
				break
			}
		}
		return &node{toMove: toMove, move: fallback.Flat(size)}, nil
	}

	for time.Now().Before(deadline) {
		leaves, progress := e.collectBatch(root, b, deadline)
		if len(leaves) == 0 {
			if !progress {
				break
			}
			if e.earlyStop(root) {
				break
			}
			continue
		}

		boards := make([]game.Board, len(leaves))
		sides := make([]game.Stone, len(leaves))
		for i, l := range leaves {
			boards[i] = l.board
			sides[i] = l.n.toMove
		}
		policies, values, err := inference.EvaluatePositions(e.ev, e.cache, boards, sides)
		if err != nil {
			return nil, err
		}
		for i, l := range leaves {
			e.expandLeaf(l, policies[i], values[i])
		}

		if e.earlyStop(root) {
			break
		}
	}

	return root, nil
}

// preparePriors masks the raw policy to the legal cells, records the masked
// network priors in the TT, applies the tier's tactical boosts and the TT
// prior blend, and renormalizes.
func (e *Engine) preparePriors(policy []float32, b game.Board, toMove game.Stone, legal []game.Move, key string, tr game.Transform, isRoot bool) []float32 {
	size := b.Size()
	masked := make([]float32, size*size)
	for _, m := range legal {
		idx := m.Flat(size)
		masked[idx] = policy[idx]
	}
	if normalize(masked) {
		nn := make([]float32, len(masked))
		copy(nn, masked)
		e.tt.SetPriors(key, tr.ApplyPolicy(nn, size))
	} else {
		// Degenerate network output: fall back to uniform over legal.
		for _, m := range legal {
			masked[m.Flat(size)] = 1
		}
		normalize(masked)
	}

	boost := e.cfg.ChildBoost
	mix := e.cfg.TTPriorMixChild
	if isRoot {
		boost = e.cfg.RootBoost
		mix = e.cfg.TTPriorMixRoot
	}
	boostPriors(masked, b, toMove, boost, e.cfg.ForbiddenPenalty)
	e.blendTTPriors(masked, key, tr, size, mix)

	if !normalize(masked) {
		// All candidates were forbidden-penalized away; reinstate the
		// legal non-forbidden cells uniformly.
		for _, m := range legal {
			if !game.IsForbidden(b, m, toMove) {
				masked[m.Flat(size)] = 1
			}
		}
		normalize(masked)
	}
	return masked
}

// blendTTPriors mixes stored TT priors into the working vector:
// prior = (1-w)*nn + w*tt over the currently admissible cells.
func (e *Engine) blendTTPriors(priors []float32, key string, tr game.Transform, size int, w float64) {
	if w <= 0 {
		return
	}
	entry, ok := e.tt.Get(key)
	if !ok || entry.Priors == nil {
		return
	}
	stored := tr.Inverse().ApplyPolicy(entry.Priors, size)
	for idx := range priors {
		if priors[idx] > 0 {
			priors[idx] = float32((1-w)*float64(priors[idx]) + w*float64(stored[idx]))
		}
	}
}

func (e *Engine) mixDirichlet(priors []float32) {
	live := make([]int, 0, 64)
	for idx, p := range priors {
		if p > 0 {
			live = append(live, idx)
		}
	}
	if len(live) < 2 {
		return
	}
	noise := sampleDirichlet(e.rng, len(live), e.cfg.DirichletAlpha)
	eps := e.cfg.DirichletEpsilon
	for i, idx := range live {
		priors[idx] = float32((1-eps)*float64(priors[idx]) + eps*noise[i])
	}
}

// collectBatch selects up to BatchSize distinct leaves. Terminal leaves are
// backpropagated on the spot; selected network leaves carry a virtual loss
// until their evaluation lands, which steers later selections in the same
// batch down different paths. progress reports whether any visit landed,
// so the caller can tell a stalled tree from a terminal-only pass.
func (e *Engine) collectBatch(root *node, rootBoard game.Board, deadline time.Time) ([]leafRef, bool) {
	leaves := make([]leafRef, 0, e.cfg.BatchSize)
	progress := false
	attempts := 0
	for len(leaves) < e.cfg.BatchSize && attempts < e.cfg.BatchSize*4 {
		attempts++
		if time.Now().After(deadline) {
			break
		}
		n, board := e.selectLeaf(root, rootBoard)
		if n == nil {
			break
		}
		if n.terminal {
			backprop(n, n.termValue)
			progress = true
			continue
		}
		n.pending = true
		leaves = append(leaves, leafRef{n: n, board: board})
		progress = true
	}
	return leaves, progress
}

func (e *Engine) selectLeaf(root *node, rootBoard game.Board) (*node, game.Board) {
	n := root
	board := rootBoard.Clone()
	var path []*node
	for {
		if n.terminal {
			return n, board
		}
		if !n.expanded {
			if n.pending {
				// Already queued in this batch: unwind the virtual
				// losses taken on the way down and give up on this path.
				for _, p := range path {
					p.vloss--
				}
				return nil, board
			}
			return n, board
		}
		child := e.selectChild(n, &board)
		if child == nil {
			// No admissible candidates: dead end, score as a draw.
			n.terminal = true
			n.termValue = 0
			return n, board
		}
		child.vloss++
		path = append(path, child)
		n = child
	}
}

// selectChild applies PUCT over the admitted candidates, creating the
// chosen child lazily. The board is advanced by the chosen move.
func (e *Engine) selectChild(n *node, board *game.Board) *node {
	k := n.admitted(e.cfg)
	if k == 0 {
		return nil
	}
	cpuct := e.cfg.cpuct(n.depth)
	sqrtParent := math.Sqrt(float64(n.visits + n.vloss))

	bestScore := math.Inf(-1)
	bestIdx := -1
	for _, cand := range n.cands[:k] {
		var q, u float64
		if child, ok := n.children[cand.move]; ok {
			effVisits := child.visits + child.vloss
			if effVisits > 0 {
				// Virtual losses count as wins for the child, steering
				// the parent away until they clear.
				q = -(child.valueSum + float64(child.vloss)) / float64(effVisits)
			}
			u = cpuct * float64(cand.prior) * sqrtParent / (1 + float64(effVisits))
		} else {
			u = cpuct * float64(cand.prior) * sqrtParent
		}
		if q+u > bestScore {
			bestScore = q + u
			bestIdx = cand.move
		}
	}
	if bestIdx < 0 {
		return nil
	}

	size := board.Size()
	mv := game.MoveFromFlat(bestIdx, size)
	board.Set(mv.R, mv.C, n.toMove)

	child, ok := n.children[bestIdx]
	if !ok {
		child = e.newChild(n, bestIdx, mv, *board)
		n.children[bestIdx] = child
		n.order = append(n.order, bestIdx)
	}
	return child
}

func (e *Engine) newChild(parent *node, idx int, mv game.Move, board game.Board) *node {
	var prior float32
	for _, c := range parent.cands {
		if c.move == idx {
			prior = c.prior
			break
		}
	}
	child := &node{
		toMove:   parent.toMove.Opponent(),
		parent:   parent,
		move:     idx,
		depth:    parent.depth + 1,
		prior:    prior,
		children: make(map[int]*node),
	}
	switch {
	case game.CheckWin(board, parent.toMove, mv):
		// The mover just won; from the leaf's side-to-move this is a loss.
		child.terminal = true
		child.termValue = -1
	case !board.HasEmpty():
		child.terminal = true
		child.termValue = 0
	default:
		if e.cfg.TTBootstrapVisits > 0 {
			key, _ := game.CanonicalKey(board, child.toMove)
			if entry, ok := e.tt.Get(key); ok && entry.Visits > 0 {
				v0 := e.cfg.TTBootstrapVisits
				if v0 > entry.Visits {
					v0 = entry.Visits
				}
				child.visits = v0
				child.valueSum = entry.Value * float64(v0)
			}
		}
	}
	return child
}

// expandLeaf installs the evaluated leaf's candidates and backpropagates
// its value up the path, clearing the virtual losses on the way.
func (e *Engine) expandLeaf(l leafRef, policy []float32, value float32) {
	n := l.n
	n.pending = false

	legal := game.LegalMoves(l.board, game.CandidateRadius(l.board))
	key, tr := game.CanonicalKey(l.board, n.toMove)
	if len(legal) > 0 {
		priors := e.preparePriors(policy, l.board, n.toMove, legal, key, tr, false)
		n.setCandidates(priors)
	}
	n.expanded = true

	e.tt.Observe(key, float64(value))
	backprop(n, float64(value))
}

// backprop walks leaf to root, flipping the value's sign at each ply and
// releasing one virtual loss per non-root node.
func backprop(n *node, v float64) {
	for cur := n; cur != nil; cur = cur.parent {
		cur.visits++
		cur.valueSum += v
		if cur.parent != nil && cur.vloss > 0 {
			cur.vloss--
		}
		v = -v
	}
}

func (e *Engine) earlyStop(root *node) bool {
	best, second := 0, 0
	for _, idx := range root.order {
		v := root.children[idx].visits
		if v > best {
			best, second = v, best
		} else if v > second {
			second = v
		}
	}
	return best >= e.cfg.EarlyStopMinVisits &&
		float64(best) >= e.cfg.EarlyStopRatio*float64(second)
}

// pickResult returns the most-visited root child (creation order breaks
// ties) plus the full visit distribution.
func (e *Engine) pickResult(root *node, size int) (game.Move, []VisitStat, error) {
	stats := make([]VisitStat, 0, len(root.order))
	bestMove := game.NoMove
	bestVisits := -1
	for _, idx := range root.order {
		child := root.children[idx]
		mv := game.MoveFromFlat(idx, size)
		stats = append(stats, VisitStat{Move: mv, Visits: child.visits})
		if child.visits > bestVisits {
			bestVisits = child.visits
			bestMove = mv
		}
	}
	if bestMove == game.NoMove && len(root.cands) > 0 {
		// Deadline hit before the first batch completed: fall back to the
		// highest-prior candidate.
		bestMove = game.MoveFromFlat(root.cands[0].move, size)
		stats = append(stats, VisitStat{Move: bestMove, Visits: 1})
	}
	return bestMove, stats, nil
}
