// Package selfplay drives self-play game generation: each worker runs its
// own search per move and streams finished sample batches to the
// orchestrator over a typed channel.
package selfplay

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/fiverow/fiverow/game"
	"github.com/fiverow/fiverow/inference"
	"github.com/fiverow/fiverow/mcts"
	"github.com/fiverow/fiverow/store"
	"github.com/fiverow/fiverow/swap2"
)

// WorkerConfig is the per-worker game generation setup.
type WorkerConfig struct {
	BoardSize        int
	BaseThinkTime    time.Duration
	ExplorationMoves int
	UseSwap2         bool
	ThinkJitter      float64 // fraction of the budget, e.g. 0.1
	Search           mcts.Config
}

// Assignment binds evaluators to a single game. Opponent may equal Own for
// pure self-play; OwnPlaysBlack decides the initial color split.
type Assignment struct {
	Own           inference.Evaluator
	Opponent      inference.Evaluator
	OwnName       string
	OpponentName  string
	OwnPlaysBlack bool
}

// Result is one finished game's sample batch.
type Result struct {
	WorkerID int
	GameID   string
	Samples  []store.Sample
	Winner   game.Stone
	Moves    int
}

type Worker struct {
	ID  int
	cfg WorkerConfig
	rng *rand.Rand
	out chan<- Result
}

// NewWorker seeds the worker's private RNG so exploration sampling and
// Dirichlet noise are reproducible per (seed, worker) pair.
func NewWorker(id int, cfg WorkerConfig, seed int64, out chan<- Result) *Worker {
	if cfg.ExplorationMoves == 0 {
		cfg.ExplorationMoves = 15
	}
	return &Worker{
		ID:  id,
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed + int64(id)*1000003)),
		out: out,
	}
}

// Run plays games until the context ends or the assignment source dries up.
// A game error stops this worker; the orchestrator does not respawn it.
func (w *Worker) Run(ctx context.Context, next func() (Assignment, bool)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		a, ok := next()
		if !ok {
			return nil
		}
		res, err := w.PlayGame(ctx, a)
		if err != nil {
			return fmt.Errorf("worker %d: %w", w.ID, err)
		}
		if len(res.Samples) == 0 {
			// Cancelled mid-game; nothing worth emitting.
			continue
		}
		select {
		case w.out <- res:
		case <-ctx.Done():
			return nil
		}
	}
}

// thinkTime scales the base budget by game phase: shorter in the first few
// moves, longer through the midgame, and never below 200ms.
func (w *Worker) thinkTime(moveIndex int) time.Duration {
	base := w.cfg.BaseThinkTime
	var d time.Duration
	switch {
	case moveIndex <= 6:
		d = base * 80 / 100
	case moveIndex <= 30:
		d = base * 120 / 100
	default:
		d = base
	}
	if j := w.cfg.ThinkJitter; j > 0 {
		span := float64(d) * j
		d += time.Duration((w.rng.Float64()*2 - 1) * span)
	}
	if d < 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	return d
}

// PlayGame runs one game end to end and returns its sample batch with the
// final values already assigned.
func (w *Worker) PlayGame(ctx context.Context, a Assignment) (Result, error) {
	gameID := fmt.Sprintf("selfplay_%d_%d", time.Now().UnixNano(), w.ID)

	engines := map[game.Stone]*mcts.Engine{}
	ownEngine := mcts.NewEngine(a.Own, w.cfg.Search, rand.New(rand.NewSource(w.rng.Int63())))
	oppEv := a.Opponent
	if oppEv == nil {
		oppEv = a.Own
	}
	oppEngine := mcts.NewEngine(oppEv, w.cfg.Search, rand.New(rand.NewSource(w.rng.Int63())))
	if a.OwnPlaysBlack {
		engines[game.Black] = ownEngine
		engines[game.White] = oppEngine
	} else {
		engines[game.Black] = oppEngine
		engines[game.White] = ownEngine
	}

	board := game.NewBoard(w.cfg.BoardSize)
	toMove := game.Black

	if w.cfg.UseSwap2 {
		proposed, _ := swap2.Propose(w.cfg.BoardSize)
		// The second player (white before any swap) negotiates with the
		// white-side network.
		whiteEv := a.Own
		if a.OwnPlaysBlack {
			whiteEv = oppEv
		}
		negotiator := swap2.NewNegotiator(whiteEv, engines[game.White].Cache())
		decision, err := negotiator.ChooseSecond(proposed)
		if err != nil {
			return Result{}, fmt.Errorf("swap2: %w", err)
		}
		board = decision.Board
		toMove = decision.ToMove
		if decision.SwapColors {
			engines[game.Black], engines[game.White] = engines[game.White], engines[game.Black]
		}
	}

	var samples []store.Sample
	winner := game.Empty
	moveIndex := 0

	for {
		select {
		case <-ctx.Done():
			// Unfinished games are dropped; samples without a final value
			// would poison training.
			return Result{WorkerID: w.ID, GameID: gameID, Moves: moveIndex}, nil
		default:
		}

		engine := engines[toMove]

		// Teacher targets are captured before the search mutates caches.
		teacherPolicy, teacherValue, err := engine.Evaluate(board, toMove)
		if err != nil {
			return Result{}, fmt.Errorf("teacher eval: %w", err)
		}

		mv, stats, err := engine.FindBestMove(board, toMove, w.thinkTime(moveIndex))
		if err != nil {
			return Result{}, fmt.Errorf("search: %w", err)
		}
		if mv == game.NoMove {
			break // board full
		}

		chosen := mv
		if moveIndex < w.cfg.ExplorationMoves {
			chosen = sampleFromStats(w.rng, stats, mv)
		}

		samples = append(samples, store.Sample{
			State:         store.BoardStateFrom(board),
			Player:        toMove.String(),
			MCTSPolicy:    policyFromStats(stats, w.cfg.BoardSize),
			TeacherPolicy: teacherPolicy,
			TeacherValue:  teacherValue,
			Meta: store.SampleMeta{
				Source:    "self_play",
				GameID:    gameID,
				MoveIndex: moveIndex,
				Tags:      []string{},
				Extra:     map[string]any{},
			},
		})

		board.Set(chosen.R, chosen.C, toMove)
		moveIndex++

		if game.CheckWin(board, toMove, chosen) {
			winner = toMove
			break
		}
		if !board.HasEmpty() {
			break
		}
		toMove = toMove.Opponent()
	}

	finalizeSamples(samples, winner, moveIndex)

	return Result{
		WorkerID: w.ID,
		GameID:   gameID,
		Samples:  samples,
		Winner:   winner,
		Moves:    moveIndex,
	}, nil
}

// finalizeSamples assigns final values once the outcome is known.
func finalizeSamples(samples []store.Sample, winner game.Stone, totalMoves int) {
	result := 0
	switch winner {
	case game.Black:
		result = 1
	case game.White:
		result = -1
	}
	for i := range samples {
		samples[i].Meta.TotalMoves = totalMoves
		samples[i].Meta.Result = result
		switch {
		case winner == game.Empty:
			samples[i].FinalValue = 0
		case samples[i].Player == winner.String():
			samples[i].FinalValue = 1
		default:
			samples[i].FinalValue = -1
		}
	}
}

// policyFromStats converts root visit counts into the flat policy target.
func policyFromStats(stats []mcts.VisitStat, size int) []float32 {
	policy := make([]float32, size*size)
	total := 0
	for _, st := range stats {
		total += st.Visits
	}
	if total == 0 {
		return policy
	}
	for _, st := range stats {
		policy[st.Move.Flat(size)] = float32(st.Visits) / float32(total)
	}
	return policy
}

// sampleFromStats draws a move from the visit distribution, falling back to
// the most-visited move.
func sampleFromStats(rng *rand.Rand, stats []mcts.VisitStat, fallback game.Move) game.Move {
	total := 0
	for _, st := range stats {
		total += st.Visits
	}
	if total == 0 {
		return fallback
	}
	r := rng.Intn(total)
	for _, st := range stats {
		r -= st.Visits
		if r < 0 {
			return st.Move
		}
	}
	return fallback
}
