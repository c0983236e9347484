// Package arena gates candidate models: a head-to-head match against the
// reigning production model with alternating colors, an early-stop rule,
// and atomic promotion of the winner.
package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiverow/fiverow/game"
	"github.com/fiverow/fiverow/inference"
	"github.com/fiverow/fiverow/mcts"
)

// Result is the arena_result record written after a match.
type Result struct {
	TS                   int64   `json:"ts"`
	Games                int     `json:"games"`
	CandidateWins        int     `json:"candidate_wins"`
	ProdWins             int     `json:"prod_wins"`
	Draws                int     `json:"draws"`
	Winrate              float64 `json:"winrate"`
	CandidateFingerprint string  `json:"candidate_fingerprint"`
	ProdFingerprint      string  `json:"prod_fingerprint"`
	Threshold            float64 `json:"threshold"`
	Promoted             bool    `json:"promoted"`
}

// Config drives one gating match.
type Config struct {
	BoardSize int
	Games     int
	Threshold float64
	ThinkTime time.Duration
	Search    mcts.Config

	CandidateFingerprint string
	ProdFingerprint      string
}

// gameOutcome is the candidate's view of one game: 1 win, -1 loss, 0 draw.
type gameOutcome int

// Run plays the gating match. Colors alternate each game; the match stops
// early as soon as the verdict cannot change.
func Run(ctx context.Context, candidate, prod inference.Evaluator, cfg Config, log zerolog.Logger) (Result, error) {
	res := Result{
		TS:                   time.Now().UnixMilli(),
		Threshold:            cfg.Threshold,
		CandidateFingerprint: cfg.CandidateFingerprint,
		ProdFingerprint:      cfg.ProdFingerprint,
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < cfg.Games; i++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		candidateIsBlack := i%2 == 0
		outcome, err := playGame(ctx, candidate, prod, candidateIsBlack, cfg, rng)
		if err != nil {
			return res, fmt.Errorf("arena game %d: %w", i, err)
		}
		res.Games++
		switch outcome {
		case 1:
			res.CandidateWins++
		case -1:
			res.ProdWins++
		default:
			res.Draws++
		}
		res.Winrate = float64(res.CandidateWins) / float64(res.Games)

		log.Info().
			Int("game", res.Games).
			Int("candidate_wins", res.CandidateWins).
			Int("prod_wins", res.ProdWins).
			Int("draws", res.Draws).
			Msg("arena game finished")

		stop, verdict := earlyVerdict(res.CandidateWins, res.Games, cfg.Games, cfg.Threshold)
		if stop {
			res.Promoted = verdict
			return res, nil
		}
	}

	res.Promoted = res.Winrate >= cfg.Threshold
	return res, nil
}

// earlyVerdict applies the spec'd early-stop rule over total scheduled
// games: success once the guaranteed winrate clears the threshold, failure
// once even a perfect finish cannot reach it.
func earlyVerdict(candWins, played, total int, threshold float64) (stop, pass bool) {
	if float64(candWins)/float64(total) >= threshold {
		return true, true
	}
	remaining := total - played
	if float64(candWins+remaining)/float64(total) < threshold {
		return true, false
	}
	return false, false
}

func playGame(ctx context.Context, candidate, prod inference.Evaluator, candidateIsBlack bool, cfg Config, rng *rand.Rand) (gameOutcome, error) {
	engines := map[game.Stone]*mcts.Engine{}
	candEngine := mcts.NewEngine(candidate, cfg.Search, rand.New(rand.NewSource(rng.Int63())))
	prodEngine := mcts.NewEngine(prod, cfg.Search, rand.New(rand.NewSource(rng.Int63())))
	if candidateIsBlack {
		engines[game.Black] = candEngine
		engines[game.White] = prodEngine
	} else {
		engines[game.Black] = prodEngine
		engines[game.White] = candEngine
	}

	board := game.NewBoard(cfg.BoardSize)
	toMove := game.Black
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		mv, _, err := engines[toMove].FindBestMove(board, toMove, cfg.ThinkTime)
		if err != nil {
			return 0, err
		}
		if mv == game.NoMove {
			return 0, nil // draw
		}
		board.Set(mv.R, mv.C, toMove)
		if game.CheckWin(board, toMove, mv) {
			candidateWon := (toMove == game.Black) == candidateIsBlack
			if candidateWon {
				return 1, nil
			}
			return -1, nil
		}
		if !board.HasEmpty() {
			return 0, nil
		}
		toMove = toMove.Opponent()
	}
}

// WriteResult writes the arena_result record atomically.
func WriteResult(path string, res Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
