package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/fiverow/fiverow/arena"
	"github.com/fiverow/fiverow/config"
	"github.com/fiverow/fiverow/inference"
	"github.com/fiverow/fiverow/model"
	"github.com/fiverow/fiverow/pipeline"
)

func main() {
	cfg := config.FromEnv()
	candidateDir := flag.String("candidate", cfg.CandidateModelDir, "Candidate model directory")
	prodDir := flag.String("prod", cfg.ProdModelDir, "Production model directory")
	games := flag.Int("games", cfg.ArenaGames, "Number of arena games")
	promote := flag.Bool("promote", cfg.PromoteOnPass, "Promote the candidate on a passing result")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	candModel, err := model.Load(*candidateDir)
	if err != nil {
		log.Fatal().Err(err).Msg("load candidate model")
	}
	prodModel, err := model.Load(*prodDir)
	if err != nil {
		log.Fatal().Err(err).Msg("load prod model")
	}
	candidate, err := inference.NewOnnxClient(candModel.WeightPath())
	if err != nil {
		log.Fatal().Err(err).Msg("candidate evaluator")
	}
	defer candidate.Close()
	prod, err := inference.NewOnnxClient(prodModel.WeightPath())
	if err != nil {
		log.Fatal().Err(err).Msg("prod evaluator")
	}
	defer prod.Close()

	search := cfg.SearchConfig()
	search = pipeline.LoadTuning(cfg.TuningPath).Apply(search)

	res, err := arena.Run(ctx, candidate, prod, arena.Config{
		BoardSize:            cfg.BoardSize,
		Games:                *games,
		Threshold:            cfg.ArenaThreshold,
		ThinkTime:            cfg.ArenaThinkTime,
		Search:               search,
		CandidateFingerprint: candModel.Fingerprint(),
		ProdFingerprint:      prodModel.Fingerprint(),
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("arena run failed")
	}

	if res.Promoted && *promote {
		if err := arena.Promote(*prodDir, *candidateDir, cfg.PastModelsDir); err != nil {
			log.Error().Err(err).Msg("promotion failed, prior prod left intact")
			res.Promoted = false
		}
	} else if !*promote {
		res.Promoted = false
	}

	if err := arena.WriteResult(cfg.ArenaResultPath, res); err != nil {
		log.Error().Err(err).Msg("write arena result")
	}
	log.Info().
		Int("games", res.Games).
		Float64("winrate", res.Winrate).
		Bool("promoted", res.Promoted).
		Msg("arena complete")

	if !res.Promoted {
		os.Exit(1)
	}
}
