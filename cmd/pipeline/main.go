package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/fiverow/fiverow/arena"
	"github.com/fiverow/fiverow/config"
	"github.com/fiverow/fiverow/inference"
	"github.com/fiverow/fiverow/model"
	"github.com/fiverow/fiverow/pipeline"
	"github.com/fiverow/fiverow/selfplay"
)

func onnxFactory(dir string) (inference.Evaluator, error) {
	m, err := model.Load(dir)
	if err != nil {
		return nil, err
	}
	return inference.NewOnnxClient(m.WeightPath())
}

func main() {
	cfg := config.FromEnv()
	cycles := flag.Int("cycles", cfg.PipelineCycles, "Number of cycles (0 = forever)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := pipeline.NewStatusWriter(cfg.StatusPath)
	var webhook *pipeline.Webhook
	if cfg.WebhookURL != "" {
		webhook = &pipeline.Webhook{URL: cfg.WebhookURL}
	}

	controller := pipeline.NewController(pipeline.ControllerConfig{
		Cycles:   *cycles,
		Forever:  cfg.Forever || *cycles == 0,
		Interval: cfg.PipelineInterval,
		OnError:  cfg.OnErrorDelay,
	}, status, webhook, log)

	controller.SelfPlay = func(ctx context.Context) error {
		tuning := pipeline.LoadTuning(cfg.TuningPath)
		ocfg := selfplay.OrchestratorConfig{
			NumWorkers:           cfg.NumWorkers,
			SaveInterval:         cfg.SaveInterval,
			Duration:             cfg.SelfPlayDuration,
			PastModelProbability: cfg.PastModelProbability,
			ProdModelDir:         cfg.ProdModelDir,
			PastModelsDir:        cfg.PastModelsDir,
			ReplayDir:            cfg.ReplayDir,
			Worker: selfplay.WorkerConfig{
				BoardSize:        cfg.BoardSize,
				BaseThinkTime:    cfg.BaseThinkTime,
				ExplorationMoves: cfg.ExplorationMoves,
				UseSwap2:         cfg.UseSwap2,
				ThinkJitter:      0.1,
				Search:           tuning.Apply(cfg.SearchConfig()),
			},
		}
		orch := selfplay.NewOrchestrator(ocfg, onnxFactory, bootstrapFunc(os.Getenv("MODEL_BOOTSTRAP_CMD")), log)
		stats, err := orch.Run(ctx)
		if serr := status.Update(map[string]any{
			"self_play": map[string]any{
				"games":   stats.Games,
				"samples": stats.Samples,
				"flushes": stats.Flushes,
			},
		}); serr != nil {
			log.Warn().Err(serr).Msg("status update failed")
		}
		return err
	}

	controller.Distill = pipeline.CommandStage(cfg.DistillCmd)

	controller.Arena = func(ctx context.Context) (bool, error) {
		candModel, err := model.Load(cfg.CandidateModelDir)
		if err != nil {
			return false, fmt.Errorf("candidate model: %w", err)
		}
		prodModel, err := model.Load(cfg.ProdModelDir)
		if err != nil {
			return false, fmt.Errorf("prod model: %w", err)
		}
		candidate, err := onnxFactory(cfg.CandidateModelDir)
		if err != nil {
			return false, err
		}
		prod, err := onnxFactory(cfg.ProdModelDir)
		if err != nil {
			return false, err
		}

		tuning := pipeline.LoadTuning(cfg.TuningPath)
		res, err := arena.Run(ctx, candidate, prod, arena.Config{
			BoardSize:            cfg.BoardSize,
			Games:                cfg.ArenaGames,
			Threshold:            cfg.ArenaThreshold,
			ThinkTime:            cfg.ArenaThinkTime,
			Search:               tuning.Apply(cfg.SearchConfig()),
			CandidateFingerprint: candModel.Fingerprint(),
			ProdFingerprint:      prodModel.Fingerprint(),
		}, log)
		if err != nil {
			return false, err
		}

		if res.Promoted && cfg.PromoteOnPass {
			if perr := arena.Promote(cfg.ProdModelDir, cfg.CandidateModelDir, cfg.PastModelsDir); perr != nil {
				log.Error().Err(perr).Msg("promotion failed, prior prod left intact")
				res.Promoted = false
			}
		}
		if werr := arena.WriteResult(cfg.ArenaResultPath, res); werr != nil {
			log.Warn().Err(werr).Msg("write arena result failed")
		}

		// Feed the arena margin back into the search tuning.
		adjusted := tuning.Adjust(res.Winrate, cfg.ArenaThreshold)
		if terr := pipeline.SaveTuning(cfg.TuningPath, adjusted); terr != nil {
			log.Warn().Err(terr).Msg("persist tuning failed")
		}

		if serr := status.Update(map[string]any{
			"arena": map[string]any{
				"games":    res.Games,
				"winrate":  res.Winrate,
				"promoted": res.Promoted,
			},
		}); serr != nil {
			log.Warn().Err(serr).Msg("status update failed")
		}
		return res.Promoted, nil
	}

	controller.Upload = pipeline.CommandStage(cfg.UploadCmd)
	controller.BookImport = pipeline.CommandStage(cfg.BookImportCmd)

	if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("pipeline stopped")
	}
	log.Info().Msg("pipeline exited")
}

func bootstrapFunc(command string) selfplay.BootstrapFunc {
	if command == "" {
		return nil
	}
	return func(dir string) error {
		cmd := exec.Command("sh", "-c", fmt.Sprintf("%s %q", command, dir))
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("bootstrap command: %w (output: %s)", err, out)
		}
		return nil
	}
}
