package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiverow/fiverow/config"
	"github.com/fiverow/fiverow/inference"
	"github.com/fiverow/fiverow/model"
	"github.com/fiverow/fiverow/pipeline"
	"github.com/fiverow/fiverow/server"
)

func main() {
	cfg := config.FromEnv()
	addr := flag.String("addr", cfg.ListenAddr, "HTTP listen address")
	modelDir := flag.String("model-dir", cfg.ProdModelDir, "Production model directory")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	search := cfg.SearchConfig()
	search = pipeline.LoadTuning(cfg.TuningPath).Apply(search)

	srv := server.New(server.Config{
		BoardSize:          cfg.BoardSize,
		ModelDir:           *modelDir,
		ModelURL:           cfg.ModelURL,
		ModelCheckInterval: cfg.ModelCheckInterval,
		BookPath:           cfg.BookPath,
		Search:             search,
	}, func(m *model.Model) (inference.Evaluator, error) {
		return inference.NewOnnxClient(m.WeightPath())
	}, log)

	go srv.RunModelReload(ctx)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", *addr).Msg("inference server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}
