package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiverow/fiverow/config"
	"github.com/fiverow/fiverow/store"
)

// The archiver converts closed replay JSONL files into zstd parquet batches
// for the trainer, then moves the consumed files aside.
func main() {
	cfg := config.FromEnv()
	replayDir := flag.String("replay-dir", cfg.ReplayDir, "Replay buffer directory to consume")
	archiveDir := flag.String("archive-dir", cfg.ArchiveDir, "Parquet output directory")
	keep := flag.Bool("keep", false, "Leave consumed JSONL files in place")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	entries, err := os.ReadDir(*replayDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *replayDir).Msg("read replay dir")
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(*replayDir, e.Name()))
	}
	if len(files) == 0 {
		log.Info().Msg("nothing to archive")
		return
	}

	var rows []store.ArchiveRow
	badSamples := 0
	for _, path := range files {
		samples, err := store.ReadSamplesJSONL(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("skipping unreadable replay file")
			continue
		}
		for _, s := range samples {
			row, err := store.ArchiveRowFrom(s)
			if err != nil {
				badSamples++
				continue
			}
			rows = append(rows, row)
		}
	}
	if badSamples > 0 {
		log.Warn().Int("samples", badSamples).Msg("dropped malformed samples")
	}
	if len(rows) == 0 {
		log.Info().Msg("no valid samples found")
		return
	}

	outPath := filepath.Join(*archiveDir, fmt.Sprintf("replay_%d.parquet", time.Now().UnixNano()))
	if err := store.WriteArchiveParquet(outPath, rows); err != nil {
		log.Fatal().Err(err).Msg("write archive")
	}
	log.Info().Str("path", outPath).Int("rows", len(rows)).Int("files", len(files)).Msg("archive written")

	if *keep {
		return
	}
	consumedDir := filepath.Join(*replayDir, "archived")
	if err := os.MkdirAll(consumedDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create archived dir")
	}
	for _, path := range files {
		dest := filepath.Join(consumedDir, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			log.Error().Err(err).Str("file", path).Msg("move consumed file")
		}
	}
}
