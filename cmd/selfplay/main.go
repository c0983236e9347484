package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

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

type tuiModel struct {
	start       time.Time
	games       int
	samples     int
	recentGames []string
	updates     chan selfplay.GameUpdate
	done        <-chan struct{}
}

type tickMsg time.Time

type doneMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForUpdate(updates chan selfplay.GameUpdate) tea.Cmd {
	return func() tea.Msg { return <-updates }
}

func waitForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg { <-done; return doneMsg{} }
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), waitForDone(m.done), tickCmd())
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tickCmd()
	case doneMsg:
		return m, tea.Quit
	case selfplay.GameUpdate:
		m.games++
		m.samples += msg.Samples
		line := fmt.Sprintf("Worker %d: winner=%s moves=%d samples=%d", msg.WorkerID, msg.Winner, msg.Moves, msg.Samples)
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m tuiModel) View() string {
	duration := time.Since(m.start)
	gamesPerMin := 0.0
	if duration.Minutes() > 0 {
		gamesPerMin = float64(m.games) / duration.Minutes()
	}
	s := fmt.Sprintf("Games:     %d\n", m.games)
	s += fmt.Sprintf("Samples:   %d\n", m.samples)
	s += fmt.Sprintf("Duration:  %s\n", duration.Round(time.Second))
	s += fmt.Sprintf("Games/min: %.1f\n\n", gamesPerMin)
	s += "Recent games:\n"
	for _, g := range m.recentGames {
		s += g + "\n"
	}
	s += "\nPress q to quit.\n"
	return s
}

func main() {
	cfg := config.FromEnv()
	workers := flag.Int("workers", cfg.NumWorkers, "Number of self-play workers")
	duration := flag.Duration("duration", cfg.SelfPlayDuration, "Self-play window duration")
	replayDir := flag.String("replay-dir", cfg.ReplayDir, "Replay buffer output directory")
	useTUI := flag.Bool("tui", false, "Show the live TUI dashboard")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	search := cfg.SearchConfig()
	tuning := pipeline.LoadTuning(cfg.TuningPath)
	search = tuning.Apply(search)

	ocfg := selfplay.OrchestratorConfig{
		NumWorkers:           *workers,
		SaveInterval:         cfg.SaveInterval,
		Duration:             *duration,
		PastModelProbability: cfg.PastModelProbability,
		ProdModelDir:         cfg.ProdModelDir,
		PastModelsDir:        cfg.PastModelsDir,
		ReplayDir:            *replayDir,
		Worker: selfplay.WorkerConfig{
			BoardSize:        cfg.BoardSize,
			BaseThinkTime:    cfg.BaseThinkTime,
			ExplorationMoves: cfg.ExplorationMoves,
			UseSwap2:         cfg.UseSwap2,
			ThinkJitter:      0.1,
			Search:           search,
		},
	}

	orch := selfplay.NewOrchestrator(ocfg, onnxFactory, bootstrapFunc(os.Getenv("MODEL_BOOTSTRAP_CMD")), log)

	done := make(chan struct{})
	var runErr error
	var stats selfplay.RunStats

	if *useTUI {
		orch.Updates = make(chan selfplay.GameUpdate, *workers)
		go func() {
			stats, runErr = orch.Run(ctx)
			close(done)
		}()
		p := tea.NewProgram(tuiModel{
			start:   time.Now(),
			updates: orch.Updates,
			done:    done,
		}, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			log.Error().Err(err).Msg("tui failed")
		}
		stop()
		<-done
	} else {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		go func() {
			stats, runErr = orch.Run(ctx)
			close(done)
		}()
		for running := true; running; {
			select {
			case <-ticker.C:
				s := orch.Stats()
				log.Info().Int64("games", s.Games).Int64("samples", s.Samples).Int64("flushes", s.Flushes).Msg("self-play progress")
			case <-done:
				running = false
			}
		}
	}

	if runErr != nil {
		log.Fatal().Err(runErr).Msg("self-play run failed")
	}
	log.Info().Int64("games", stats.Games).Int64("samples", stats.Samples).Msg("self-play window complete")
}
