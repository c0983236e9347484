package selfplay

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiverow/fiverow/inference"
	"github.com/fiverow/fiverow/model"
	"github.com/fiverow/fiverow/store"
)

// EvaluatorFactory builds an evaluator from a model directory. The ONNX
// backend is injected by the binary; tests use mocks.
type EvaluatorFactory func(modelDir string) (inference.Evaluator, error)

// BootstrapFunc creates a fresh randomly-initialized model at dir when no
// production model exists yet. The network factory is external.
type BootstrapFunc func(dir string) error

// OrchestratorConfig bounds one self-play run.
type OrchestratorConfig struct {
	NumWorkers           int
	SaveInterval         time.Duration
	Duration             time.Duration
	PastModelProbability float64

	ProdModelDir  string
	PastModelsDir string
	ReplayDir     string

	Worker WorkerConfig
}

// GameUpdate is the per-game progress event consumed by the TUI.
type GameUpdate struct {
	WorkerID int
	Winner   string
	Moves    int
	Samples  int
}

// RunStats summarizes a completed self-play window.
type RunStats struct {
	Games   int64
	Samples int64
	Flushes int64
}

// Orchestrator spawns the worker pool, assigns opponents from the
// past-model pool, and periodically flushes collected samples as JSONL.
type Orchestrator struct {
	cfg       OrchestratorConfig
	factory   EvaluatorFactory
	bootstrap BootstrapFunc
	log       zerolog.Logger
	rng       *rand.Rand

	// Updates, when set, receives per-game events (non-blocking sends).
	Updates chan GameUpdate

	games   atomic.Int64
	samples atomic.Int64
	flushes atomic.Int64

	mu         sync.Mutex
	modelCache map[string]inference.Evaluator
}

func NewOrchestrator(cfg OrchestratorConfig, factory EvaluatorFactory, bootstrap BootstrapFunc, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		factory:    factory,
		bootstrap:  bootstrap,
		log:        log,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		modelCache: make(map[string]inference.Evaluator),
	}
}

// Stats returns the live counters.
func (o *Orchestrator) Stats() RunStats {
	return RunStats{
		Games:   o.games.Load(),
		Samples: o.samples.Load(),
		Flushes: o.flushes.Load(),
	}
}

func (o *Orchestrator) evaluatorFor(dir string) (inference.Evaluator, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ev, ok := o.modelCache[dir]; ok {
		return ev, nil
	}
	ev, err := o.factory(dir)
	if err != nil {
		return nil, err
	}
	o.modelCache[dir] = ev
	return ev, nil
}

// pastModelDirs lists snapshot directories, oldest first.
func (o *Orchestrator) pastModelDirs() []string {
	entries, err := os.ReadDir(o.cfg.PastModelsDir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(o.cfg.PastModelsDir, e.Name())
		if _, err := model.Load(dir); err == nil {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// nextAssignment pairs the production model against itself or, with the
// configured probability, a random past snapshot.
func (o *Orchestrator) nextAssignment(prod inference.Evaluator) Assignment {
	a := Assignment{
		Own:           prod,
		OwnName:       "prod",
		OwnPlaysBlack: o.rng.Intn(2) == 0,
	}
	past := o.pastModelDirs()
	if len(past) > 0 && o.rng.Float64() < o.cfg.PastModelProbability {
		dir := past[o.rng.Intn(len(past))]
		if ev, err := o.evaluatorFor(dir); err == nil {
			a.Opponent = ev
			a.OpponentName = filepath.Base(dir)
		} else {
			o.log.Warn().Err(err).Str("dir", dir).Msg("past model load failed, self-pairing")
		}
	}
	return a
}

// Run executes one duration-bounded self-play window. It returns once all
// workers finished their current games and the final flush completed.
func (o *Orchestrator) Run(ctx context.Context) (RunStats, error) {
	if _, err := model.Load(o.cfg.ProdModelDir); err != nil {
		if o.bootstrap == nil {
			return RunStats{}, fmt.Errorf("prod model missing and no bootstrap: %w", err)
		}
		o.log.Info().Str("dir", o.cfg.ProdModelDir).Msg("bootstrapping fresh model")
		if err := o.bootstrap(o.cfg.ProdModelDir); err != nil {
			return RunStats{}, fmt.Errorf("bootstrap model: %w", err)
		}
	}
	prod, err := o.evaluatorFor(o.cfg.ProdModelDir)
	if err != nil {
		return RunStats{}, fmt.Errorf("load prod model: %w", err)
	}

	buffer, err := store.NewBuffer(o.cfg.ReplayDir)
	if err != nil {
		return RunStats{}, err
	}

	// The window timer only stops new games; running games complete under
	// the parent context, which the operator can still cancel.
	windowCtx, cancel := context.WithTimeout(ctx, o.cfg.Duration)
	defer cancel()

	results := make(chan Result, o.cfg.NumWorkers)

	var wg sync.WaitGroup
	seed := time.Now().UnixNano()
	for i := 0; i < o.cfg.NumWorkers; i++ {
		wg.Add(1)
		w := NewWorker(i, o.cfg.Worker, seed, results)
		go func() {
			defer wg.Done()
			err := w.Run(ctx, func() (Assignment, bool) {
				select {
				case <-windowCtx.Done():
					return Assignment{}, false
				default:
				}
				return o.nextAssignment(prod), true
			})
			if err != nil {
				// Crashed workers are not respawned; the pool shrinks.
				o.log.Error().Err(err).Int("worker", w.ID).Msg("worker crashed")
			}
		}()
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	flushTicker := time.NewTicker(o.cfg.SaveInterval)
	defer flushTicker.Stop()

	flush := func() {
		path, n, err := buffer.Flush()
		if err != nil {
			// Samples are retained; the next interval retries.
			o.log.Error().Err(err).Msg("sample flush failed")
			return
		}
		if n > 0 {
			o.flushes.Add(1)
			o.log.Info().Str("path", path).Int("samples", n).Msg("flush ok")
		}
	}

	collect := func(res Result) {
		o.games.Add(1)
		o.samples.Add(int64(len(res.Samples)))
		buffer.Add(res.Samples...)
		if o.Updates != nil {
			select {
			case o.Updates <- GameUpdate{
				WorkerID: res.WorkerID,
				Winner:   res.Winner.String(),
				Moves:    res.Moves,
				Samples:  len(res.Samples),
			}:
			default:
			}
		}
	}

	for {
		select {
		case res := <-results:
			collect(res)
		case <-flushTicker.C:
			flush()
		case <-workersDone:
			// Drain any results emitted before the last worker exited.
			for {
				select {
				case res := <-results:
					collect(res)
					continue
				default:
				}
				break
			}
			flush()
			if buffer.Len() > 0 {
				return o.Stats(), fmt.Errorf("final flush failed with %d samples retained", buffer.Len())
			}
			return o.Stats(), nil
		}
	}
}
