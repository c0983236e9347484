package selfplay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiverow/fiverow/game"
	"github.com/fiverow/fiverow/inference"
	"github.com/fiverow/fiverow/mcts"
)

type uniformEvaluator struct{}

func (u *uniformEvaluator) Predict(batch [][]float32, size int) ([][]float32, []float32, error) {
	policies := make([][]float32, len(batch))
	values := make([]float32, len(batch))
	p := float32(1) / float32(size*size)
	for i := range batch {
		policy := make([]float32, size*size)
		for j := range policy {
			policy[j] = p
		}
		policies[i] = policy
	}
	return policies, values, nil
}

func testWorkerConfig(size int) WorkerConfig {
	search := mcts.FastConfig()
	search.EarlyStopMinVisits = 30
	search.EarlyStopRatio = 1.5
	return WorkerConfig{
		BoardSize:        size,
		BaseThinkTime:    250 * time.Millisecond,
		ExplorationMoves: 4,
		Search:           search,
	}
}

func TestPlayGameProducesConsistentSamples(t *testing.T) {
	out := make(chan Result, 1)
	w := NewWorker(0, testWorkerConfig(7), 99, out)

	res, err := w.PlayGame(context.Background(), Assignment{Own: &uniformEvaluator{}, OwnPlaysBlack: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.Samples)
	assert.Equal(t, len(res.Samples), res.Moves)

	for i, s := range res.Samples {
		assert.Equal(t, i, s.Meta.MoveIndex)
		assert.Equal(t, res.Moves, s.Meta.TotalMoves)
		assert.Equal(t, "self_play", s.Meta.Source)
		assert.Equal(t, res.GameID, s.Meta.GameID)

		// The MCTS policy target is a distribution over empty cells of the
		// recorded state.
		b, ok := s.State.Board()
		require.True(t, ok)
		sum := float32(0)
		for idx, p := range s.MCTSPolicy {
			if p > 0 {
				m := game.MoveFromFlat(idx, b.Size())
				assert.True(t, b.IsEmpty(m.R, m.C))
			}
			sum += p
		}
		assert.InDelta(t, 1.0, float64(sum), 1e-3)
		require.Len(t, s.TeacherPolicy, 7*7)
	}

	// Final values match the recorded winner.
	if res.Winner == game.Empty {
		for _, s := range res.Samples {
			assert.Zero(t, s.FinalValue)
		}
	} else {
		for _, s := range res.Samples {
			if s.Player == res.Winner.String() {
				assert.Equal(t, 1, s.FinalValue)
			} else {
				assert.Equal(t, -1, s.FinalValue)
			}
		}
	}

	// Samples marshal to one JSON object per line without loss.
	data, err := json.Marshal(&res.Samples[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mcts_policy"`)
}

func TestPlayGameCancelledProducesNoSamples(t *testing.T) {
	out := make(chan Result, 1)
	w := NewWorker(1, testWorkerConfig(7), 7, out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := w.PlayGame(ctx, Assignment{Own: &uniformEvaluator{}, OwnPlaysBlack: true})
	require.NoError(t, err)
	assert.Empty(t, res.Samples)
}

func TestThinkTimePhases(t *testing.T) {
	cfg := testWorkerConfig(15)
	cfg.BaseThinkTime = 1000 * time.Millisecond
	w := NewWorker(0, cfg, 1, nil)

	assert.Equal(t, 800*time.Millisecond, w.thinkTime(3))
	assert.Equal(t, 1200*time.Millisecond, w.thinkTime(20))
	assert.Equal(t, 1000*time.Millisecond, w.thinkTime(40))

	// The floor holds even for tiny budgets.
	cfg.BaseThinkTime = 100 * time.Millisecond
	w = NewWorker(0, cfg, 1, nil)
	assert.Equal(t, 200*time.Millisecond, w.thinkTime(3))
}

func writeTestModel(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.onnx"), []byte("w"), 0o644))
	manifest := `{"format":"onnx","board_size":7,"weights":["weights.onnx"],"fingerprint":"test"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte(manifest), 0o644))
}

func TestOrchestratorRunFlushesSamples(t *testing.T) {
	if testing.Short() {
		t.Skip("runs multi-second self-play games")
	}
	base := t.TempDir()
	prodDir := filepath.Join(base, "prod")
	replayDir := filepath.Join(base, "replay")

	bootstrapped := false
	cfg := OrchestratorConfig{
		NumWorkers:           2,
		SaveInterval:         500 * time.Millisecond,
		Duration:             6 * time.Second,
		PastModelProbability: 0.5,
		ProdModelDir:         prodDir,
		PastModelsDir:        filepath.Join(base, "past"),
		ReplayDir:            replayDir,
		Worker:               testWorkerConfig(7),
	}
	o := NewOrchestrator(cfg,
		func(dir string) (inference.Evaluator, error) { return &uniformEvaluator{}, nil },
		func(dir string) error {
			bootstrapped = true
			writeTestModel(t, dir)
			return nil
		},
		zerolog.Nop(),
	)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, bootstrapped, "missing prod model must trigger bootstrap")

	entries, err := os.ReadDir(replayDir)
	require.NoError(t, err)
	files := 0
	for _, e := range entries {
		if !e.IsDir() {
			files++
		}
	}
	if stats.Samples > 0 {
		assert.Positive(t, files, "collected samples must be flushed")
	}
}

func TestOrchestratorMissingModelNoBootstrapFails(t *testing.T) {
	cfg := OrchestratorConfig{
		NumWorkers:   1,
		SaveInterval: time.Second,
		Duration:     time.Second,
		ProdModelDir: filepath.Join(t.TempDir(), "missing"),
		ReplayDir:    t.TempDir(),
		Worker:       testWorkerConfig(7),
	}
	o := NewOrchestrator(cfg,
		func(dir string) (inference.Evaluator, error) { return &uniformEvaluator{}, nil },
		nil, zerolog.Nop())

	_, err := o.Run(context.Background())
	assert.Error(t, err)
}
