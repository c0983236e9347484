package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, 15, cfg.BoardSize)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Equal(t, 200, cfg.ArenaGames)
	assert.Equal(t, 0.60, cfg.ArenaThreshold)
	assert.Equal(t, 30*time.Second, cfg.SaveInterval)
	assert.Equal(t, 30*time.Minute, cfg.SelfPlayDuration)
	assert.Equal(t, 60*time.Second, cfg.OnErrorDelay)
	assert.Equal(t, 5*time.Minute, cfg.ModelCheckInterval)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOARD_SIZE", "9")
	t.Setenv("NUM_WORKERS", "2")
	t.Setenv("MCTS_BATCH_SIZE", "16")
	t.Setenv("EARLY_STOP_RATIO", "3.5")
	t.Setenv("FAST_MODE", "true")

	cfg := FromEnv()
	assert.Equal(t, 9, cfg.BoardSize)
	assert.Equal(t, 2, cfg.NumWorkers)

	search := cfg.SearchConfig()
	assert.True(t, search.FastMode)
	assert.Equal(t, 16, search.BatchSize)
	assert.Equal(t, 3.5, search.EarlyStopRatio)
	// Untouched knobs keep fast-mode defaults.
	assert.Equal(t, 120, search.EarlyStopMinVisits)
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("NUM_WORKERS", "not-a-number")
	cfg := FromEnv()
	assert.Equal(t, 4, cfg.NumWorkers)
}
