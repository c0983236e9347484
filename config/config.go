// Package config reads the pipeline's environment-variable configuration
// into a typed struct once at startup. Binaries may still override a few
// operational knobs with flags.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/fiverow/fiverow/mcts"
)

type Config struct {
	BoardSize int
	FastMode  bool

	// Self-play.
	NumWorkers           int
	BaseThinkTime        time.Duration
	ExplorationMoves     int
	SaveInterval         time.Duration
	SelfPlayDuration     time.Duration
	PastModelProbability float64
	UseSwap2             bool

	// Arena gate.
	ArenaGames     int
	ArenaThreshold float64
	ArenaThinkTime time.Duration
	PromoteOnPass  bool

	// Model store.
	ProdModelDir       string
	CandidateModelDir  string
	PastModelsDir      string
	ModelURL           string
	ModelCheckInterval time.Duration

	// Data paths.
	ReplayDir       string
	ArchiveDir      string
	StatusPath      string
	ArenaResultPath string
	TuningPath      string
	BookPath        string

	// Pipeline.
	PipelineCycles   int
	PipelineInterval time.Duration
	OnErrorDelay     time.Duration
	Forever          bool
	WebhookURL       string
	DistillCmd       string
	UploadCmd        string
	BookImportCmd    string

	// Inference server.
	ListenAddr string

	// Search overrides applied on top of mcts defaults.
	Cpuct              float64
	DirichletAlpha     float64
	DirichletEpsilon   float64
	KChildBase         int
	KChildStep         int
	KChildMax          int
	KRootMax           int
	BatchSize          int
	TTCapacity         int
	PredictionCache    int
	EarlyStopMinVisits int
	EarlyStopRatio     float64
}

// FromEnv builds the configuration from environment variables, falling back
// to the documented defaults.
func FromEnv() Config {
	return Config{
		BoardSize: envInt("BOARD_SIZE", 15),
		FastMode:  envBool("FAST_MODE", false),

		NumWorkers:           envInt("NUM_WORKERS", 4),
		BaseThinkTime:        envMillis("THINK_TIME_MS", 2000),
		ExplorationMoves:     envInt("EXPLORATION_MOVES", 15),
		SaveInterval:         envMillis("SAVE_INTERVAL_MS", 30_000),
		SelfPlayDuration:     envMillis("SELF_PLAY_DURATION_MS", 30*60*1000),
		PastModelProbability: envFloat("PAST_MODEL_PROBABILITY", 0.5),
		UseSwap2:             envBool("USE_SWAP2", false),

		ArenaGames:     envInt("ARENA_GAMES", 200),
		ArenaThreshold: envFloat("ARENA_THRESHOLD", 0.60),
		ArenaThinkTime: envMillis("ARENA_THINK_TIME_MS", 3000),
		PromoteOnPass:  envBool("ARENA_PROMOTE", true),

		ProdModelDir:       envStr("PROD_MODEL_DIR", "models/prod"),
		CandidateModelDir:  envStr("CANDIDATE_MODEL_DIR", "models/candidate"),
		PastModelsDir:      envStr("PAST_MODELS_DIR", "models/past_models"),
		ModelURL:           envStr("MODEL_URL", ""),
		ModelCheckInterval: envMillis("MODEL_CHECK_INTERVAL_MS", 5*60*1000),

		ReplayDir:       envStr("REPLAY_DIR", "data/replay"),
		ArchiveDir:      envStr("ARCHIVE_DIR", "data/archive"),
		StatusPath:      envStr("STATUS_PATH", "data/status.json"),
		ArenaResultPath: envStr("ARENA_RESULT_PATH", "data/arena_result.json"),
		TuningPath:      envStr("TUNING_PATH", "data/tuning.json"),
		BookPath:        envStr("OPENING_BOOK_PATH", ""),

		PipelineCycles:   envInt("PIPELINE_CYCLES", 0),
		PipelineInterval: envMillis("PIPELINE_INTERVAL_MS", 0),
		OnErrorDelay:     envMillis("ON_ERROR_DELAY_MS", 60_000),
		Forever:          envBool("FOREVER", false),
		WebhookURL:       envStr("WEBHOOK_URL", ""),
		DistillCmd:       envStr("DISTILL_CMD", ""),
		UploadCmd:        envStr("UPLOAD_CMD", ""),
		BookImportCmd:    envStr("BOOK_IMPORT_CMD", ""),

		ListenAddr: envStr("LISTEN_ADDR", ":8080"),

		Cpuct:              envFloat("CPUCT", 0),
		DirichletAlpha:     envFloat("DIRICHLET_ALPHA", 0),
		DirichletEpsilon:   envFloat("DIRICHLET_EPSILON", -1),
		KChildBase:         envInt("K_CHILD_BASE", 0),
		KChildStep:         envInt("K_CHILD_STEP", 0),
		KChildMax:          envInt("K_CHILD_MAX", 0),
		KRootMax:           envInt("K_ROOT_MAX", 0),
		BatchSize:          envInt("MCTS_BATCH_SIZE", 0),
		TTCapacity:         envInt("TT_CAPACITY", 0),
		PredictionCache:    envInt("PREDICTION_CACHE_SIZE", 0),
		EarlyStopMinVisits: envInt("EARLY_STOP_MIN_VISITS", 0),
		EarlyStopRatio:     envFloat("EARLY_STOP_RATIO", 0),
	}
}

// SearchConfig derives the engine configuration, applying any environment
// overrides on top of the defaults for the selected mode.
func (c Config) SearchConfig() mcts.Config {
	cfg := mcts.DefaultConfig()
	if c.FastMode {
		cfg = mcts.FastConfig()
	}
	if c.Cpuct > 0 {
		cfg.CpuctShallow = c.Cpuct
	}
	if c.DirichletAlpha > 0 {
		cfg.DirichletAlpha = c.DirichletAlpha
	}
	if c.DirichletEpsilon >= 0 {
		cfg.DirichletEpsilon = c.DirichletEpsilon
	}
	if c.KChildBase > 0 {
		cfg.KChildBase = c.KChildBase
	}
	if c.KChildStep > 0 {
		cfg.KChildStep = c.KChildStep
	}
	if c.KChildMax > 0 {
		cfg.KChildMax = c.KChildMax
	}
	if c.KRootMax > 0 {
		cfg.KRootMax = c.KRootMax
	}
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	if c.TTCapacity > 0 {
		cfg.TTCapacity = c.TTCapacity
	}
	if c.PredictionCache > 0 {
		cfg.PredictionCacheSize = c.PredictionCache
	}
	if c.EarlyStopMinVisits > 0 {
		cfg.EarlyStopMinVisits = c.EarlyStopMinVisits
	}
	if c.EarlyStopRatio > 0 {
		cfg.EarlyStopRatio = c.EarlyStopRatio
	}
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envMillis(key string, defMillis int) time.Duration {
	return time.Duration(envInt(key, defMillis)) * time.Millisecond
}
