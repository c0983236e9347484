package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fiverow/fiverow/mcts"
)

// Tuning holds the search parameters adjusted by arena feedback. Values
// persist between cycles so nudges accumulate.
type Tuning struct {
	RootBoost       mcts.BoostFactors `json:"root_boost"`
	ChildBoost      mcts.BoostFactors `json:"child_boost"`
	TTPriorMixChild float64           `json:"tt_prior_mix_child"`
	TTPriorMixRoot  float64           `json:"tt_prior_mix_root"`
}

func DefaultTuning() Tuning {
	cfg := mcts.DefaultConfig()
	return Tuning{
		RootBoost:       cfg.RootBoost,
		ChildBoost:      cfg.ChildBoost,
		TTPriorMixChild: cfg.TTPriorMixChild,
		TTPriorMixRoot:  cfg.TTPriorMixRoot,
	}
}

// LoadTuning reads the persisted tuning, returning defaults when the file
// is missing or unreadable.
func LoadTuning(path string) Tuning {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultTuning()
	}
	t := DefaultTuning()
	if err := json.Unmarshal(data, &t); err != nil {
		return DefaultTuning()
	}
	return t
}

func SaveTuning(path string, t Tuning) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

const (
	tuneStep     = 0.2  // nudge gain on (winrate - threshold)
	tuneBandRel  = 0.10 // multiplicative factors stay within ±10% of default
	tuneMixStep  = 0.1
	tuneMixFloor = 0.0
	tuneMixCeil  = 0.6
)

// Adjust nudges the boost multipliers and the TT prior mix by a step
// proportional to the arena margin, clamped to their bands.
func (t Tuning) Adjust(winrate, threshold float64) Tuning {
	delta := winrate - threshold
	def := DefaultTuning()

	t.RootBoost = adjustBoost(t.RootBoost, def.RootBoost, delta)
	t.ChildBoost = adjustBoost(t.ChildBoost, def.ChildBoost, delta)

	t.TTPriorMixChild = clampf(t.TTPriorMixChild+tuneMixStep*delta, tuneMixFloor, tuneMixCeil)
	t.TTPriorMixRoot = clampf(t.TTPriorMixRoot+tuneMixStep*delta, tuneMixFloor, tuneMixCeil)
	return t
}

// Apply copies the tuned parameters into a search config.
func (t Tuning) Apply(cfg mcts.Config) mcts.Config {
	cfg.RootBoost = t.RootBoost
	cfg.ChildBoost = t.ChildBoost
	cfg.TTPriorMixChild = t.TTPriorMixChild
	cfg.TTPriorMixRoot = t.TTPriorMixRoot
	return cfg
}

func adjustBoost(b, def mcts.BoostFactors, delta float64) mcts.BoostFactors {
	scale := 1 + tuneStep*delta
	adj := func(v, dv float64) float64 {
		// Factors of exactly 1 are neutral by construction; leave them.
		if dv == 1 {
			return v
		}
		return clampf(v*scale, dv*(1-tuneBandRel), dv*(1+tuneBandRel))
	}
	b.Win = adj(b.Win, def.Win)
	b.BlockWin = adj(b.BlockWin, def.BlockWin)
	b.OpenFour = adj(b.OpenFour, def.OpenFour)
	b.BlockOpenFour = adj(b.BlockOpenFour, def.BlockOpenFour)
	b.Four = adj(b.Four, def.Four)
	b.BlockFour = adj(b.BlockFour, def.BlockFour)
	b.OpenThree = adj(b.OpenThree, def.OpenThree)
	b.BlockOpenThree = adj(b.BlockOpenThree, def.BlockOpenThree)
	b.ConnectedThree = adj(b.ConnectedThree, def.ConnectedThree)
	b.BlockConnectedThree = adj(b.BlockConnectedThree, def.BlockConnectedThree)
	b.LongLink = adj(b.LongLink, def.LongLink)
	return b
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
