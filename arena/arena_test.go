package arena

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEarlyVerdictScenario(t *testing.T) {
	// 200 games, threshold 0.60.
	// After 20 games with 0 wins the best case is 180/200 = 0.90: continue.
	stop, _ := earlyVerdict(0, 20, 200, 0.60)
	assert.False(t, stop)

	// After 120 games with 50 wins the best case is 130/200 = 0.65: continue.
	stop, _ = earlyVerdict(50, 120, 200, 0.60)
	assert.False(t, stop)

	// After 150 games with 60 wins the best case is 110/200 = 0.55: fail.
	stop, pass := earlyVerdict(60, 150, 200, 0.60)
	assert.True(t, stop)
	assert.False(t, pass)
}

func TestEarlyVerdictGuaranteedPass(t *testing.T) {
	// 120 wins out of 200 scheduled clears 0.60 regardless of the rest.
	stop, pass := earlyVerdict(120, 130, 200, 0.60)
	assert.True(t, stop)
	assert.True(t, pass)

	// One short of guaranteed: keep playing.
	stop, _ = earlyVerdict(119, 130, 200, 0.60)
	assert.False(t, stop)
}

func TestEarlyVerdictSoundness(t *testing.T) {
	// Property: declared success implies winrate over total already meets
	// the threshold; declared failure implies even a perfect finish misses.
	total := 50
	threshold := 0.6
	for played := 1; played <= total; played++ {
		for wins := 0; wins <= played; wins++ {
			stop, pass := earlyVerdict(wins, played, total, threshold)
			if !stop {
				continue
			}
			if pass {
				assert.GreaterOrEqual(t, float64(wins)/float64(total), threshold)
			} else {
				remaining := total - played
				assert.Less(t, float64(wins+remaining)/float64(total), threshold)
			}
		}
	}
}

func TestWriteResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena_result.json")
	res := Result{
		TS:                   123,
		Games:                10,
		CandidateWins:        7,
		ProdWins:             2,
		Draws:                1,
		Winrate:              0.7,
		CandidateFingerprint: "cand",
		ProdFingerprint:      "prod",
		Threshold:            0.6,
		Promoted:             true,
	}
	require.NoError(t, WriteResult(path, res))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, res, back)
}

func TestPromoteReplacesProdAndSnapshots(t *testing.T) {
	base := t.TempDir()
	prod := filepath.Join(base, "prod")
	cand := filepath.Join(base, "candidate")
	past := filepath.Join(base, "past")

	require.NoError(t, os.MkdirAll(prod, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(prod, "model.json"), []byte(`{"v":"old"}`), 0o644))
	require.NoError(t, os.MkdirAll(cand, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cand, "model.json"), []byte(`{"v":"new"}`), 0o644))

	require.NoError(t, Promote(prod, cand, past))

	data, err := os.ReadFile(filepath.Join(prod, "model.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "new")

	entries, err := os.ReadDir(past)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	snap, err := os.ReadFile(filepath.Join(past, entries[0].Name(), "model.json"))
	require.NoError(t, err)
	assert.Contains(t, string(snap), "old")

	// The candidate directory was consumed.
	_, err = os.Stat(cand)
	assert.True(t, os.IsNotExist(err))
}

func TestPromoteFirstModelWithoutProd(t *testing.T) {
	base := t.TempDir()
	prod := filepath.Join(base, "prod")
	cand := filepath.Join(base, "candidate")
	require.NoError(t, os.MkdirAll(cand, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cand, "model.json"), []byte(`{}`), 0o644))

	require.NoError(t, Promote(prod, cand, filepath.Join(base, "past")))
	_, err := os.Stat(filepath.Join(prod, "model.json"))
	assert.NoError(t, err)
}

func TestPromoteMissingCandidateFails(t *testing.T) {
	base := t.TempDir()
	err := Promote(filepath.Join(base, "prod"), filepath.Join(base, "nope"), filepath.Join(base, "past"))
	assert.Error(t, err)
}
