package inference

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiverow/fiverow/game"
)

// uniformEvaluator returns a uniform policy and a fixed value, counting
// calls so cache behavior is observable.
type uniformEvaluator struct {
	value float32
	calls int
	rows  int
}

func (u *uniformEvaluator) Predict(batch [][]float32, size int) ([][]float32, []float32, error) {
	u.calls++
	u.rows += len(batch)
	policies := make([][]float32, len(batch))
	values := make([]float32, len(batch))
	p := float32(1) / float32(size*size)
	for i := range batch {
		policy := make([]float32, size*size)
		for j := range policy {
			policy[j] = p
		}
		policies[i] = policy
		values[i] = u.value
	}
	return policies, values, nil
}

func TestEncodePlanes(t *testing.T) {
	b := game.NewBoard(5)
	b.Set(1, 2, game.Black)
	b.Set(3, 3, game.White)

	in := Encode(b, game.Black)
	require.Len(t, in, 5*5*Planes)

	base := (1*5 + 2) * Planes
	assert.Equal(t, float32(1), in[base], "own stone on plane 0")
	assert.Equal(t, float32(0), in[base+1])

	base = (3*5 + 3) * Planes
	assert.Equal(t, float32(1), in[base+1], "opponent stone on plane 1")

	// Side plane is all ones for black to move.
	assert.Equal(t, float32(1), in[2])

	in = Encode(b, game.White)
	assert.Equal(t, float32(0), in[2], "side plane zero for white")
	base = (3*5 + 3) * Planes
	assert.Equal(t, float32(1), in[base], "white stones on plane 0 when white to move")
}

func TestPredictionCacheLRU(t *testing.T) {
	cache := NewPredictionCache(2)
	cache.Put("a", Prediction{Value: 1})
	cache.Put("b", Prediction{Value: 2})
	// Refresh "a" so "b" is the eviction victim.
	_, ok := cache.Get("a")
	require.True(t, ok)
	cache.Put("c", Prediction{Value: 3})

	_, ok = cache.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = cache.Get("a")
	assert.True(t, ok)
	_, ok = cache.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestEvaluatePositionCachesSymmetricPositions(t *testing.T) {
	ev := &uniformEvaluator{value: 0.25}
	cache := NewPredictionCache(100)

	b := game.NewBoard(9)
	b.Set(2, 3, game.Black)

	_, v1, err := EvaluatePosition(ev, cache, b, game.White)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), v1)
	assert.Equal(t, 1, ev.calls)

	// A rotated board hits the same canonical entry.
	rot := game.Rot90.Apply(b)
	_, v2, err := EvaluatePosition(ev, cache, rot, game.White)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, ev.calls, "rotation must be a cache hit")

	// Different side to move misses.
	_, _, err = EvaluatePosition(ev, cache, b, game.Black)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.calls)
}

func TestEvaluatePositionsBatchesMisses(t *testing.T) {
	ev := &uniformEvaluator{value: 0.5}
	cache := NewPredictionCache(100)

	boards := make([]game.Board, 4)
	sides := make([]game.Stone, 4)
	for i := range boards {
		b := game.NewBoard(9)
		b.Set(i, i, game.Black)
		boards[i] = b
		sides[i] = game.White
	}

	policies, values, err := EvaluatePositions(ev, cache, boards, sides)
	require.NoError(t, err)
	require.Len(t, policies, 4)
	assert.Equal(t, 1, ev.calls, "all misses share one network call")
	assert.Equal(t, 4, ev.rows)
	for _, v := range values {
		assert.Equal(t, float32(0.5), v)
	}

	// Second pass is fully cached.
	_, _, err = EvaluatePositions(ev, cache, boards, sides)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.calls)
}

func TestEvaluateSymmetricAverages(t *testing.T) {
	ev := &uniformEvaluator{value: 0.4}
	b := game.NewBoard(9)
	b.Set(4, 4, game.Black)

	policy, value, err := EvaluateSymmetric(ev, b, game.White, 8)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, float64(value), 1e-6)
	assert.Equal(t, 8, ev.rows)

	sum := float32(0)
	for _, p := range policy {
		sum += p
	}
	assert.InDelta(t, 1.0, float64(sum), 1e-3)
}

func TestSymmetryCount(t *testing.T) {
	cases := []struct {
		budget time.Duration
		fast   bool
		want   int
	}{
		{3 * time.Second, false, 8},
		{1200 * time.Millisecond, false, 4},
		{900 * time.Millisecond, false, 1},
		{3 * time.Second, true, 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v_fast=%v", tc.budget, tc.fast), func(t *testing.T) {
			assert.Equal(t, tc.want, SymmetryCount(tc.budget, tc.fast))
		})
	}
}
