package inference

import (
	"time"

	"github.com/fiverow/fiverow/game"
)

// SymmetryCount picks how many symmetries the root evaluation averages
// over: 8 by default, 4 under a tight budget, 1 in fast mode.
func SymmetryCount(budget time.Duration, fastMode bool) int {
	if fastMode || budget <= 900*time.Millisecond {
		return 1
	}
	if budget <= 1200*time.Millisecond {
		return 4
	}
	return 8
}

// EvaluateSymmetric evaluates the position over the first syms symmetry
// transforms, inverts each policy back to the original orientation, and
// arithmetic-averages policies and values.
func EvaluateSymmetric(ev Evaluator, b game.Board, toMove game.Stone, syms int) ([]float32, float32, error) {
	size := b.Size()
	if syms < 1 {
		syms = 1
	}
	if syms > len(game.AllTransforms) {
		syms = len(game.AllTransforms)
	}

	inputs := make([][]float32, syms)
	for i := 0; i < syms; i++ {
		inputs[i] = Encode(game.AllTransforms[i].Apply(b), toMove)
	}

	policies, values, err := ev.Predict(inputs, size)
	if err != nil {
		return nil, 0, err
	}

	avgPolicy := make([]float32, size*size)
	avgValue := float32(0)
	for i := 0; i < syms; i++ {
		restored := game.AllTransforms[i].Inverse().ApplyPolicy(policies[i], size)
		for j, p := range restored {
			avgPolicy[j] += p
		}
		avgValue += values[i]
	}
	inv := 1 / float32(syms)
	for j := range avgPolicy {
		avgPolicy[j] *= inv
	}
	return avgPolicy, avgValue * inv, nil
}

// EvaluatePosition evaluates one position through the prediction cache.
// Cached policies are stored in the canonical orientation, so symmetric
// positions share a single entry.
func EvaluatePosition(ev Evaluator, cache *PredictionCache, b game.Board, toMove game.Stone) ([]float32, float32, error) {
	size := b.Size()
	key, tr := game.CanonicalKey(b, toMove)
	if cache != nil {
		if pred, ok := cache.Get(key); ok && pred.Size == size {
			return tr.Inverse().ApplyPolicy(pred.Policy, size), pred.Value, nil
		}
	}

	policies, values, err := ev.Predict([][]float32{Encode(b, toMove)}, size)
	if err != nil {
		return nil, 0, err
	}
	policy, value := policies[0], values[0]

	if cache != nil {
		cache.Put(key, Prediction{
			Policy: tr.ApplyPolicy(policy, size),
			Value:  value,
			Size:   size,
		})
	}
	return policy, value, nil
}

// EvaluatePositions is the batched variant used for MCTS leaf expansion:
// cache hits are served directly and the misses share one network call.
func EvaluatePositions(ev Evaluator, cache *PredictionCache, boards []game.Board, toMove []game.Stone) ([][]float32, []float32, error) {
	n := len(boards)
	policies := make([][]float32, n)
	values := make([]float32, n)

	type missInfo struct {
		index int
		key   string
		tr    game.Transform
	}
	var misses []missInfo
	var missInputs [][]float32
	size := 0

	for i, b := range boards {
		size = b.Size()
		key, tr := game.CanonicalKey(b, toMove[i])
		if cache != nil {
			if pred, ok := cache.Get(key); ok && pred.Size == size {
				policies[i] = tr.Inverse().ApplyPolicy(pred.Policy, size)
				values[i] = pred.Value
				continue
			}
		}
		misses = append(misses, missInfo{index: i, key: key, tr: tr})
		missInputs = append(missInputs, Encode(b, toMove[i]))
	}

	if len(misses) > 0 {
		missPolicies, missValues, err := ev.Predict(missInputs, size)
		if err != nil {
			return nil, nil, err
		}
		for j, mi := range misses {
			policies[mi.index] = missPolicies[j]
			values[mi.index] = missValues[j]
			if cache != nil {
				cache.Put(mi.key, Prediction{
					Policy: mi.tr.ApplyPolicy(missPolicies[j], size),
					Value:  missValues[j],
					Size:   size,
				})
			}
		}
	}
	return policies, values, nil
}
