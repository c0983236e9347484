package swap2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiverow/fiverow/game"
	"github.com/fiverow/fiverow/inference"
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

func TestProposeTriple(t *testing.T) {
	b, triple := Propose(15)
	require.Len(t, triple, 3)
	assert.Equal(t, game.Black, b.At(triple[0].R, triple[0].C))
	assert.Equal(t, game.White, b.At(triple[1].R, triple[1].C))
	assert.Equal(t, game.Black, b.At(triple[2].R, triple[2].C))
	assert.Equal(t, 3, b.Stones())
	// All three stones sit near the center.
	for _, m := range triple {
		assert.InDelta(t, 7, m.R, 2)
		assert.InDelta(t, 7, m.C, 2)
	}
}

func TestChooseSecondNeutralNetworkSwaps(t *testing.T) {
	n := NewNegotiator(&uniformEvaluator{}, inference.NewPredictionCache(100))
	b, _ := Propose(15)

	d, err := n.ChooseSecond(b)
	require.NoError(t, err)
	// With a value-neutral network all options tie and option 1 wins the
	// tie: take black, first player continues as white.
	assert.Equal(t, 1, d.Option)
	assert.True(t, d.SwapColors)
	assert.Equal(t, game.White, d.ToMove)
	assert.Equal(t, 3, d.Board.Stones())
}

func TestChooseSecondOptionStoneCounts(t *testing.T) {
	n := NewNegotiator(&uniformEvaluator{}, inference.NewPredictionCache(100))
	n.Plies = 1
	b, _ := Propose(15)

	d, err := n.ChooseSecond(b)
	require.NoError(t, err)
	switch d.Option {
	case 1:
		assert.Equal(t, 3, d.Board.Stones())
		assert.Equal(t, game.White, d.ToMove)
	case 2:
		assert.Equal(t, 4, d.Board.Stones())
		assert.Equal(t, game.Black, d.ToMove)
	case 3:
		assert.Equal(t, 5, d.Board.Stones())
		assert.Equal(t, game.White, d.ToMove)
	default:
		t.Fatalf("invalid option %d", d.Option)
	}
	// The proposal board itself is never mutated.
	assert.Equal(t, 3, b.Stones())
}
