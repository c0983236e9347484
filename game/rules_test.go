package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeAll(b *Board, s Stone, moves ...Move) {
	for _, m := range moves {
		b.Set(m.R, m.C, s)
	}
}

func TestLegalMovesEmptyBoard(t *testing.T) {
	b := NewBoard(15)
	moves := LegalMoves(b, 1)
	require.Len(t, moves, 1)
	assert.Equal(t, Move{7, 7}, moves[0])
}

func TestLegalMovesRadius(t *testing.T) {
	b := NewBoard(15)
	b.Set(7, 7, Black)

	moves := LegalMoves(b, 1)
	assert.Len(t, moves, 8)

	moves = LegalMoves(b, 2)
	assert.Len(t, moves, 24)

	for _, m := range moves {
		assert.True(t, b.IsEmpty(m.R, m.C))
	}
}

func TestCandidateRadius(t *testing.T) {
	b := NewBoard(15)
	assert.Equal(t, 2, CandidateRadius(b))
	for i := 0; i < 7; i++ {
		b.Set(0, i, White)
	}
	assert.Equal(t, 1, CandidateRadius(b))
}

func TestCheckWinHorizontal(t *testing.T) {
	b := NewBoard(15)
	placeAll(&b, Black, Move{7, 5}, Move{7, 6}, Move{7, 7}, Move{7, 8})
	assert.False(t, CheckWin(b, Black, Move{7, 8}))

	b.Set(7, 9, Black)
	assert.True(t, CheckWin(b, Black, Move{7, 9}))
	assert.True(t, CheckWin(b, Black, Move{7, 5}))
}

func TestCheckWinDiagonal(t *testing.T) {
	b := NewBoard(15)
	for i := 0; i < 5; i++ {
		b.Set(3+i, 3+i, White)
	}
	assert.True(t, CheckWin(b, White, Move{5, 5}))
	assert.False(t, CheckWin(b, Black, Move{5, 5}))
}

func TestCheckWinOverline(t *testing.T) {
	// Six in a row still counts as a win (no overline restriction).
	b := NewBoard(15)
	for i := 0; i < 6; i++ {
		b.Set(7, 4+i, Black)
	}
	assert.True(t, CheckWin(b, Black, Move{7, 6}))
}

func TestMakesFive(t *testing.T) {
	b := NewBoard(15)
	placeAll(&b, Black, Move{7, 6}, Move{7, 7}, Move{7, 8}, Move{7, 9})
	assert.True(t, MakesFive(b, Black, Move{7, 5}))
	assert.True(t, MakesFive(b, Black, Move{7, 10}))
	assert.False(t, MakesFive(b, Black, Move{7, 4}))
	// The probe must not leave a stone behind.
	assert.True(t, b.IsEmpty(7, 5))
}

func TestForbiddenDoubleThree(t *testing.T) {
	b := NewBoard(15)
	// Two open twos crossing at (7,7): playing there makes two open threes.
	placeAll(&b, Black, Move{7, 5}, Move{7, 6}, Move{5, 7}, Move{6, 7})
	assert.True(t, IsForbidden(b, Move{7, 7}, Black))
	assert.False(t, IsForbidden(b, Move{7, 7}, White))
}

func TestForbiddenDoubleFour(t *testing.T) {
	b := NewBoard(15)
	// Two solid threes crossing at (7,7): playing there makes two fours.
	placeAll(&b, Black,
		Move{7, 4}, Move{7, 5}, Move{7, 6},
		Move{4, 7}, Move{5, 7}, Move{6, 7})
	// Block the open ends so neither four is a five already.
	placeAll(&b, White, Move{7, 3}, Move{3, 7})
	assert.True(t, IsForbidden(b, Move{7, 7}, Black))
}

func TestForbiddenFiveOverrides(t *testing.T) {
	b := NewBoard(15)
	// A five completion is always legal even if it also makes a double four.
	placeAll(&b, Black,
		Move{7, 3}, Move{7, 4}, Move{7, 5}, Move{7, 6},
		Move{4, 7}, Move{5, 7}, Move{6, 7})
	assert.False(t, IsForbidden(b, Move{7, 7}, Black))
}

func TestSingleOpenThreeNotForbidden(t *testing.T) {
	b := NewBoard(15)
	placeAll(&b, Black, Move{7, 5}, Move{7, 6})
	assert.False(t, IsForbidden(b, Move{7, 7}, Black))
}

func TestBoardEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBoard(5)
	b.Set(0, 0, Black)
	b.Set(2, 3, White)
	b.Set(4, 4, Black)

	enc := b.Encode()
	back, ok := DecodeBoard(enc)
	require.True(t, ok)
	assert.Equal(t, enc, back.Encode())
	assert.Equal(t, Black, back.At(0, 0))
	assert.Equal(t, White, back.At(2, 3))
}

func TestCloneIsIndependent(t *testing.T) {
	b := NewBoard(15)
	b.Set(7, 7, Black)
	c := b.Clone()
	c.Set(0, 0, White)
	assert.Equal(t, Empty, b.At(0, 0))
	assert.Equal(t, Black, c.At(7, 7))
}
