package book

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiverow/fiverow/game"
)

func writeBook(t *testing.T, entries []Entry) string {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "book.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLookupTransformedQuery(t *testing.T) {
	// Asymmetric position: no transform maps the stone set onto itself,
	// so the canonical orientation is unambiguous.
	b := game.NewBoard(9)
	b.Set(4, 4, game.Black)
	b.Set(3, 5, game.White)
	b.Set(1, 2, game.Black)
	best := game.Move{R: 5, C: 3}

	path := writeBook(t, []Entry{{
		BoardHash: b.Encode(),
		BestMove:  [2]int{best.R, best.C},
		MoveCount: 2,
	}})

	bk, skipped, err := Load(path, 9)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, 1, bk.Len())

	// The stored orientation matches directly.
	mv, ok := bk.Lookup(b)
	require.True(t, ok)
	assert.Equal(t, best, mv)

	// Any symmetry of the position hits the same entry, with the reply
	// mapped back into the query orientation.
	for _, tr := range game.AllTransforms {
		q := tr.Apply(b)
		mv, ok := bk.Lookup(q)
		require.True(t, ok, "transform %d", tr)
		assert.Equal(t, tr.ApplyMove(best, 9), mv)
		assert.True(t, q.IsEmpty(mv.R, mv.C))
	}
}

func TestLookupMissAndSizeMismatch(t *testing.T) {
	b := game.NewBoard(9)
	b.Set(4, 4, game.Black)
	path := writeBook(t, []Entry{{BoardHash: b.Encode(), BestMove: [2]int{4, 5}}})

	bk, _, err := Load(path, 9)
	require.NoError(t, err)

	other := game.NewBoard(9)
	other.Set(0, 0, game.White)
	_, ok := bk.Lookup(other)
	assert.False(t, ok)

	_, ok = bk.Lookup(game.NewBoard(15))
	assert.False(t, ok)
}

func TestLoadSkipsBadEntries(t *testing.T) {
	good := game.NewBoard(9)
	good.Set(4, 4, game.Black)
	occupied := game.NewBoard(9)
	occupied.Set(2, 2, game.White)

	path := writeBook(t, []Entry{
		{BoardHash: good.Encode(), BestMove: [2]int{4, 5}},
		{BoardHash: "garbage", BestMove: [2]int{0, 0}},
		{BoardHash: occupied.Encode(), BestMove: [2]int{2, 2}}, // occupied cell
		{BoardHash: good.Encode(), BestMove: [2]int{99, 0}},    // out of range
	})

	bk, skipped, err := Load(path, 9)
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	assert.Equal(t, 1, bk.Len())
}
