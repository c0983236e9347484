package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiverow/fiverow/game"
)

func sampleFixture(gameID string, moveIndex int) Sample {
	b := game.NewBoard(5)
	b.Set(2, 2, game.Black)
	b.Set(1, 1, game.White)
	policy := make([]float32, 25)
	policy[12] = 1
	return Sample{
		State:         BoardStateFrom(b),
		Player:        "black",
		MCTSPolicy:    policy,
		TeacherPolicy: policy,
		TeacherValue:  0.5,
		FinalValue:    1,
		Meta: SampleMeta{
			Source:     "self_play",
			GameID:     gameID,
			MoveIndex:  moveIndex,
			TotalMoves: 9,
			Result:     1,
			Tags:       []string{"test"},
			Extra:      map[string]any{"note": "fixture"},
		},
	}
}

func TestSampleJSONRoundTrip(t *testing.T) {
	s := sampleFixture("g1", 3)
	data, err := json.Marshal(&s)
	require.NoError(t, err)

	// Empty cells serialize as JSON null.
	assert.Contains(t, string(data), `[null,null,null,null,null]`)
	assert.Contains(t, string(data), `"black"`)

	var back Sample
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s.Player, back.Player)
	assert.Equal(t, s.FinalValue, back.FinalValue)
	assert.Equal(t, s.Meta, back.Meta)

	b1, ok := s.State.Board()
	require.True(t, ok)
	b2, ok := back.State.Board()
	require.True(t, ok)
	assert.Equal(t, b1.Encode(), b2.Encode())
}

func TestBufferFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	buf, err := NewBuffer(dir)
	require.NoError(t, err)

	buf.Add(sampleFixture("g1", 0), sampleFixture("g1", 1))
	assert.Equal(t, 2, buf.Len())

	path, n, err := buf.Flush()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, dir, filepath.Dir(path))

	samples, err := ReadSamplesJSONL(path)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 0, samples[0].Meta.MoveIndex)
	assert.Equal(t, 1, samples[1].Meta.MoveIndex)
}

func TestBufferEmptyFlushIsNoop(t *testing.T) {
	buf, err := NewBuffer(t.TempDir())
	require.NoError(t, err)
	path, n, err := buf.Flush()
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, n)
}

func TestBufferFileNamesSortChronologically(t *testing.T) {
	dir := t.TempDir()
	buf, err := NewBuffer(dir)
	require.NoError(t, err)

	var names []string
	for i := 0; i < 3; i++ {
		buf.Add(sampleFixture("g", i))
		path, _, err := buf.Flush()
		require.NoError(t, err)
		names = append(names, filepath.Base(path))
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, names)
	for _, name := range names {
		assert.True(t, strings.HasPrefix(name, "samples_"))
		assert.True(t, strings.HasSuffix(name, ".jsonl"))
	}
}

func TestArchiveRowRoundTrip(t *testing.T) {
	s := sampleFixture("g7", 4)
	row, err := ArchiveRowFrom(s)
	require.NoError(t, err)
	assert.Equal(t, "g7", row.GameID)
	assert.Equal(t, int32(5), row.BoardSize)
	assert.Equal(t, int32(1), row.FinalValue)

	b, ok := row.Board()
	require.True(t, ok)
	assert.Equal(t, game.Black, b.At(2, 2))
	assert.Equal(t, game.White, b.At(1, 1))
}

func TestWriteAndReadArchiveParquet(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "batch.parquet")

	rows := make([]ArchiveRow, 0, 3)
	for i := 0; i < 3; i++ {
		row, err := ArchiveRowFrom(sampleFixture("g9", i))
		require.NoError(t, err)
		rows = append(rows, row)
	}
	require.NoError(t, WriteArchiveParquet(out, rows))

	// No temp residue.
	_, err := os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err))

	back, err := ReadArchiveParquet(out)
	require.NoError(t, err)
	require.Len(t, back, 3)
	assert.Equal(t, rows[0].State, back[0].State)
	assert.Equal(t, rows[2].MoveIndex, back[2].MoveIndex)
}
