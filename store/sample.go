// Package store holds the replay-buffer sample schema, the JSONL buffer
// writer, and the parquet archive converter used by the trainer hand-off.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fiverow/fiverow/game"
)

// CellState marshals a board cell as null / "black" / "white".
type CellState game.Stone

func (c CellState) MarshalJSON() ([]byte, error) {
	switch game.Stone(c) {
	case game.Black:
		return []byte(`"black"`), nil
	case game.White:
		return []byte(`"white"`), nil
	}
	return []byte("null"), nil
}

func (c *CellState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*c = CellState(game.Empty)
	case `"black"`:
		*c = CellState(game.Black)
	case `"white"`:
		*c = CellState(game.White)
	default:
		return fmt.Errorf("invalid cell %s", data)
	}
	return nil
}

// BoardState is the row-major JSON rendering of a board.
type BoardState [][]CellState

func BoardStateFrom(b game.Board) BoardState {
	size := b.Size()
	out := make(BoardState, size)
	for r := 0; r < size; r++ {
		row := make([]CellState, size)
		for c := 0; c < size; c++ {
			row[c] = CellState(b.At(r, c))
		}
		out[r] = row
	}
	return out
}

// Board converts back to a game board; false when rows are ragged.
func (s BoardState) Board() (game.Board, bool) {
	size := len(s)
	b := game.NewBoard(size)
	for r, row := range s {
		if len(row) != size {
			return game.Board{}, false
		}
		for c, cell := range row {
			b.Set(r, c, game.Stone(cell))
		}
	}
	return b, true
}

// SampleMeta carries the provenance of one training sample.
type SampleMeta struct {
	Source     string         `json:"source"`
	GameID     string         `json:"gameId"`
	MoveIndex  int            `json:"moveIndex"`
	TotalMoves int            `json:"totalMoves"`
	Result     int            `json:"result"`
	Tags       []string       `json:"tags"`
	Extra      map[string]any `json:"extra"`
}

// Sample is one supervised training example, stored as one JSON object per
// line in the replay buffer.
type Sample struct {
	State         BoardState `json:"state"`
	Player        string     `json:"player"`
	MCTSPolicy    []float32  `json:"mcts_policy"`
	TeacherPolicy []float32  `json:"teacher_policy"`
	TeacherValue  float32    `json:"teacher_value"`
	FinalValue    int        `json:"final_value"`
	Meta          SampleMeta `json:"meta"`
}

// ReadSamplesJSONL loads every sample from one replay file.
func ReadSamplesJSONL(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []Sample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}
