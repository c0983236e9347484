// Package book loads the opening book and answers canonicalized lookups.
// The book is built externally; this side only consumes it.
package book

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fiverow/fiverow/game"
)

// Entry is one opening-book record on disk: the board encoded as rows
// joined by '|' with 'b'/'w'/'-' cells, and the best reply in that
// orientation.
type Entry struct {
	BoardHash string `json:"board_hash"`
	BestMove  [2]int `json:"best_move"`
	MoveCount int    `json:"move_count,omitempty"`
}

// Book maps canonical position encodings to the best move expressed in the
// canonical orientation.
type Book struct {
	size    int
	entries map[string]game.Move
}

// Load parses the book file and canonicalizes every entry. Entries whose
// board does not decode, mismatches the expected size, or whose move is
// occupied are skipped with an error count rather than failing the load.
func Load(path string, size int) (*Book, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	var raw []Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("parse book: %w", err)
	}

	b := &Book{size: size, entries: make(map[string]game.Move, len(raw))}
	skipped := 0
	for _, e := range raw {
		board, ok := game.DecodeBoard(e.BoardHash)
		if !ok || board.Size() != size {
			skipped++
			continue
		}
		mv := game.Move{R: e.BestMove[0], C: e.BestMove[1]}
		if !mv.Valid(size) || !board.IsEmpty(mv.R, mv.C) {
			skipped++
			continue
		}
		canon, tr := game.Canonical(board)
		b.entries[canon] = tr.ApplyMove(mv, size)
	}
	return b, skipped, nil
}

func (b *Book) Len() int { return len(b.entries) }

// Lookup canonicalizes the query board, fetches the stored canonical move
// and maps it back to the query's orientation. The returned cell is
// guaranteed empty on the query board.
func (b *Book) Lookup(board game.Board) (game.Move, bool) {
	if board.Size() != b.size {
		return game.NoMove, false
	}
	canon, tr := game.Canonical(board)
	canonMove, ok := b.entries[canon]
	if !ok {
		return game.NoMove, false
	}
	mv := tr.Inverse().ApplyMove(canonMove, b.size)
	if !board.IsEmpty(mv.R, mv.C) {
		return game.NoMove, false
	}
	return mv, true
}
