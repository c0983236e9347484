package game

// The four line directions used by win detection and the threat scans.
var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// CandidateRadius is the Chebyshev radius used for move generation: 2 while
// the board is sparse, 1 afterwards.
func CandidateRadius(b Board) int {
	limit := b.Size() / 3
	if limit < 6 {
		limit = 6
	}
	if b.Stones() <= limit {
		return 2
	}
	return 1
}

// LegalMoves returns the empty cells within Chebyshev distance radius of any
// stone. On an empty board it returns the single center cell.
func LegalMoves(b Board, radius int) []Move {
	size := b.Size()
	if b.Stones() == 0 {
		return []Move{{size / 2, size / 2}}
	}
	seen := make([]bool, size*size)
	moves := make([]Move, 0, 64)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			if b.At(r, c) == Empty {
				continue
			}
			for dr := -radius; dr <= radius; dr++ {
				for dc := -radius; dc <= radius; dc++ {
					rr, cc := r+dr, c+dc
					if !b.InBounds(rr, cc) || b.At(rr, cc) != Empty {
						continue
					}
					idx := rr*size + cc
					if seen[idx] {
						continue
					}
					seen[idx] = true
					moves = append(moves, Move{rr, cc})
				}
			}
		}
	}
	return moves
}

func countDirection(b Board, m Move, dr, dc int, s Stone) int {
	n := 0
	r, c := m.R+dr, m.C+dc
	for b.InBounds(r, c) && b.At(r, c) == s {
		n++
		r += dr
		c += dc
	}
	return n
}

// CheckWin reports whether placing lastMove produced a contiguous run of at
// least five player stones. The stone must already be on the board.
func CheckWin(b Board, player Stone, lastMove Move) bool {
	if !lastMove.Valid(b.Size()) || b.At(lastMove.R, lastMove.C) != player {
		return false
	}
	for _, d := range directions {
		run := 1 +
			countDirection(b, lastMove, d[0], d[1], player) +
			countDirection(b, lastMove, -d[0], -d[1], player)
		if run >= 5 {
			return true
		}
	}
	return false
}

// MakesFive reports whether player placing at m would complete a five.
// The cell must be empty.
func MakesFive(b Board, player Stone, m Move) bool {
	if !b.IsEmpty(m.R, m.C) {
		return false
	}
	b.Set(m.R, m.C, player)
	win := CheckWin(b, player, m)
	b.Remove(m.R, m.C)
	return win
}

// cellState classifies a board cell relative to player: 1 friendly, 0 empty,
// -1 opponent or out of bounds.
func cellState(b Board, r, c int, player Stone) int {
	if !b.InBounds(r, c) {
		return -1
	}
	switch b.At(r, c) {
	case player:
		return 1
	case Empty:
		return 0
	}
	return -1
}

// openThreeInDirection reports whether, with the stone at m already placed,
// some 6-cell window along (dr,dc) through m has empty endpoints framing
// exactly three friendly stones and one empty, with no opponent stones.
func openThreeInDirection(b Board, m Move, dr, dc int, player Stone) bool {
	// The window start offset ranges so that m is one of the four inner cells.
	for off := -4; off <= -1; off++ {
		friendly, inner := 0, 0
		ok := true
		for i := 0; i < 6; i++ {
			r := m.R + (off+i)*dr
			c := m.C + (off+i)*dc
			st := cellState(b, r, c, player)
			if i == 0 || i == 5 {
				if st != 0 {
					ok = false
					break
				}
				continue
			}
			switch st {
			case 1:
				friendly++
			case 0:
				inner++
			default:
				ok = false
			}
			if !ok {
				break
			}
		}
		if ok && friendly == 3 && inner == 1 {
			return true
		}
	}
	return false
}

// fourInDirection reports whether, with the stone at m already placed, some
// 5-cell window along (dr,dc) through m holds exactly four friendly stones
// and one empty, with no opponent stones.
func fourInDirection(b Board, m Move, dr, dc int, player Stone) bool {
	for off := -4; off <= 0; off++ {
		friendly, empty := 0, 0
		ok := true
		for i := 0; i < 5; i++ {
			r := m.R + (off+i)*dr
			c := m.C + (off+i)*dc
			switch cellState(b, r, c, player) {
			case 1:
				friendly++
			case 0:
				empty++
			default:
				ok = false
			}
			if !ok {
				break
			}
		}
		if ok && friendly == 4 && empty == 1 {
			return true
		}
	}
	return false
}

// IsForbidden implements the 3-3 / 4-4 rule for black. A move that completes
// a five is always legal. White moves are never forbidden.
func IsForbidden(b Board, m Move, player Stone) bool {
	if player != Black || !b.IsEmpty(m.R, m.C) {
		return false
	}
	b.Set(m.R, m.C, player)
	defer b.Remove(m.R, m.C)

	if CheckWin(b, player, m) {
		return false
	}

	openThrees, fours := 0, 0
	for _, d := range directions {
		if openThreeInDirection(b, m, d[0], d[1], player) {
			openThrees++
		}
		if fourInDirection(b, m, d[0], d[1], player) {
			fours++
		}
	}
	return openThrees >= 2 || fours >= 2
}
