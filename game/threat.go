package game

// Threats is the result of a deterministic threat scan for one player.
// Every slice is deduplicated; ordering follows the candidate scan order.
type Threats struct {
	// Wins are cells whose placement completes a five.
	Wins []Move
	// OpenFours are cells whose placement creates a four with both
	// extensions empty (unblockable in a single reply).
	OpenFours []Move
	// Fours are cells whose placement creates a line of five with exactly
	// one gap, blockable at one end.
	Fours []Move
	// OpenThrees are cells whose placement produces an open four threat on
	// the following move.
	OpenThrees []Move
	// ConnectedThrees are cells producing a contiguous three with at least
	// one open end.
	ConnectedThrees []Move
	// LongLinks are cells bridging friendly stones along a line within
	// three-step gaps on both sides.
	LongLinks []Move
}

// DetectThreats scans the empty cells within three steps of the existing
// stones (the reach of a long link) and classifies each threat the player
// could create there.
func DetectThreats(b Board, player Stone) Threats {
	var th Threats
	for _, m := range LegalMoves(b, 3) {
		b.Set(m.R, m.C, player)
		if CheckWin(b, player, m) {
			th.Wins = append(th.Wins, m)
			b.Remove(m.R, m.C)
			continue
		}
		openFour, four, openThree, connectedThree, longLink := false, false, false, false, false
		for _, d := range directions {
			if !openFour && openFourInDirection(b, m, d[0], d[1], player) {
				openFour = true
			}
			if !four && fourInDirection(b, m, d[0], d[1], player) {
				four = true
			}
			if !openThree && openThreeInDirection(b, m, d[0], d[1], player) {
				openThree = true
			}
			if !connectedThree && connectedThreeInDirection(b, m, d[0], d[1], player) {
				connectedThree = true
			}
			if !longLink && longLinkInDirection(b, m, d[0], d[1], player) {
				longLink = true
			}
		}
		b.Remove(m.R, m.C)
		if openFour {
			th.OpenFours = append(th.OpenFours, m)
		}
		if four {
			th.Fours = append(th.Fours, m)
		}
		if openThree {
			th.OpenThrees = append(th.OpenThrees, m)
		}
		if connectedThree {
			th.ConnectedThrees = append(th.ConnectedThrees, m)
		}
		if longLink {
			th.LongLinks = append(th.LongLinks, m)
		}
	}
	return th
}

// openFourInDirection reports a contiguous four through m with both
// extensions empty.
func openFourInDirection(b Board, m Move, dr, dc int, player Stone) bool {
	fwd := countDirection(b, m, dr, dc, player)
	back := countDirection(b, m, -dr, -dc, player)
	if 1+fwd+back != 4 {
		return false
	}
	r1, c1 := m.R+(fwd+1)*dr, m.C+(fwd+1)*dc
	r2, c2 := m.R-(back+1)*dr, m.C-(back+1)*dc
	return cellState(b, r1, c1, player) == 0 && cellState(b, r2, c2, player) == 0
}

// connectedThreeInDirection reports a contiguous three through m with at
// least one open end.
func connectedThreeInDirection(b Board, m Move, dr, dc int, player Stone) bool {
	fwd := countDirection(b, m, dr, dc, player)
	back := countDirection(b, m, -dr, -dc, player)
	if 1+fwd+back != 3 {
		return false
	}
	r1, c1 := m.R+(fwd+1)*dr, m.C+(fwd+1)*dc
	r2, c2 := m.R-(back+1)*dr, m.C-(back+1)*dc
	return cellState(b, r1, c1, player) == 0 || cellState(b, r2, c2, player) == 0
}

// longLinkInDirection reports friendly stones within three steps on both
// sides of m along the line, with nothing hostile in between.
func longLinkInDirection(b Board, m Move, dr, dc int, player Stone) bool {
	return linkSide(b, m, dr, dc, player) && linkSide(b, m, -dr, -dc, player)
}

func linkSide(b Board, m Move, dr, dc int, player Stone) bool {
	for i := 1; i <= 3; i++ {
		switch cellState(b, m.R+i*dr, m.C+i*dc, player) {
		case 1:
			return true
		case -1:
			return false
		}
	}
	return false
}
