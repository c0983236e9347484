package game

// Transform is one of the eight dihedral symmetries of the square board.
type Transform int

const (
	Identity Transform = iota
	Rot90
	Rot180
	Rot270
	FlipH
	FlipV
	Transpose
	AntiTranspose
)

// AllTransforms is ordered so that prefixes of length 1 and 4 are themselves
// closed enough for adaptive symmetry averaging (identity first, then the
// rotations, then the reflections).
var AllTransforms = [8]Transform{
	Identity, Rot90, Rot180, Rot270, FlipH, FlipV, Transpose, AntiTranspose,
}

// ApplyMove maps a coordinate of the original board onto the transformed board.
func (t Transform) ApplyMove(m Move, size int) Move {
	n := size - 1
	switch t {
	case Rot90:
		return Move{m.C, n - m.R}
	case Rot180:
		return Move{n - m.R, n - m.C}
	case Rot270:
		return Move{n - m.C, m.R}
	case FlipH:
		return Move{m.R, n - m.C}
	case FlipV:
		return Move{n - m.R, m.C}
	case Transpose:
		return Move{m.C, m.R}
	case AntiTranspose:
		return Move{n - m.C, n - m.R}
	}
	return m
}

// Inverse returns the transform that undoes t.
func (t Transform) Inverse() Transform {
	switch t {
	case Rot90:
		return Rot270
	case Rot270:
		return Rot90
	}
	// All remaining transforms are involutions.
	return t
}

// Apply returns a transformed copy of the board.
func (t Transform) Apply(b Board) Board {
	if t == Identity {
		return b.Clone()
	}
	size := b.Size()
	out := NewBoard(size)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			s := b.At(r, c)
			if s == Empty {
				continue
			}
			m := t.ApplyMove(Move{r, c}, size)
			out.Set(m.R, m.C, s)
		}
	}
	return out
}

// ApplyPolicy remaps a flat policy vector into the transformed orientation.
func (t Transform) ApplyPolicy(policy []float32, size int) []float32 {
	out := make([]float32, len(policy))
	for idx, p := range policy {
		if p == 0 {
			continue
		}
		m := t.ApplyMove(MoveFromFlat(idx, size), size)
		out[m.Flat(size)] = p
	}
	return out
}

// Canonical returns the lexicographically minimal encoding over all eight
// symmetries together with the transform that produced it. The encoding is
// the invariant key for the transposition table, the prediction cache and
// the opening book.
func Canonical(b Board) (string, Transform) {
	best := ""
	bestT := Identity
	for _, t := range AllTransforms {
		enc := t.Apply(b).Encode()
		if best == "" || enc < best {
			best = enc
			bestT = t
		}
	}
	return best, bestT
}

// CanonicalKey is Canonical plus the side to move, usable as a cache key.
func CanonicalKey(b Board, toMove Stone) (string, Transform) {
	enc, t := Canonical(b)
	if toMove == White {
		return enc + "#w", t
	}
	return enc + "#b", t
}
