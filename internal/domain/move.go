package domain

import "fmt"

// MoveKind is the category of a move.
type MoveKind string

const (
	// KindPut places a token from the reserve.
	KindPut MoveKind = "put"
	// KindMoveUp lifts an own token one level up.
	KindMoveUp MoveKind = "move"
	// KindSquare places a token completing a square, then removes one or two own tokens.
	KindSquare MoveKind = "square"
)

// Move is a single turn. Fields not used by Kind stay zero so moves can be
// compared with == and used as map keys.
type Move struct {
	Kind MoveKind
	// To is where the token is placed.
	To Coord
	// Take is the lifted token (MoveUp) or the first removal (Square).
	Take Coord
	// Second is the optional second removal of a Square.
	Second    Coord
	HasSecond bool
}

// Put builds a Put move.
func Put(to Coord) Move {
	return Move{Kind: KindPut, To: to}
}

// MoveUp builds a lift from take to to.
func MoveUp(to, take Coord) Move {
	return Move{Kind: KindMoveUp, To: to, Take: take}
}

// Square builds a Square move removing a single token.
func Square(to, take Coord) Move {
	return Move{Kind: KindSquare, To: to, Take: take}
}

// SquareDouble builds a Square move removing two tokens.
func SquareDouble(to, take, second Coord) Move {
	return Move{Kind: KindSquare, To: to, Take: take, Second: second, HasSecond: true}
}

func (m Move) String() string {
	switch m.Kind {
	case KindPut:
		return fmt.Sprintf("put %s", m.To)
	case KindMoveUp:
		return fmt.Sprintf("move %s->%s", m.Take, m.To)
	case KindSquare:
		if m.HasSecond {
			return fmt.Sprintf("square %s take %s %s", m.To, m.Take, m.Second)
		}
		return fmt.Sprintf("square %s take %s", m.To, m.Take)
	default:
		return fmt.Sprintf("unknown move %q", string(m.Kind))
	}
}
