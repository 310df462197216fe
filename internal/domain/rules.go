package domain

// LegalMoves returns every legal move of player p on b, in a stable order:
// puts, then lifts, then squares, each by level, x, y.
// An empty result means p cannot move, which ends the game.
func LegalMoves(b *Board, p Player) []Move {
	moves := legalPuts(b)
	moves = append(moves, legalMoveUps(b, p)...)
	moves = append(moves, legalSquares(b, p)...)
	return moves
}

// LegalMovesWithReserve is LegalMoves for a player holding reserve tokens.
// Without tokens in reserve only board-internal lifts remain.
func LegalMovesWithReserve(b *Board, p Player, reserve int) []Move {
	if reserve > 0 {
		return LegalMoves(b, p)
	}
	return legalMoveUps(b, p)
}

// supportedCells lists the empty supported cells of a level.
func supportedCells(b *Board, level int) []Coord {
	var cells []Coord
	size := LevelSize(level)
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			if IsSupported(b, level, x, y) {
				cells = append(cells, Coord{X: x, Y: y, Level: level})
			}
		}
	}
	return cells
}

// removableCells lists the tokens of p that may be lifted from a level.
func removableCells(b *Board, level int, p Player) []Coord {
	var cells []Coord
	size := LevelSize(level)
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			if IsRemovable(b, level, x, y, p) {
				cells = append(cells, Coord{X: x, Y: y, Level: level})
			}
		}
	}
	return cells
}

// removableUpTo lists removable tokens of p on levels 0..maxLevel.
func removableUpTo(b *Board, p Player, maxLevel int) []Coord {
	var cells []Coord
	for level := 0; level <= maxLevel; level++ {
		cells = append(cells, removableCells(b, level, p)...)
	}
	return cells
}

func legalPuts(b *Board) []Move {
	var moves []Move
	for level := 0; level < Levels; level++ {
		for _, c := range supportedCells(b, level) {
			moves = append(moves, Put(c))
		}
	}
	return moves
}

// legalMoveUps only lifts 0->1 and 1->2; the apex is never reached by a lift.
func legalMoveUps(b *Board, p Player) []Move {
	var moves []Move
	for from := 0; from <= 1; from++ {
		targets := supportedCells(b, from+1)
		if len(targets) == 0 {
			continue
		}
		takes := removableCells(b, from, p)
		for _, to := range targets {
			for _, take := range takes {
				if inFootprint(to, take) {
					continue
				}
				moves = append(moves, MoveUp(to, take))
			}
		}
	}
	return moves
}

// inFootprint reports whether c is one of the four cells supporting to.
func inFootprint(to, c Coord) bool {
	return c.Level == to.Level-1 &&
		c.X >= to.X && c.X <= to.X+1 &&
		c.Y >= to.Y && c.Y <= to.Y+1
}

func legalSquares(b *Board, p Player) []Move {
	var moves []Move
	for level := 0; level < Levels-1; level++ {
		for _, to := range supportedCells(b, level) {
			placed := *b
			placed[to.Level][to.X][to.Y] = p.Cell()
			if !completesSquare(&placed, to, p) {
				continue
			}
			for _, take := range removableUpTo(&placed, p, Levels-2) {
				moves = append(moves, Square(to, take))

				taken := placed
				taken[take.Level][take.X][take.Y] = Empty
				for _, second := range removableUpTo(&taken, p, Levels-2) {
					moves = append(moves, SquareDouble(to, take, second))
				}
			}
		}
	}
	return moves
}

// squareWindows are the top-left offsets of the four 2x2 windows containing a cell.
var squareWindows = [4][2]int{{0, 0}, {-1, 0}, {-1, -1}, {0, -1}}

// completesSquare reports whether c lies in a 2x2 window of its level owned entirely by p.
func completesSquare(b *Board, c Coord, p Player) bool {
	for _, w := range squareWindows {
		x0, y0 := c.X+w[0], c.Y+w[1]
		if !IsOnBoard(c.Level, x0, y0) || !IsOnBoard(c.Level, x0+1, y0+1) {
			continue
		}
		if b[c.Level][x0][y0] == p.Cell() &&
			b[c.Level][x0+1][y0] == p.Cell() &&
			b[c.Level][x0][y0+1] == p.Cell() &&
			b[c.Level][x0+1][y0+1] == p.Cell() {
			return true
		}
	}
	return false
}
