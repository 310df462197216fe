package domain

import "fmt"

const (
	// Levels is the number of layers of the pyramid.
	Levels = 4
	// BaseSize is the width of level 0.
	BaseSize = 4
	// InitialTokens is the reserve each player starts with.
	InitialTokens = 15
)

// Player identifies one side of a game by seat (0 or 1).
type Player int

// Cell returns the cell value that marks a token of this player.
func (p Player) Cell() Cell {
	return Cell(p + 1)
}

// Opponent returns the other seat.
func (p Player) Opponent() Player {
	return 1 - p
}

// Cell is the content of a board position.
type Cell uint8

const (
	// Empty marks a free position.
	Empty Cell = 0
	// Light is a token of seat 0.
	Light Cell = 1
	// Dark is a token of seat 1.
	Dark Cell = 2
)

// Coord addresses a single cell of the pyramid.
type Coord struct {
	X     int
	Y     int
	Level int
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,L%d)", c.X, c.Y, c.Level)
}

// LevelSize returns the width of the square grid at the given level.
func LevelSize(level int) int {
	return BaseSize - level
}

// Board is the pyramid indexed as [level][x][y]. Only the top-left
// LevelSize(level) x LevelSize(level) cells of each level are used.
// It is a value type: assigning a Board copies it.
type Board [Levels][BaseSize][BaseSize]Cell

// IsOnBoard reports whether (level, x, y) addresses a real cell.
func IsOnBoard(level, x, y int) bool {
	if level < 0 || level >= Levels {
		return false
	}
	size := LevelSize(level)
	return x >= 0 && x < size && y >= 0 && y < size
}

// At returns the cell at c, or Empty when c is off the board.
func (b *Board) At(c Coord) Cell {
	if !IsOnBoard(c.Level, c.X, c.Y) {
		return Empty
	}
	return b[c.Level][c.X][c.Y]
}

// IsSupported reports whether (level, x, y) is an empty cell that may take a token:
// any empty cell of level 0, or an empty cell whose 2x2 footprint below is full.
func IsSupported(b *Board, level, x, y int) bool {
	if !IsOnBoard(level, x, y) || b[level][x][y] != Empty {
		return false
	}
	if level == 0 {
		return true
	}
	for xi := x; xi <= x+1; xi++ {
		for yi := y; yi <= y+1; yi++ {
			if b[level-1][xi][yi] == Empty {
				return false
			}
		}
	}
	return true
}

// IsRemovable reports whether (level, x, y) holds a token of owner that nothing
// rests on: every cell of the overlapping 2x2 window one level up is empty.
func IsRemovable(b *Board, level, x, y int, owner Player) bool {
	if !IsOnBoard(level, x, y) || b[level][x][y] != owner.Cell() {
		return false
	}
	if level == Levels-1 {
		return true
	}
	above := level + 1
	for xi := x - 1; xi <= x; xi++ {
		for yi := y - 1; yi <= y; yi++ {
			if IsOnBoard(above, xi, yi) && b[above][xi][yi] != Empty {
				return false
			}
		}
	}
	return true
}

// Put writes a token of p at c. It panics when c is not a supported empty cell;
// callers only apply moves taken from the legal set.
func (b *Board) Put(c Coord, p Player) {
	if !IsSupported(b, c.Level, c.X, c.Y) {
		panic(fmt.Sprintf("domain: put on unsupported cell %s", c))
	}
	b[c.Level][c.X][c.Y] = p.Cell()
}

// Take clears a token of p at c. It panics when the cell is not a removable token of p.
func (b *Board) Take(c Coord, p Player) {
	if !IsRemovable(b, c.Level, c.X, c.Y, p) {
		panic(fmt.Sprintf("domain: take of %s not removable by seat %d", c, p))
	}
	b[c.Level][c.X][c.Y] = Empty
}

// Count returns how many tokens of p are on the board.
func (b *Board) Count(p Player) int {
	n := 0
	for level := 0; level < Levels; level++ {
		size := LevelSize(level)
		for x := 0; x < size; x++ {
			for y := 0; y < size; y++ {
				if b[level][x][y] == p.Cell() {
					n++
				}
			}
		}
	}
	return n
}

// Layers returns the board as ragged nested slices [level][x][y] of cell values,
// the shape used on the wire.
func (b *Board) Layers() [][][]int {
	out := make([][][]int, Levels)
	for level := 0; level < Levels; level++ {
		size := LevelSize(level)
		out[level] = make([][]int, size)
		for x := 0; x < size; x++ {
			row := make([]int, size)
			for y := 0; y < size; y++ {
				row[y] = int(b[level][x][y])
			}
			out[level][x] = row
		}
	}
	return out
}

// BoardFromLayers builds a Board from the wire shape. Cells outside the pyramid
// or with values other than 0..2 are rejected.
func BoardFromLayers(layers [][][]int) (Board, error) {
	var b Board
	if len(layers) != Levels {
		return b, fmt.Errorf("board has %d levels, want %d", len(layers), Levels)
	}
	for level, rows := range layers {
		size := LevelSize(level)
		if len(rows) != size {
			return b, fmt.Errorf("level %d has %d rows, want %d", level, len(rows), size)
		}
		for x, row := range rows {
			if len(row) != size {
				return b, fmt.Errorf("level %d row %d has %d cells, want %d", level, x, len(row), size)
			}
			for y, v := range row {
				if v < int(Empty) || v > int(Dark) {
					return b, fmt.Errorf("level %d cell (%d,%d) has value %d", level, x, y, v)
				}
				b[level][x][y] = Cell(v)
			}
		}
	}
	return b, nil
}
