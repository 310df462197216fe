package domain

import "fmt"

// Phase represents the lifecycle stage of a game.
type Phase string

const (
	// PhaseAwaitingPlayers is the state before the second player joins.
	PhaseAwaitingPlayers Phase = "awaiting_players"
	// PhaseActive is the state where moves are played.
	PhaseActive Phase = "active"
	// PhaseFinished is terminal; the game never changes again.
	PhaseFinished Phase = "finished"
)

// Spectator is the player id used by connections that only watch.
const Spectator int64 = 0

// Game is the authoritative state of one game.
type Game struct {
	Name  string
	Phase Phase

	PlayerIDs   []int64  // seat -> player id, join order
	PlayerNames []string // seat -> display name

	Tokens [2]int // reserve per seat
	Turn   int    // completed turns; the side to move is (Turn+1)%2
	Board  Board

	// Legal caches the legal moves of the side to move.
	Legal []Move

	Winner Player // valid once Phase is PhaseFinished
}

// Snapshot is an immutable copy of what clients see.
type Snapshot struct {
	Turn        int
	PlayerIDs   []int64
	PlayerNames []string
	Tokens      [2]int
	Board       Board
	Legal       []Move
}

// NewGame returns an empty game waiting for players.
func NewGame(name string, initialTokens int) *Game {
	if initialTokens <= 0 {
		initialTokens = InitialTokens
	}
	g := &Game{
		Name:   name,
		Phase:  PhaseAwaitingPlayers,
		Tokens: [2]int{initialTokens, initialTokens},
	}
	g.RefreshLegal()
	return g
}

// SideToMove returns the seat expected to play next.
func (g *Game) SideToMove() Player {
	return Player((g.Turn + 1) % 2)
}

// LastMover returns the seat that played the last completed turn.
func (g *Game) LastMover() Player {
	return Player(g.Turn % 2)
}

// IsFinished reports whether the game reached its terminal phase.
func (g *Game) IsFinished() bool {
	return g.Phase == PhaseFinished
}

// Seat returns the seat of a player id, or -1.
func (g *Game) Seat(playerID int64) int {
	for i, id := range g.PlayerIDs {
		if id == playerID {
			return i
		}
	}
	return -1
}

// ComputeLegal returns the legal moves of the side to move on the current board.
func (g *Game) ComputeLegal() []Move {
	p := g.SideToMove()
	return LegalMovesWithReserve(&g.Board, p, g.Tokens[p])
}

// RefreshLegal recomputes the cached legal set.
func (g *Game) RefreshLegal() {
	g.Legal = g.ComputeLegal()
}

// IsLegal reports whether m belongs to the cached legal set.
func (g *Game) IsLegal(m Move) bool {
	for _, legal := range g.Legal {
		if legal == m {
			return true
		}
	}
	return false
}

// Place puts a reserve token of p at c.
func (g *Game) Place(c Coord, p Player) {
	g.Board.Put(c, p)
	g.Tokens[p]--
}

// Remove returns the token of p at c to its reserve. A token that does not
// belong to p means the legal cache and the board diverged, which is fatal.
func (g *Game) Remove(c Coord, p Player) {
	if got := g.Board.At(c); got != p.Cell() {
		panic(fmt.Sprintf("domain: removing %s owned by %d, mover is seat %d", c, got, p))
	}
	g.Board.Take(c, p)
	g.Tokens[p]++
}

// Snapshot copies the visible state, computing the legal moves of the side to
// move on the board as it is now.
func (g *Game) Snapshot() Snapshot {
	return Snapshot{
		Turn:        g.Turn,
		PlayerIDs:   append([]int64(nil), g.PlayerIDs...),
		PlayerNames: append([]string(nil), g.PlayerNames...),
		Tokens:      g.Tokens,
		Board:       g.Board,
		Legal:       g.ComputeLegal(),
	}
}
