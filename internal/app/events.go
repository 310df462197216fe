package app

import "pylos/internal/domain"

// EventKind identifies emitted game events for transport dispatch.
type EventKind string

const (
	EventGameState EventKind = "game_state"
	EventYourMove  EventKind = "your_move"
	EventGameOver  EventKind = "game_over"
)

// Event is an app event with optional targeted recipients.
type Event struct {
	Kind    EventKind
	Payload any
	// Recipients are seats; empty means every connection, spectators included.
	Recipients []int
	// Paced events are delivered only after the animation pause.
	Paced bool
}

type StatePayload struct {
	State domain.Snapshot
}

type GameOverPayload struct {
	WinnerSeat   domain.Player
	WinnerID     int64
	WinnerName   string
	WinnerTokens int
	// LoserID is zero when the game ended before a second player joined.
	LoserID int64
}
