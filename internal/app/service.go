package app

import (
	"errors"
	"fmt"

	"pylos/internal/domain"
)

// Service contains Pylos use-cases operating on domain state.
// It never blocks and never talks to connections: every transition returns the
// events the transport has to deliver, in order.
type Service struct {
	initialTokens int
}

// NewService constructs a Service; initialTokens <= 0 selects the standard reserve.
func NewService(initialTokens int) *Service {
	if initialTokens <= 0 {
		initialTokens = domain.InitialTokens
	}
	return &Service{initialTokens: initialTokens}
}

var (
	ErrGameFull         = errors.New("game already has two players")
	ErrGameFinished     = errors.New("game is finished")
	ErrSpectator        = errors.New("spectators cannot take a seat")
	ErrPermissionDenied = errors.New("permission denied")
	ErrIllegalMove      = errors.New("illegal move")
)

// NewGame creates an empty game waiting for players.
func (s *Service) NewGame(name string) *domain.Game {
	return domain.NewGame(name, s.initialTokens)
}

// Join seats a player. When the second seat is taken the game becomes active and
// the opening state is broadcast, followed by a private notice to the side to move.
func (s *Service) Join(game *domain.Game, playerID int64, name string) (int, []Event, error) {
	if game.IsFinished() {
		return -1, nil, ErrGameFinished
	}
	if playerID == domain.Spectator {
		return -1, nil, ErrSpectator
	}
	if len(game.PlayerIDs) >= PlayersPerGame {
		return -1, nil, ErrGameFull
	}

	game.PlayerIDs = append(game.PlayerIDs, playerID)
	game.PlayerNames = append(game.PlayerNames, name)
	seat := len(game.PlayerIDs) - 1

	if len(game.PlayerIDs) < PlayersPerGame {
		return seat, nil, nil
	}

	game.Phase = domain.PhaseActive
	game.RefreshLegal()
	events := []Event{
		stateEvent(game, false),
		yourMoveEvent(game),
	}
	return seat, events, nil
}

// Leave handles a player connection going away. Before the game starts the seat
// is freed; during the game the other player wins by forfeit.
func (s *Service) Leave(game *domain.Game, seat int) []Event {
	if game.IsFinished() || seat < 0 || seat >= len(game.PlayerIDs) {
		return nil
	}
	if game.Phase == domain.PhaseAwaitingPlayers {
		game.PlayerIDs = append(game.PlayerIDs[:seat], game.PlayerIDs[seat+1:]...)
		game.PlayerNames = append(game.PlayerNames[:seat], game.PlayerNames[seat+1:]...)
		return nil
	}
	return s.EndGame(game, domain.Player(seat).Opponent())
}

// PlayMove validates and applies a move sent from seat by playerID.
//
// A move from anyone but the side to move fails with ErrPermissionDenied and
// changes nothing. A move outside the cached legal set fails with ErrIllegalMove
// and finishes the game in favour of the other player; the returned events then
// carry the game over summary.
func (s *Service) PlayMove(game *domain.Game, seat int, playerID int64, move domain.Move) ([]Event, error) {
	if game.Phase != domain.PhaseActive {
		return nil, fmt.Errorf("%w: game is %s", ErrPermissionDenied, game.Phase)
	}
	mover := game.SideToMove()
	if seat != int(mover) || game.PlayerIDs[seat] != playerID {
		return nil, ErrPermissionDenied
	}
	if !game.IsLegal(move) {
		return s.EndGame(game, game.LastMover()), fmt.Errorf("%w: %s", ErrIllegalMove, move)
	}
	return s.apply(game, move), nil
}

// apply mutates the game one sub-step at a time; every sub-step yields a paced
// state frame so clients can animate it.
func (s *Service) apply(game *domain.Game, move domain.Move) []Event {
	game.Turn++
	player := game.LastMover()

	var events []Event
	switch move.Kind {
	case domain.KindPut:
		game.Place(move.To, player)
		events = append(events, stateEvent(game, true))
	case domain.KindMoveUp:
		game.Remove(move.Take, player)
		events = append(events, stateEvent(game, true))
		game.Place(move.To, player)
		events = append(events, stateEvent(game, true))
	case domain.KindSquare:
		game.Place(move.To, player)
		events = append(events, stateEvent(game, true))
		game.Remove(move.Take, player)
		events = append(events, stateEvent(game, true))
		if move.HasSecond {
			game.Remove(move.Second, player)
			events = append(events, stateEvent(game, true))
		}
	default:
		panic(fmt.Sprintf("app: legal set contained unknown move kind %q", move.Kind))
	}

	game.RefreshLegal()
	events = append(events, stateEvent(game, true), yourMoveEvent(game))
	if len(game.Legal) == 0 {
		events = append(events, s.EndGame(game, game.LastMover())...)
	}
	return events
}

// EndGame finishes the game with the given winner. Calling it on a finished
// game is a no-op.
func (s *Service) EndGame(game *domain.Game, winner domain.Player) []Event {
	if game.IsFinished() {
		return nil
	}
	game.Phase = domain.PhaseFinished
	game.Winner = winner

	payload := GameOverPayload{WinnerSeat: winner}
	if int(winner) < len(game.PlayerIDs) {
		payload.WinnerID = game.PlayerIDs[winner]
		payload.WinnerName = game.PlayerNames[winner]
		payload.WinnerTokens = game.Tokens[winner]
	}
	if loser := int(winner.Opponent()); loser < len(game.PlayerIDs) {
		payload.LoserID = game.PlayerIDs[loser]
	}
	return []Event{{Kind: EventGameOver, Payload: payload}}
}

func stateEvent(game *domain.Game, paced bool) Event {
	return Event{
		Kind:    EventGameState,
		Payload: StatePayload{State: game.Snapshot()},
		Paced:   paced,
	}
}

func yourMoveEvent(game *domain.Game) Event {
	return Event{
		Kind:       EventYourMove,
		Payload:    StatePayload{State: game.Snapshot()},
		Recipients: []int{int(game.SideToMove())},
	}
}
