package protocol

import (
	"fmt"

	"pylos/internal/app"
	"pylos/internal/domain"
)

const noSecond = -1

func intPtr(v int) *int { return &v }

// FromMove converts a domain move to its wire form (without type).
func FromMove(m domain.Move) MoveMsg {
	msg := MoveMsg{Cat: string(m.Kind), X: m.To.X, Y: m.To.Y, Level: m.To.Level}
	if m.Kind == domain.KindPut {
		return msg
	}
	msg.TakeX, msg.TakeY, msg.TakeLevel = intPtr(m.Take.X), intPtr(m.Take.Y), intPtr(m.Take.Level)
	if m.Kind != domain.KindSquare {
		return msg
	}
	if m.HasSecond {
		msg.TakeSqX, msg.TakeSqY, msg.TakeSqLevel = intPtr(m.Second.X), intPtr(m.Second.Y), intPtr(m.Second.Level)
	} else {
		msg.TakeSqX, msg.TakeSqY, msg.TakeSqLevel = intPtr(noSecond), intPtr(noSecond), intPtr(noSecond)
	}
	return msg
}

// ToMove converts a decoded move message into a domain move.
func (m MoveMsg) ToMove() (domain.Move, error) {
	to := domain.Coord{X: m.X, Y: m.Y, Level: m.Level}
	kind := domain.MoveKind(m.Cat)
	if kind == domain.KindPut {
		return domain.Put(to), nil
	}
	if m.TakeX == nil || m.TakeY == nil || m.TakeLevel == nil {
		return domain.Move{}, &MoveMsgError{Field: "take", Reason: "is required for " + m.Cat}
	}
	take := domain.Coord{X: *m.TakeX, Y: *m.TakeY, Level: *m.TakeLevel}
	switch kind {
	case domain.KindMoveUp:
		return domain.MoveUp(to, take), nil
	case domain.KindSquare:
		if m.TakeSqLevel == nil || *m.TakeSqLevel == noSecond {
			return domain.Square(to, take), nil
		}
		if m.TakeSqX == nil || m.TakeSqY == nil {
			return domain.Move{}, &MoveMsgError{Field: "take_sq", Reason: "is incomplete"}
		}
		return domain.SquareDouble(to, take, domain.Coord{X: *m.TakeSqX, Y: *m.TakeSqY, Level: *m.TakeSqLevel}), nil
	default:
		return domain.Move{}, &MoveMsgError{Field: "cat", Reason: fmt.Sprintf("%q is not put, move or square", m.Cat)}
	}
}

func stateFields(s domain.Snapshot) StateFields {
	legal := make([]MoveMsg, len(s.Legal))
	for i, m := range s.Legal {
		legal[i] = FromMove(m)
	}
	ids := s.PlayerIDs
	if ids == nil {
		ids = []int64{}
	}
	names := s.PlayerNames
	if names == nil {
		names = []string{}
	}
	return StateFields{
		Turn:         s.Turn,
		PlayersIDs:   ids,
		PlayersNames: names,
		Tokens:       []int{s.Tokens[0], s.Tokens[1]},
		Board:        s.Board.Layers(),
		Legal:        legal,
	}
}

// NewGameState builds a state broadcast from a snapshot.
func NewGameState(s domain.Snapshot) GameStateMsg {
	return GameStateMsg{Type: TypeGameState, StateFields: stateFields(s)}
}

// NewYourMove builds the private turn notice from a snapshot.
func NewYourMove(s domain.Snapshot) YourMoveMsg {
	return YourMoveMsg{Type: TypeYourMove, StateFields: stateFields(s)}
}

// NewGameOver builds the game over summary.
func NewGameOver(p app.GameOverPayload) GameOverMsg {
	return GameOverMsg{
		Type:         TypeGameOver,
		WinnerID:     p.WinnerID,
		WinnerName:   p.WinnerName,
		WinnerTokens: p.WinnerTokens,
	}
}

// FromEvent maps an app event to the message clients receive.
func FromEvent(ev app.Event) (Message, error) {
	switch ev.Kind {
	case app.EventGameState:
		p, ok := ev.Payload.(app.StatePayload)
		if !ok {
			return nil, fmt.Errorf("protocol: %s payload is %T", ev.Kind, ev.Payload)
		}
		return NewGameState(p.State), nil
	case app.EventYourMove:
		p, ok := ev.Payload.(app.StatePayload)
		if !ok {
			return nil, fmt.Errorf("protocol: %s payload is %T", ev.Kind, ev.Payload)
		}
		return NewYourMove(p.State), nil
	case app.EventGameOver:
		p, ok := ev.Payload.(app.GameOverPayload)
		if !ok {
			return nil, fmt.Errorf("protocol: %s payload is %T", ev.Kind, ev.Payload)
		}
		return NewGameOver(p), nil
	default:
		return nil, fmt.Errorf("%w: event %q", ErrUnknownType, ev.Kind)
	}
}
