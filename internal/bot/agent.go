package bot

import (
	"fmt"

	"pylos/internal/domain"
	"pylos/internal/protocol"
)

// Agent represents an autonomous bot player.
type Agent struct {
	PlayerID int64
	Strategy Brain
}

// Decision is what the agent wants to do after a message.
type Decision struct {
	Move     *protocol.MoveMsg
	GameOver *protocol.GameOverMsg
}

// OnMessage reacts to a server message. The agent only moves when it receives
// its private turn notice.
func (a *Agent) OnMessage(msg protocol.Message) (Decision, error) {
	switch m := msg.(type) {
	case protocol.YourMoveMsg:
		seat := (m.Turn + 1) % 2
		if seat >= len(m.PlayersIDs) || m.PlayersIDs[seat] != a.PlayerID {
			return Decision{}, nil
		}
		legal, err := decodeLegal(m.Legal)
		if err != nil {
			return Decision{}, err
		}
		if len(legal) == 0 {
			return Decision{}, nil
		}
		move, err := a.Strategy.CalculateMove(legal)
		if err != nil {
			return Decision{}, err
		}
		wire := protocol.FromMove(move)
		wire.Type = protocol.TypeMove
		return Decision{Move: &wire}, nil
	case protocol.GameOverMsg:
		return Decision{GameOver: &m}, nil
	default:
		return Decision{}, nil
	}
}

func decodeLegal(wire []protocol.MoveMsg) ([]domain.Move, error) {
	moves := make([]domain.Move, 0, len(wire))
	for _, w := range wire {
		m, err := w.ToMove()
		if err != nil {
			return nil, fmt.Errorf("decode legal move: %w", err)
		}
		moves = append(moves, m)
	}
	return moves, nil
}
