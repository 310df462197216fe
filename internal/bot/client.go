package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"pylos/internal/protocol"
)

// Play runs the agent on an open websocket until the game ends or the
// connection closes. It returns the game over summary when one arrived.
func Play(ctx context.Context, conn *websocket.Conn, agent *Agent) (*protocol.GameOverMsg, error) {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if websocket.CloseStatus(err) != -1 {
				return nil, nil
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		msg, err := protocol.Decode(raw)
		if errors.Is(err, protocol.ErrUnknownType) {
			continue
		}
		if err != nil {
			return nil, err
		}

		decision, err := agent.OnMessage(msg)
		if err != nil {
			return nil, err
		}
		if decision.GameOver != nil {
			return decision.GameOver, nil
		}
		if decision.Move != nil {
			if err := wsjson.Write(ctx, conn, decision.Move); err != nil {
				return nil, fmt.Errorf("write move: %w", err)
			}
		}
	}
}
