package ws

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"pylos/internal/protocol"
	"pylos/internal/session"
)

// conn adapts a websocket to session.Conn.
type conn struct {
	id string
	c  *websocket.Conn
}

func newConn(c *websocket.Conn) *conn {
	return &conn{id: uuid.NewString(), c: c}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.MessageType(), err)
	}
	return nil
}

// Close starts the close handshake in the background; the handshake waits
// for the peer and the session actor must not.
func (c *conn) Close() error {
	go func() { _ = c.c.Close(websocket.StatusNormalClosure, "game over") }()
	return nil
}

var _ session.Conn = (*conn)(nil)
