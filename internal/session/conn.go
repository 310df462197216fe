package session

import (
	"context"

	"pylos/internal/protocol"
)

// Conn is one client connection attached to a session.
type Conn interface {
	// ID identifies the connection for logging.
	ID() string
	// Send writes one message; implementations must honour ctx cancellation.
	Send(ctx context.Context, msg protocol.Message) error
	// Close terminates the connection. Closing twice is harmless.
	Close() error
}
