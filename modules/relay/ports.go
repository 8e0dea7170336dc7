// Package relay implements the per-connection session handler: join, send,
// typing, private message, disconnect and single-feed recovery.
package relay

import (
	"context"

	"github.com/example/chat-relay/events"
)

// Conn is the connection a session is bound to.
type Conn interface {
	// Handle is the opaque id of the connection, unique across processes.
	Handle() string
	// Emit sends one event to this connection only.
	Emit(event string, args ...any) error
	// Ack acknowledges the inbound frame with id.
	Ack(id int64) error
}

// Fanout tracks room membership of local connections and publishes session
// events to connections on any relay process.
type Fanout interface {
	Join(ctx context.Context, handle, room string) error
	Leave(ctx context.Context, handle string) error
	Publish(ctx context.Context, event events.Deliverable) error
}

// Handshake is what the transport knows about a new connection.
type Handshake struct {
	// Offset is the last message id the client has seen.
	Offset int64
	// Recovered is true when the transport restored the previous session
	// itself and no replay is needed.
	Recovered bool
}
