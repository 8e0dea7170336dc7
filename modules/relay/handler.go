package relay

import (
	"context"
	"errors"

	"github.com/example/chat-relay/modules/presence"
	"github.com/example/chat-relay/modules/store"
	"github.com/go-monolith/mono/pkg/types"
)

// Session errors reported to the client as an error event.
var (
	ErrNotJoined        = errors.New("join a room first")
	ErrIdentityMismatch = errors.New("name or room does not match the joined session")
	ErrRoomsDisabled    = errors.New("rooms are disabled in single-feed mode")
	ErrUnknownEvent     = errors.New("unknown event")
)

// ErrClosed is returned by Dispatch once the session is disconnected.
var ErrClosed = errors.New("session closed")

// errFanout marks a bus failure. Like a transient store failure it is not
// reported to the client.
var errFanout = errors.New("fanout failed")

// Handler creates sessions and holds what they share.
type Handler struct {
	store      store.Port
	fanout     Fanout
	presence   *presence.Registry
	singleFeed bool
	logger     types.Logger

	// rooms keeps append and publish of one room in id order within this
	// process.
	rooms *roomLocks
	// replayPage is the number of messages fetched per replay round trip.
	replayPage int
}

// NewHandler creates a Handler. In single-feed mode every message goes to the
// feed room and is broadcast to all connections, sender included.
func NewHandler(st store.Port, fanout Fanout, singleFeed bool, logger types.Logger) *Handler {
	return &Handler{
		store:      st,
		fanout:     fanout,
		presence:   presence.NewRegistry(st),
		singleFeed: singleFeed,
		logger:     logger,
		rooms:      newRoomLocks(),
		replayPage: replayPageSize,
	}
}

// Connect binds a new session to conn. In single-feed mode it replays the
// messages the client missed unless the transport recovered the session.
func (h *Handler) Connect(ctx context.Context, conn Conn, hs Handshake) *Session {
	s := &Session{
		h:     h,
		conn:  conn,
		state: StateConnected,
	}
	if h.singleFeed {
		offset, err := h.recoverFeed(ctx, conn, hs)
		if err != nil {
			h.logger.Warn("Replay failed", "handle", conn.Handle(), "offset", hs.Offset, "error", err)
		}
		s.feedOffset = offset
	}
	return s
}
