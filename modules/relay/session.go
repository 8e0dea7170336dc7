package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/chat-relay/domain/chat"
	"github.com/example/chat-relay/events"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateConnected State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the state of one connection. It is driven by the connection's
// read loop and is not safe for concurrent use.
type Session struct {
	h     *Handler
	conn  Conn
	state State
	name  string
	room  string

	feedOffset int64
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// FeedOffset returns the highest feed message id the connection had after
// connecting: the last replayed id or the client offset. Live feed messages
// at or below it are duplicates of the replay. It is zero in rooms mode.
func (s *Session) FeedOffset() int64 {
	return s.feedOffset
}

// Dispatch runs one inbound frame. Successful frames carrying an ack id are
// acknowledged. Transient failures stay silent so the client retries; invalid
// input gets an error event. It returns ErrClosed once the session ended.
func (s *Session) Dispatch(ctx context.Context, f events.Frame) error {
	if s.state == StateDisconnected {
		return ErrClosed
	}

	var err error
	switch f.Event {
	case events.Join:
		var name, room string
		if err = f.DecodeArgs(&name, &room); err == nil {
			err = s.Join(ctx, name, room)
		}
	case events.ChatMessage:
		var name, room, content, token string
		if err = f.DecodeArgs(&name, &room, &content, &token); err == nil {
			err = s.Send(ctx, name, room, content, token)
		}
	case events.Typing:
		var (
			name, room string
			isTyping   bool
		)
		if err = f.DecodeArgs(&name, &room, &isTyping); err == nil {
			err = s.Typing(ctx, name, room, isTyping)
		}
	case events.PrivateMessage:
		var target, content string
		if err = f.DecodeArgs(&target, &content); err == nil {
			err = s.PrivateMessage(ctx, target, content)
		}
	case events.Disconnect:
		s.Disconnect(ctx)
		return ErrClosed
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}

	switch {
	case err == nil:
		if f.Ack != nil {
			return s.conn.Ack(*f.Ack)
		}
	case domain.IsTransient(err), errors.Is(err, errFanout):
		s.h.logger.Warn("Event not applied, waiting for client retry",
			"handle", s.conn.Handle(), "event", f.Event, "error", err)
	default:
		return s.conn.Emit(events.Error, err.Error())
	}
	return nil
}

// Join binds the session to name in room and announces it.
func (s *Session) Join(ctx context.Context, name, room string) error {
	if s.h.singleFeed {
		return ErrRoomsDisabled
	}
	if err := domain.ValidateName(name); err != nil {
		return err
	}
	if err := domain.ValidateRoom(room); err != nil {
		return err
	}

	handle := s.conn.Handle()
	if _, err := s.h.store.UpsertRoom(ctx, room); err != nil {
		return err
	}
	if _, err := s.h.store.UpsertUser(ctx, name, room, handle); err != nil {
		return err
	}
	if err := s.h.fanout.Join(ctx, handle, room); err != nil {
		return fmt.Errorf("%w: %v", errFanout, err)
	}

	prev := s.room
	s.state = StateJoined
	s.name = name
	s.room = room
	s.h.logger.Info("User joined", "name", name, "room", room, "handle", handle)

	rooms := []string{room}
	var left string
	if prev != "" && prev != room {
		left = prev
		rooms = append(rooms, left)
	}
	s.publish(ctx, events.UserJoinedEvent{
		Room:         room,
		PreviousRoom: left,
		Username:     name,
		Handle:       handle,
		Presence:     s.presenceUpdate(ctx, rooms...),
		Timestamp:    time.Now(),
	})
	return nil
}

// Send stores a message and fans it out. A duplicate token means the message
// was already stored and broadcast: it is dropped and still acknowledged.
func (s *Session) Send(ctx context.Context, name, room, content, token string) error {
	if s.h.singleFeed {
		if err := domain.ValidateName(name); err != nil {
			return err
		}
		room = domain.FeedRoom
	} else if err := s.checkJoined(name, room); err != nil {
		return err
	}
	if err := domain.ValidateContent(content); err != nil {
		return err
	}
	if err := domain.ValidateToken(token); err != nil {
		return err
	}

	unlock := s.h.rooms.lock(room)
	defer unlock()

	id, err := s.h.store.AppendMessage(ctx, name, room, content, token)
	if errors.Is(err, domain.ErrDuplicateToken) {
		s.h.logger.Debug("Duplicate message dropped", "room", room, "token", token)
		return nil
	}
	if err != nil {
		return err
	}

	err = s.h.fanout.Publish(ctx, events.MessageSentEvent{
		MessageID: id,
		Room:      room,
		Username:  name,
		Content:   content,
		Sender:    s.conn.Handle(),
		Feed:      s.h.singleFeed,
		Timestamp: time.Now(),
	})
	if err != nil {
		// Stored messages are still acked.
		s.h.logger.Error("Message stored but fanout failed", "room", room, "id", id, "error", err)
	}
	return nil
}

// Typing relays a typing indicator to the rest of the room.
func (s *Session) Typing(ctx context.Context, name, room string, isTyping bool) error {
	if err := s.checkJoined(name, room); err != nil {
		return err
	}
	err := s.h.fanout.Publish(ctx, events.UserTypingEvent{
		Room:     room,
		Username: name,
		Handle:   s.conn.Handle(),
		Typing:   isTyping,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errFanout, err)
	}
	return nil
}

// PrivateMessage delivers content to the connection currently bound to
// target. Messages to offline users are dropped.
func (s *Session) PrivateMessage(ctx context.Context, target, content string) error {
	if s.state != StateJoined {
		return ErrNotJoined
	}
	if err := domain.ValidateName(target); err != nil {
		return err
	}
	if err := domain.ValidateContent(content); err != nil {
		return err
	}

	user, err := s.h.store.FindUser(ctx, target)
	if errors.Is(err, domain.ErrNotFound) {
		s.h.logger.Debug("Private message to unknown user dropped", "target", target)
		return nil
	}
	if err != nil {
		return err
	}
	if user.ConnectionHandle == "" || user.Status != domain.StatusOnline {
		s.h.logger.Debug("Private message to offline user dropped", "target", target)
		return nil
	}

	err = s.h.fanout.Publish(ctx, events.PrivateMessageSentEvent{
		Recipient: user.ConnectionHandle,
		From:      s.name,
		Content:   content,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errFanout, err)
	}
	return nil
}

// Disconnect marks the user bound to this connection offline and announces
// the departure. It is safe to call more than once.
func (s *Session) Disconnect(ctx context.Context) {
	if s.state == StateDisconnected {
		return
	}
	s.state = StateDisconnected
	handle := s.conn.Handle()

	if err := s.h.fanout.Leave(ctx, handle); err != nil {
		s.h.logger.Warn("Failed to leave room", "handle", handle, "error", err)
	}

	user, err := s.h.store.SetUserStatus(ctx, handle, domain.StatusOffline)
	if errors.Is(err, domain.ErrNotFound) {
		// Never joined, or a later join took the user over.
		return
	}
	if err != nil {
		s.h.logger.Warn("Failed to mark user offline", "handle", handle, "error", err)
		return
	}

	s.h.logger.Info("User left", "name", user.Name, "room", user.Room, "handle", handle)
	var rooms []string
	if user.Room != "" {
		rooms = append(rooms, user.Room)
	}
	s.publish(ctx, events.UserLeftEvent{
		Room:      user.Room,
		Username:  user.Name,
		Handle:    handle,
		Presence:  s.presenceUpdate(ctx, rooms...),
		Timestamp: time.Now(),
	})
}

func (s *Session) checkJoined(name, room string) error {
	if s.state != StateJoined {
		return ErrNotJoined
	}
	if name != s.name || room != s.room {
		return ErrIdentityMismatch
	}
	return nil
}

// presenceUpdate computes the presence push for a membership change. The
// room list goes to every connection. The member list of each given room goes
// to that room only, so a connection sees user_List for its own room and never
// for another one. A failed snapshot skips the push.
func (s *Session) presenceUpdate(ctx context.Context, rooms ...string) *events.PresenceUpdate {
	view, err := s.h.presence.Compute(ctx)
	if err != nil {
		s.h.logger.Warn("Presence push skipped", "error", err)
		return nil
	}
	return view.Update(rooms...)
}

// publish fans out a membership event. Failures are logged: the change is
// already stored.
func (s *Session) publish(ctx context.Context, event events.Deliverable) {
	if err := s.h.fanout.Publish(ctx, event); err != nil {
		s.h.logger.Warn("Failed to publish event", "handle", s.conn.Handle(), "error", err)
	}
}
