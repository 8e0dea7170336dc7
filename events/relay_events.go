package events

import (
	"fmt"
	"time"

	domain "github.com/example/chat-relay/domain/chat"
	"github.com/go-monolith/mono/pkg/helper"
)

// Deliverable is a relay event that knows which connections receive it.
type Deliverable interface {
	Envelopes() ([]Envelope, error)
}

// RoomMembers is the member list pushed to one room.
type RoomMembers struct {
	Room    string          `json:"room"`
	Members []domain.Member `json:"members"`
}

// PresenceUpdate is the presence push attached to a membership change.
type PresenceUpdate struct {
	Groups []map[string][]domain.Member `json:"groups"`
	Rooms  []RoomMembers                `json:"rooms"`
}

// MessageSentEvent is emitted after a chat message has been stored.
type MessageSentEvent struct {
	MessageID int64  `json:"message_id"`
	Room      string `json:"room"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	// Sender is the connection the message came from. Room delivery skips it.
	Sender string `json:"sender,omitempty"`
	// Feed marks a single-feed message, delivered to every connection.
	Feed      bool      `json:"feed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UserJoinedEvent is emitted when a connection joins a room.
type UserJoinedEvent struct {
	Room         string          `json:"room"`
	PreviousRoom string          `json:"previous_room,omitempty"`
	Username     string          `json:"username"`
	Handle       string          `json:"handle"`
	Presence     *PresenceUpdate `json:"presence,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// UserLeftEvent is emitted when a joined user disconnects. Room is empty when
// the user was bound to no room.
type UserLeftEvent struct {
	Room      string          `json:"room,omitempty"`
	Username  string          `json:"username"`
	Handle    string          `json:"handle"`
	Presence  *PresenceUpdate `json:"presence,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// UserTypingEvent is emitted when a user starts or stops typing.
type UserTypingEvent struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Handle   string `json:"handle"`
	Typing   bool   `json:"typing"`
}

// PrivateMessageSentEvent is emitted for a private message to an online user.
type PrivateMessageSentEvent struct {
	// Recipient is the connection handle of the target user.
	Recipient string    `json:"recipient"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the relay. The broadcast module emits and consumes
// them inside one process.
var (
	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"broadcast",
		"MessageSent",
		"v1",
	)

	UserJoinedV1 = helper.EventDefinition[UserJoinedEvent](
		"broadcast",
		"UserJoined",
		"v1",
	)

	UserLeftV1 = helper.EventDefinition[UserLeftEvent](
		"broadcast",
		"UserLeft",
		"v1",
	)

	UserTypingV1 = helper.EventDefinition[UserTypingEvent](
		"broadcast",
		"UserTyping",
		"v1",
	)

	PrivateMessageSentV1 = helper.EventDefinition[PrivateMessageSentEvent](
		"broadcast",
		"PrivateMessageSent",
		"v1",
	)
)

// Envelopes returns the chat message delivery.
func (e MessageSentEvent) Envelopes() ([]Envelope, error) {
	var b envelopes
	payload := ChatPayload{User: e.Username, Text: e.Content}
	if e.Feed {
		b.add(ScopeAll, "", "", ChatMessage, payload, e.MessageID)
	} else {
		b.add(ScopeRoom, e.Room, e.Sender, ChatMessage, payload, e.MessageID)
	}
	return b.result()
}

// Envelopes returns the presence push followed by the join announcement.
func (e UserJoinedEvent) Envelopes() ([]Envelope, error) {
	var b envelopes
	b.presence(e.Presence)
	b.announce(e.Room, fmt.Sprintf("%s entered the %s", e.Username, e.Room))
	return b.result()
}

// Envelopes returns the presence push followed by the leave announcement.
func (e UserLeftEvent) Envelopes() ([]Envelope, error) {
	var b envelopes
	b.presence(e.Presence)
	if e.Room != "" {
		b.announce(e.Room, fmt.Sprintf("%s left the %s", e.Username, e.Room))
	}
	return b.result()
}

// Envelopes returns the typing indicator for the rest of the room.
func (e UserTypingEvent) Envelopes() ([]Envelope, error) {
	event := ClearTyping
	if e.Typing {
		event = UserTyping
	}
	var b envelopes
	b.add(ScopeRoom, e.Room, e.Handle, event, e.Username)
	return b.result()
}

// Envelopes returns the direct delivery to the recipient.
func (e PrivateMessageSentEvent) Envelopes() ([]Envelope, error) {
	var b envelopes
	b.add(ScopeDirect, e.Recipient, "", PrivateMessage, e.From, e.Content)
	return b.result()
}

// envelopes collects envelopes, keeping the first encoding error.
type envelopes struct {
	list []Envelope
	err  error
}

func (b *envelopes) add(scope Scope, key, except, event string, args ...any) {
	if b.err != nil {
		return
	}
	env, err := NewEnvelope(scope, key, except, event, args...)
	if err != nil {
		b.err = err
		return
	}
	b.list = append(b.list, env)
}

func (b *envelopes) presence(p *PresenceUpdate) {
	if p == nil {
		return
	}
	b.add(ScopeAll, "", "", GroupList, p.Groups)
	for _, r := range p.Rooms {
		b.add(ScopeRoom, r.Room, "", UserList, r.Members)
	}
}

func (b *envelopes) announce(room, text string) {
	b.add(ScopeRoom, room, "", SystemMessage, ChatPayload{User: SystemUser, Text: text})
}

func (b *envelopes) result() ([]Envelope, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.list, nil
}
