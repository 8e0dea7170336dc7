// Package events holds the event names and payloads exchanged with clients and
// between relay processes.
package events

import (
	"encoding/json"
	"fmt"
)

// Inbound event names sent by clients.
const (
	Join       = "join"
	Typing     = "typing"
	Disconnect = "disconnect"
)

// Event names used in both directions or outbound only.
const (
	ChatMessage    = "chat message"
	PrivateMessage = "private message"
	GroupList      = "groupList"
	UserList       = "user_List"
	SystemMessage  = "message"
	UserTyping     = "user typing"
	ClearTyping    = "clear typing"
	Error          = "error"
)

// SystemUser is the author of system messages.
const SystemUser = "admin"

// ChatPayload is the first argument of outbound chat and system messages.
type ChatPayload struct {
	User string `json:"user"`
	Text string `json:"text"`
}

// Scope selects the audience of an Envelope.
type Scope string

const (
	ScopeRoom   Scope = "room"
	ScopeAll    Scope = "all"
	ScopeDirect Scope = "direct"
)

// Envelope is one fanout request carried on the cross-process bus.
type Envelope struct {
	Scope Scope `json:"scope"`
	// Key is the room name for ScopeRoom and the connection handle for
	// ScopeDirect.
	Key string `json:"key,omitempty"`
	// Except is a connection handle that must not receive the event.
	Except string            `json:"except,omitempty"`
	Event  string            `json:"event"`
	Args   []json.RawMessage `json:"args"`
	Origin string            `json:"origin"`
}

// NewEnvelope encodes args positionally into an Envelope.
func NewEnvelope(scope Scope, key, except, event string, args ...any) (Envelope, error) {
	raw, err := EncodeArgs(args...)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %q args: %w", event, err)
	}
	return Envelope{
		Scope:  scope,
		Key:    key,
		Except: except,
		Event:  event,
		Args:   raw,
	}, nil
}

// EncodeArgs marshals each argument separately.
func EncodeArgs(args ...any) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return raw, nil
}
