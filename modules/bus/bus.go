// Package bus is the cross-process event bus that connects relay processes.
//
// Every driver delivers the messages of one subscription in publish order, and
// a publisher receives its own messages on topics it is subscribed to.
package bus

import (
	"context"
	"encoding/hex"
	"errors"
)

// ErrNotConnected is returned when the bus is used before Connect.
var ErrNotConnected = errors.New("bus not connected")

// Handler receives the payload of one bus message.
type Handler func(data []byte)

// Subscription is an active topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus publishes and subscribes to topics shared by all relay processes.
type Bus interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe returns once the subscription is active on the server.
	Subscribe(topic string, handler Handler) (Subscription, error)
	Connected() bool
	Close() error
}

// RoomTopic returns the topic of room. Room names are hex encoded so any
// name is a valid single NATS token and a literal Redis channel.
func RoomTopic(prefix, room string) string {
	return prefix + ".room." + hex.EncodeToString([]byte(room))
}

// AllTopic returns the topic for events addressed to every connection.
func AllTopic(prefix string) string {
	return prefix + ".all"
}

// DirectTopic returns the topic for events addressed to one connection.
func DirectTopic(prefix string) string {
	return prefix + ".direct"
}
