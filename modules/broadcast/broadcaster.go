// Package broadcast fans events out to connections across relay processes.
//
// A process publishes every fanout to the bus and delivers only what it reads
// back from the bus, its own publishes included. Each process subscribes to a
// room topic while it has at least one local member in that room.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/example/chat-relay/events"
	"github.com/example/chat-relay/modules/bus"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownConn is returned when a handle is not registered on this
	// process.
	ErrUnknownConn = errors.New("connection not registered")
	// ErrUnknownScope is returned for an envelope without a valid scope.
	ErrUnknownScope = errors.New("unknown envelope scope")
)

// Broadcaster implements room, global and direct fanout over a bus.Bus.
type Broadcaster struct {
	hub        *Hub
	bus        bus.Bus
	prefix     string
	instanceID string
	logger     types.Logger

	mu     sync.Mutex
	subs   map[string]bus.Subscription // room -> subscription
	global []bus.Subscription

	cancelHub context.CancelFunc
}

// NewBroadcaster creates a Broadcaster publishing under prefix.
func NewBroadcaster(b bus.Bus, prefix string, logger types.Logger) *Broadcaster {
	return &Broadcaster{
		hub:        NewHub(logger),
		bus:        b,
		prefix:     prefix,
		instanceID: uuid.NewString(),
		logger:     logger,
		subs:       make(map[string]bus.Subscription),
	}
}

// InstanceID identifies this process on the bus.
func (b *Broadcaster) InstanceID() string {
	return b.instanceID
}

// Start runs the hub and subscribes to the global and direct topics.
func (b *Broadcaster) Start(_ context.Context) error {
	hubCtx, cancel := context.WithCancel(context.Background())
	b.cancelHub = cancel
	go b.hub.Run(hubCtx)

	topics := []string{bus.AllTopic(b.prefix), bus.DirectTopic(b.prefix)}
	subs := make([]bus.Subscription, len(topics))
	var g errgroup.Group
	for i, topic := range topics {
		g.Go(func() error {
			sub, err := b.bus.Subscribe(topic, b.receive)
			if err != nil {
				return err
			}
			subs[i] = sub
			return nil
		})
	}
	err := g.Wait()

	b.mu.Lock()
	for _, sub := range subs {
		if sub != nil {
			b.global = append(b.global, sub)
		}
	}
	b.mu.Unlock()

	if err != nil {
		b.Stop()
		return fmt.Errorf("failed to subscribe broadcast topics: %w", err)
	}
	return nil
}

// Stop drops every subscription and stops the hub, closing local connections.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	for room, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("Failed to unsubscribe room", "room", room, "error", err)
		}
	}
	for _, sub := range b.global {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("Failed to unsubscribe topic", "error", err)
		}
	}
	b.subs = make(map[string]bus.Subscription)
	b.global = nil
	b.mu.Unlock()

	if b.cancelHub != nil {
		b.cancelHub()
		b.hub.Wait()
		b.cancelHub = nil
	}
}

// Register attaches a local connection.
func (b *Broadcaster) Register(handle string, conn Conn) {
	b.hub.Register(&Client{Handle: handle, Conn: conn})
}

// Unregister detaches a local connection and releases its room subscription.
func (b *Broadcaster) Unregister(handle string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.hub.Unregister(handle)
	b.releaseRoom(room)
}

// Join moves handle into room, subscribing to the room topic if it is the
// first local member.
func (b *Broadcaster) Join(_ context.Context, handle, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, ok := b.hub.JoinRoom(handle, room)
	if !ok {
		return ErrUnknownConn
	}
	if prev == room {
		return nil
	}

	if _, subscribed := b.subs[room]; !subscribed {
		sub, err := b.bus.Subscribe(bus.RoomTopic(b.prefix, room), b.receive)
		if err != nil {
			b.hub.LeaveRoom(handle)
			b.releaseRoom(room)
			b.releaseRoom(prev)
			return fmt.Errorf("failed to subscribe room %s: %w", room, err)
		}
		b.subs[room] = sub
		b.logger.Debug("Subscribed room", "room", room)
	}
	b.releaseRoom(prev)
	return nil
}

// Leave removes handle from its room.
func (b *Broadcaster) Leave(_ context.Context, handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseRoom(b.hub.LeaveRoom(handle))
	return nil
}

// releaseRoom unsubscribes room when no local member is left. Callers hold mu.
func (b *Broadcaster) releaseRoom(room string) {
	if room == "" || b.hub.RoomClientCount(room) > 0 {
		return
	}
	sub, ok := b.subs[room]
	if !ok {
		return
	}
	delete(b.subs, room)
	if err := sub.Unsubscribe(); err != nil {
		b.logger.Warn("Failed to unsubscribe room", "room", room, "error", err)
		return
	}
	b.logger.Debug("Unsubscribed room", "room", room)
}

// Publish sends every envelope of event to the topic its scope selects, in
// order.
func (b *Broadcaster) Publish(ctx context.Context, event events.Deliverable) error {
	envs, err := event.Envelopes()
	if err != nil {
		return err
	}
	for _, env := range envs {
		if err := b.Send(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// Send publishes env to the members of its room, to every connection or to
// one connection, wherever they live.
func (b *Broadcaster) Send(ctx context.Context, env events.Envelope) error {
	var topic string
	switch env.Scope {
	case events.ScopeRoom:
		topic = bus.RoomTopic(b.prefix, env.Key)
	case events.ScopeAll:
		topic = bus.AllTopic(b.prefix)
	case events.ScopeDirect:
		topic = bus.DirectTopic(b.prefix)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScope, env.Scope)
	}
	env.Origin = b.instanceID

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b.bus.Publish(ctx, topic, data)
}

// receive handles one envelope read from the bus.
func (b *Broadcaster) receive(data []byte) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.logger.Warn("Dropping malformed envelope", "error", err)
		return
	}
	b.hub.Deliver(env)
}

// ClientCount returns the number of local connections.
func (b *Broadcaster) ClientCount() int {
	return b.hub.ClientCount()
}

// RoomCount returns the number of rooms this process is subscribed to.
func (b *Broadcaster) RoomCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
