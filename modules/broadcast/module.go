package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/chat-relay/events"
	"github.com/example/chat-relay/modules/bus"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

var errEventBusNotSet = errors.New("event bus not set")

// BroadcastModule runs the process-local hub and its bus subscriptions.
//
// Sessions publish relay events on the mono event bus through Publish. The
// module consumes them and forwards each one onto the cross-process bus, from
// where every relay process delivers it to its own connections.
type BroadcastModule struct {
	broadcaster *Broadcaster
	eventBus    mono.EventBus
	logger      types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*BroadcastModule)(nil)
	_ mono.EventBusAwareModule   = (*BroadcastModule)(nil)
	_ mono.EventEmitterModule    = (*BroadcastModule)(nil)
	_ mono.EventConsumerModule   = (*BroadcastModule)(nil)
	_ mono.HealthCheckableModule = (*BroadcastModule)(nil)
)

// NewModule creates a new BroadcastModule on b. The bus must be started
// before this module.
func NewModule(b bus.Bus, prefix string, logger types.Logger) *BroadcastModule {
	return &BroadcastModule{
		broadcaster: NewBroadcaster(b, prefix, logger),
		logger:      logger,
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// SetEventBus receives the EventBus from the framework.
func (m *BroadcastModule) SetEventBus(eventBus mono.EventBus) {
	m.eventBus = eventBus
}

// EmitEvents declares the events this module can emit.
func (m *BroadcastModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
		events.UserJoinedV1.ToBase(),
		events.UserLeftV1.ToBase(),
		events.UserTypingV1.ToBase(),
		events.PrivateMessageSentV1.ToBase(),
	}
}

// RegisterEventConsumers registers the handlers forwarding relay events to
// the cross-process bus.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageSentV1, m.handleMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserJoinedV1, m.handleUserJoined, m,
	); err != nil {
		return fmt.Errorf("failed to register UserJoined consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserLeftV1, m.handleUserLeft, m,
	); err != nil {
		return fmt.Errorf("failed to register UserLeft consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserTypingV1, m.handleUserTyping, m,
	); err != nil {
		return fmt.Errorf("failed to register UserTyping consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.PrivateMessageSentV1, m.handlePrivateMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register PrivateMessageSent consumer: %w", err)
	}

	m.logger.Info("Registered event consumers",
		"events", "MessageSent, UserJoined, UserLeft, UserTyping, PrivateMessageSent")
	return nil
}

// Start runs the hub and subscribes to the shared topics.
func (m *BroadcastModule) Start(ctx context.Context) error {
	if err := m.broadcaster.Start(ctx); err != nil {
		return err
	}
	m.logger.Info("Broadcast module started", "instance", m.broadcaster.InstanceID())
	return nil
}

// Stop shuts down the module.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.broadcaster.ClientCount()
	m.broadcaster.Stop()
	m.logger.Info("Broadcast module stopped", "clients", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"instance":          m.broadcaster.InstanceID(),
			"connected_clients": m.broadcaster.ClientCount(),
			"subscribed_rooms":  m.broadcaster.RoomCount(),
		},
	}
}

// Register attaches a local connection.
func (m *BroadcastModule) Register(handle string, conn Conn) {
	m.broadcaster.Register(handle, conn)
}

// Unregister detaches a local connection.
func (m *BroadcastModule) Unregister(handle string) {
	m.broadcaster.Unregister(handle)
}

// Join moves a local connection into room.
func (m *BroadcastModule) Join(ctx context.Context, handle, room string) error {
	return m.broadcaster.Join(ctx, handle, room)
}

// Leave removes a local connection from its room.
func (m *BroadcastModule) Leave(ctx context.Context, handle string) error {
	return m.broadcaster.Leave(ctx, handle)
}

// ClientCount returns the number of local connections.
func (m *BroadcastModule) ClientCount() int {
	return m.broadcaster.ClientCount()
}

// Publish emits event on the mono event bus.
func (m *BroadcastModule) Publish(_ context.Context, event events.Deliverable) error {
	if m.eventBus == nil {
		return errEventBusNotSet
	}

	switch e := event.(type) {
	case events.MessageSentEvent:
		return events.MessageSentV1.Publish(m.eventBus, e, nil)
	case events.UserJoinedEvent:
		return events.UserJoinedV1.Publish(m.eventBus, e, nil)
	case events.UserLeftEvent:
		return events.UserLeftV1.Publish(m.eventBus, e, nil)
	case events.UserTypingEvent:
		return events.UserTypingV1.Publish(m.eventBus, e, nil)
	case events.PrivateMessageSentEvent:
		return events.PrivateMessageSentV1.Publish(m.eventBus, e, nil)
	default:
		return fmt.Errorf("unsupported event %T", event)
	}
}

// Event handlers

func (m *BroadcastModule) handleMessageSent(ctx context.Context, event events.MessageSentEvent, _ *mono.Msg) error {
	m.logger.Debug("Forwarding message", "room", event.Room, "id", event.MessageID)
	return m.forward(ctx, "MessageSent", event)
}

func (m *BroadcastModule) handleUserJoined(ctx context.Context, event events.UserJoinedEvent, _ *mono.Msg) error {
	m.logger.Debug("Forwarding user joined", "name", event.Username, "room", event.Room)
	return m.forward(ctx, "UserJoined", event)
}

func (m *BroadcastModule) handleUserLeft(ctx context.Context, event events.UserLeftEvent, _ *mono.Msg) error {
	m.logger.Debug("Forwarding user left", "name", event.Username, "room", event.Room)
	return m.forward(ctx, "UserLeft", event)
}

func (m *BroadcastModule) handleUserTyping(ctx context.Context, event events.UserTypingEvent, _ *mono.Msg) error {
	return m.forward(ctx, "UserTyping", event)
}

func (m *BroadcastModule) handlePrivateMessageSent(ctx context.Context, event events.PrivateMessageSentEvent, _ *mono.Msg) error {
	return m.forward(ctx, "PrivateMessageSent", event)
}

// forward publishes event on the cross-process bus. Failures are logged and
// not retried: the event is not durable.
func (m *BroadcastModule) forward(ctx context.Context, name string, event events.Deliverable) error {
	if err := m.broadcaster.Publish(ctx, event); err != nil {
		m.logger.Error("Failed to forward event", "event", name, "error", err)
	}
	return nil
}
