package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS is a Bus backed by core NATS subjects.
type NATS struct {
	url string
	nc  *nats.Conn
}

var _ Bus = (*NATS)(nil)

// NewNATS creates a NATS bus for url. Call Connect before use.
func NewNATS(url string) *NATS {
	return &NATS{url: url}
}

// Connect dials the NATS server.
func (b *NATS) Connect(_ context.Context) error {
	nc, err := nats.Connect(b.url,
		nats.Name("chat-relay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b.nc = nc
	return nil
}

// Publish sends data on topic.
func (b *NATS) Publish(_ context.Context, topic string, data []byte) error {
	if b.nc == nil {
		return ErrNotConnected
	}
	if err := b.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler on topic. NATS runs the handler of one
// subscription on a single goroutine, which keeps deliveries in order.
func (b *NATS) Subscribe(topic string, handler Handler) (Subscription, error) {
	if b.nc == nil {
		return nil, ErrNotConnected
	}
	sub, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription to %s: %w", topic, err)
	}
	return sub, nil
}

// Connected reports whether the connection is up.
func (b *NATS) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close drains pending messages and closes the connection.
func (b *NATS) Close() error {
	if b.nc == nil {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
