package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus backed by Redis pub/sub channels.
type Redis struct {
	addr   string
	client *redis.Client
}

var _ Bus = (*Redis)(nil)

// NewRedis creates a Redis bus for addr. Call Connect before use.
func NewRedis(addr string) *Redis {
	return &Redis{addr: addr}
}

// Connect creates the client and pings the server.
func (b *Redis) Connect(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:         b.addr,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	b.client = client
	return nil
}

// Publish sends data on the channel named topic. It returns after the server
// accepted the message, so sequential publishes keep their order.
func (b *Redis) Publish(ctx context.Context, topic string, data []byte) error {
	if b.client == nil {
		return ErrNotConnected
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection for topic and feeds handler
// from a single goroutine.
func (b *Redis) Subscribe(topic string, handler Handler) (Subscription, error) {
	if b.client == nil {
		return nil, ErrNotConnected
	}
	ctx := context.Background()
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
	}()
	return sub, nil
}

// Connected pings the server.
func (b *Redis) Connected() bool {
	if b.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}

// Close closes the client.
func (b *Redis) Close() error {
	if b.client == nil {
		return nil
	}
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	done chan struct{}
}

// Unsubscribe closes the pub/sub connection and waits for the handler
// goroutine to finish.
func (s *redisSubscription) Unsubscribe() error {
	err := s.ps.Close()
	<-s.done
	return err
}
