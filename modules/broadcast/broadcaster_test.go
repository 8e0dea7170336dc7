package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/chat-relay/events"
	"github.com/example/chat-relay/modules/bus"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)         {}
func (m *mockLogger) Info(msg string, args ...any)          {}
func (m *mockLogger) Warn(msg string, args ...any)          {}
func (m *mockLogger) Error(msg string, args ...any)         {}
func (m *mockLogger) With(args ...any) types.Logger         { return m }
func (m *mockLogger) WithError(err error) types.Logger      { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

// fakeConn records the frames written to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []events.Frame
	closed bool
}

func (c *fakeConn) WriteMessage(data []byte) error {
	f, err := events.ParseFrame(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// received returns the string first argument of every frame with event.
func (c *fakeConn) received(t *testing.T, event string) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, f := range c.frames {
		if f.Event != event {
			continue
		}
		var s string
		require.NoError(t, f.DecodeArgs(&s))
		out = append(out, s)
	}
	return out
}

func waitFor(t *testing.T, c *fakeConn, event string, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.received(t, event)) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return c.received(t, event)
}

// setupProcesses starts two broadcasters attached to one bus server, standing
// in for two relay processes.
func setupProcesses(t *testing.T) (*Broadcaster, *Broadcaster) {
	t.Helper()
	ctx := context.Background()

	embedded := bus.NewEmbedded(server.RANDOM_PORT)
	require.NoError(t, embedded.Connect(ctx))
	t.Cleanup(func() { _ = embedded.Close() })

	remote := bus.NewNATS(embedded.URL())
	require.NoError(t, remote.Connect(ctx))
	t.Cleanup(func() { _ = remote.Close() })

	first := NewBroadcaster(embedded, "test", &mockLogger{})
	require.NoError(t, first.Start(ctx))
	t.Cleanup(first.Stop)

	second := NewBroadcaster(remote, "test", &mockLogger{})
	require.NoError(t, second.Start(ctx))
	t.Cleanup(second.Stop)

	assert.NotEqual(t, first.InstanceID(), second.InstanceID())
	return first, second
}

func envelope(t *testing.T, scope events.Scope, key, except, event string, args ...any) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(scope, key, except, event, args...)
	require.NoError(t, err)
	return env
}

func TestBroadcaster_SendRoom_CrossProcessExcludesSender(t *testing.T) {
	first, second := setupProcesses(t)
	ctx := context.Background()

	alice, bob, carol := &fakeConn{}, &fakeConn{}, &fakeConn{}
	first.Register("h-alice", alice)
	second.Register("h-bob", bob)
	second.Register("h-carol", carol)
	require.NoError(t, first.Join(ctx, "h-alice", "room1"))
	require.NoError(t, second.Join(ctx, "h-bob", "room1"))
	require.NoError(t, second.Join(ctx, "h-carol", "room2"))

	for _, text := range []string{"m1", "m2", "m3", "m4"} {
		require.NoError(t, first.Send(ctx, envelope(t, events.ScopeRoom, "room1", "h-alice", events.ChatMessage, text)))
	}
	require.NoError(t, first.Send(ctx, envelope(t, events.ScopeRoom, "room1", "", events.SystemMessage, "done")))

	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, waitFor(t, bob, events.ChatMessage, 4))
	waitFor(t, alice, events.SystemMessage, 1)
	waitFor(t, bob, events.SystemMessage, 1)

	assert.Empty(t, alice.received(t, events.ChatMessage), "sender must not receive its own message")
	assert.Empty(t, carol.received(t, events.ChatMessage))
	assert.Empty(t, carol.received(t, events.SystemMessage))
}

func TestBroadcaster_SendAll_SendDirect(t *testing.T) {
	first, second := setupProcesses(t)
	ctx := context.Background()

	alice, bob := &fakeConn{}, &fakeConn{}
	first.Register("h-alice", alice)
	second.Register("h-bob", bob)

	require.NoError(t, first.Send(ctx, envelope(t, events.ScopeAll, "", "", events.GroupList, "snapshot")))
	assert.Equal(t, []string{"snapshot"}, waitFor(t, alice, events.GroupList, 1))
	assert.Equal(t, []string{"snapshot"}, waitFor(t, bob, events.GroupList, 1))

	require.NoError(t, first.Send(ctx, envelope(t, events.ScopeDirect, "h-bob", "", events.PrivateMessage, "alice")))
	require.NoError(t, first.Send(ctx, envelope(t, events.ScopeAll, "", "h-bob", events.UserTyping, "marker")))
	assert.Equal(t, []string{"alice"}, waitFor(t, bob, events.PrivateMessage, 1))
	waitFor(t, alice, events.UserTyping, 1)
	assert.Empty(t, alice.received(t, events.PrivateMessage))

	require.NoError(t, first.Send(ctx, envelope(t, events.ScopeAll, "", "", events.ClearTyping, "end")))
	waitFor(t, bob, events.ClearTyping, 1)
	assert.Empty(t, bob.received(t, events.UserTyping))
}

func TestBroadcaster_SendUnknownScope(t *testing.T) {
	first, _ := setupProcesses(t)

	env := envelope(t, events.Scope("nowhere"), "", "", events.GroupList, "x")
	assert.ErrorIs(t, first.Send(context.Background(), env), ErrUnknownScope)
}

func TestBroadcaster_PublishEvent(t *testing.T) {
	first, second := setupProcesses(t)
	ctx := context.Background()

	alice, bob := &fakeConn{}, &fakeConn{}
	first.Register("h-alice", alice)
	second.Register("h-bob", bob)
	require.NoError(t, first.Join(ctx, "h-alice", "room1"))
	require.NoError(t, second.Join(ctx, "h-bob", "room1"))

	require.NoError(t, first.Publish(ctx, events.UserTypingEvent{
		Room: "room1", Username: "alice", Handle: "h-alice", Typing: true,
	}))
	assert.Equal(t, []string{"alice"}, waitFor(t, bob, events.UserTyping, 1))

	require.NoError(t, first.Publish(ctx, events.PrivateMessageSentEvent{
		Recipient: "h-alice", From: "bob", Content: "psst",
	}))
	assert.Equal(t, []string{"bob"}, waitFor(t, alice, events.PrivateMessage, 1))
	assert.Empty(t, alice.received(t, events.UserTyping))
}

func TestBroadcaster_RoomSubscriptions(t *testing.T) {
	first, _ := setupProcesses(t)
	ctx := context.Background()

	first.Register("h1", &fakeConn{})
	first.Register("h2", &fakeConn{})
	assert.Equal(t, 0, first.RoomCount())

	require.NoError(t, first.Join(ctx, "h1", "room1"))
	require.NoError(t, first.Join(ctx, "h2", "room1"))
	assert.Equal(t, 1, first.RoomCount())

	require.NoError(t, first.Join(ctx, "h2", "room2"))
	assert.Equal(t, 2, first.RoomCount())

	require.NoError(t, first.Leave(ctx, "h1"))
	assert.Equal(t, 1, first.RoomCount())

	first.Unregister("h2")
	assert.Equal(t, 0, first.RoomCount())
	assert.Equal(t, 0, first.ClientCount())

	assert.ErrorIs(t, first.Join(ctx, "missing", "room1"), ErrUnknownConn)
}

func TestBroadcaster_StopClosesClients(t *testing.T) {
	first, _ := setupProcesses(t)

	conn := &fakeConn{}
	first.Register("h1", conn)
	first.Stop()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
}
