package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	domain "github.com/example/chat-relay/domain/chat"
	"github.com/example/chat-relay/events"
	"github.com/example/chat-relay/modules/store"
	"github.com/go-monolith/mono/pkg/types"
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

// fakeConn records every frame sent to it, directly or through a fanout.
type fakeConn struct {
	handle string
	mu     sync.Mutex
	frames []events.Frame
}

func newFakeConn(handle string) *fakeConn {
	return &fakeConn{handle: handle}
}

func (c *fakeConn) Handle() string { return c.handle }

func (c *fakeConn) Emit(event string, args ...any) error {
	raw, err := events.EncodeArgs(args...)
	if err != nil {
		return err
	}
	c.record(events.Frame{Event: event, Args: raw})
	return nil
}

func (c *fakeConn) Ack(id int64) error {
	c.record(events.Frame{Ack: &id})
	return nil
}

func (c *fakeConn) WriteMessage(data []byte) error {
	f, err := events.ParseFrame(data)
	if err != nil {
		return err
	}
	c.record(f)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) record(f events.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *fakeConn) events(event string) []events.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Frame
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) acks() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int64
	for _, f := range c.frames {
		if f.Ack != nil {
			out = append(out, *f.Ack)
		}
	}
	return out
}

// chatMessages decodes the chat message frames received by c.
func (c *fakeConn) chatMessages(t *testing.T) ([]events.ChatPayload, []int64) {
	t.Helper()
	var (
		payloads []events.ChatPayload
		ids      []int64
	)
	for _, f := range c.events(events.ChatMessage) {
		var (
			p  events.ChatPayload
			id int64
		)
		require.NoError(t, f.DecodeArgs(&p, &id))
		payloads = append(payloads, p)
		ids = append(ids, id)
	}
	return payloads, ids
}

// systemTexts returns the texts of the system messages received by c.
func (c *fakeConn) systemTexts(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, f := range c.events(events.SystemMessage) {
		var p events.ChatPayload
		require.NoError(t, f.DecodeArgs(&p))
		assert.Equal(t, events.SystemUser, p.User)
		out = append(out, p.Text)
	}
	return out
}

// lastArg returns the raw first argument of the last frame with event.
func (c *fakeConn) lastArg(t *testing.T, event string) string {
	t.Helper()
	frames := c.events(event)
	require.NotEmpty(t, frames, "no %q frame received", event)
	return string(frames[len(frames)-1].Args[0])
}

// localFanout delivers synchronously to the fake connections it knows.
type localFanout struct {
	mu    sync.RWMutex
	conns map[string]*fakeConn
	rooms map[string]string // handle -> room
	err   error
}

func newLocalFanout() *localFanout {
	return &localFanout{
		conns: make(map[string]*fakeConn),
		rooms: make(map[string]string),
	}
}

func (f *localFanout) add(c *fakeConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[c.handle] = c
}

func (f *localFanout) Join(_ context.Context, handle, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rooms[handle] = room
	return nil
}

func (f *localFanout) Leave(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, handle)
	return nil
}

func (f *localFanout) Publish(_ context.Context, event events.Deliverable) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return f.err
	}
	envs, err := event.Envelopes()
	if err != nil {
		return err
	}
	for _, env := range envs {
		data, err := events.EncodeEvent(env.Event, env.Args)
		if err != nil {
			return err
		}
		for handle, c := range f.conns {
			if handle == env.Except || !f.receives(env, handle) {
				continue
			}
			_ = c.WriteMessage(data)
		}
	}
	return nil
}

// receives reports whether handle is in the audience of env. The caller
// holds mu.
func (f *localFanout) receives(env events.Envelope, handle string) bool {
	switch env.Scope {
	case events.ScopeRoom:
		return f.rooms[handle] == env.Key
	case events.ScopeDirect:
		return handle == env.Key
	default:
		return true
	}
}

// failingStore fails message appends with a transient error.
type failingStore struct {
	store.Port
}

func (s *failingStore) AppendMessage(_ context.Context, _, _, _, _ string) (int64, error) {
	return 0, domain.Transient("append message", errors.New("database is locked"))
}

// setupStore opens a SQLite store in a temp dir.
func setupStore(t *testing.T) store.Port {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), false)
	require.NoError(t, err)
	repo := store.NewRepository(db)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

type testRelay struct {
	handler *Handler
	fanout  *localFanout
}

func setupRelay(t *testing.T, singleFeed bool) *testRelay {
	t.Helper()
	fanout := newLocalFanout()
	return &testRelay{
		handler: NewHandler(setupStore(t), fanout, singleFeed, &mockLogger{}),
		fanout:  fanout,
	}
}

func (r *testRelay) connect(handle string, hs Handshake) (*Session, *fakeConn) {
	conn := newFakeConn(handle)
	r.fanout.add(conn)
	return r.handler.Connect(context.Background(), conn, hs), conn
}

func (r *testRelay) joined(t *testing.T, handle, name, room string) (*Session, *fakeConn) {
	t.Helper()
	s, conn := r.connect(handle, Handshake{})
	require.NoError(t, s.Join(context.Background(), name, room))
	require.Equal(t, StateJoined, s.State())
	return s, conn
}

func frame(t *testing.T, event string, ack *int64, args ...any) events.Frame {
	t.Helper()
	raw, err := events.EncodeArgs(args...)
	require.NoError(t, err)
	return events.Frame{Event: event, Args: raw, Ack: ack}
}

func ackID(id int64) *int64 {
	return &id
}

func TestSession_Join_GroupList(t *testing.T) {
	r := setupRelay(t, false)
	ctx := context.Background()

	x, xConn := r.connect("h-x", Handshake{})
	require.NoError(t, x.Dispatch(ctx, frame(t, events.Join, ackID(1), "alice", "room1")))

	assert.Equal(t, StateJoined, x.State())
	assert.JSONEq(t, `[{"room1":[{"name":"alice","status":1}]}]`, xConn.lastArg(t, events.GroupList))
	assert.JSONEq(t, `[{"name":"alice","status":1}]`, xConn.lastArg(t, events.UserList))
	assert.Equal(t, []string{"alice entered the room1"}, xConn.systemTexts(t))
	assert.Equal(t, []int64{1}, xConn.acks())
}

func TestSession_Join_PresenceBroadcast(t *testing.T) {
	r := setupRelay(t, false)

	_, xConn := r.joined(t, "h-x", "alice", "room1")
	_, zConn := r.joined(t, "h-z", "carol", "room2")
	_, yConn := r.joined(t, "h-y", "bob", "room1")

	want := `[{"room1":[{"name":"alice","status":1},{"name":"bob","status":1}]},{"room2":[{"name":"carol","status":1}]}]`
	assert.JSONEq(t, want, xConn.lastArg(t, events.GroupList))
	assert.JSONEq(t, want, yConn.lastArg(t, events.GroupList))
	assert.JSONEq(t, want, zConn.lastArg(t, events.GroupList))

	assert.JSONEq(t, `[{"name":"alice","status":1},{"name":"bob","status":1}]`, xConn.lastArg(t, events.UserList))
	assert.JSONEq(t, `[{"name":"carol","status":1}]`, zConn.lastArg(t, events.UserList))

	assert.Equal(t, []string{"alice entered the room1", "bob entered the room1"}, xConn.systemTexts(t))
	assert.Equal(t, []string{"carol entered the room2"}, zConn.systemTexts(t))
}

func TestSession_Send_FanoutAndDuplicate(t *testing.T) {
	r := setupRelay(t, false)
	ctx := context.Background()

	x, xConn := r.joined(t, "h-x", "alice", "room1")
	_, yConn := r.joined(t, "h-y", "bob", "room1")
	_, zConn := r.joined(t, "h-z", "carol", "room2")

	require.NoError(t, x.Dispatch(ctx, frame(t, events.ChatMessage, ackID(7), "alice", "room1", "hi", "tok-1")))

	payloads, ids := yConn.chatMessages(t)
	require.Len(t, payloads, 1)
	assert.Equal(t, events.ChatPayload{User: "alice", Text: "hi"}, payloads[0])
	assert.Positive(t, ids[0])
	assert.Equal(t, []int64{7}, xConn.acks())

	payloads, _ = xConn.chatMessages(t)
	assert.Empty(t, payloads, "sender is excluded from fanout")
	payloads, _ = zConn.chatMessages(t)
	assert.Empty(t, payloads, "other rooms do not receive the message")

	// Retry after a lost ack: acknowledged again, delivered once.
	require.NoError(t, x.Dispatch(ctx, frame(t, events.ChatMessage, ackID(8), "alice", "room1", "hi", "tok-1")))
	payloads, _ = yConn.chatMessages(t)
	assert.Len(t, payloads, 1)
	assert.Equal(t, []int64{7, 8}, xConn.acks())
	assert.Empty(t, xConn.events(events.Error))
}

func TestSession_Send_TransientFailureIsSilent(t *testing.T) {
	fanout := newLocalFanout()
	handler := NewHandler(&failingStore{Port: setupStore(t)}, fanout, false, &mockLogger{})
	ctx := context.Background()

	xConn, yConn := newFakeConn("h-x"), newFakeConn("h-y")
	fanout.add(xConn)
	fanout.add(yConn)
	x := handler.Connect(ctx, xConn, Handshake{})
	y := handler.Connect(ctx, yConn, Handshake{})
	require.NoError(t, x.Join(ctx, "alice", "room1"))
	require.NoError(t, y.Join(ctx, "bob", "room1"))

	require.NoError(t, x.Dispatch(ctx, frame(t, events.ChatMessage, ackID(1), "alice", "room1", "hi", "tok-1")))

	assert.Empty(t, xConn.acks())
	assert.Empty(t, xConn.events(events.Error))
	payloads, _ := yConn.chatMessages(t)
	assert.Empty(t, payloads)
}

func TestSession_Send_FanoutFailureStillAcks(t *testing.T) {
	r := setupRelay(t, false)
	ctx := context.Background()

	x, xConn := r.joined(t, "h-x", "alice", "room1")
	r.fanout.err = errors.New("bus down")

	require.NoError(t, x.Dispatch(ctx, frame(t, events.ChatMessage, ackID(3), "alice", "room1", "hi", "tok-1")))
	assert.Equal(t, []int64{3}, xConn.acks())
}

func TestSession_Dispatch_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		join    bool
		frame   func(t *testing.T) events.Frame
		wantErr string
	}{
		{
			name: "send before join",
			frame: func(t *testing.T) events.Frame {
				return frame(t, events.ChatMessage, ackID(1), "alice", "room1", "hi", "tok-1")
			},
			wantErr: ErrNotJoined.Error(),
		},
		{
			name: "send to another room",
			join: true,
			frame: func(t *testing.T) events.Frame {
				return frame(t, events.ChatMessage, ackID(1), "alice", "room2", "hi", "tok-1")
			},
			wantErr: ErrIdentityMismatch.Error(),
		},
		{
			name: "empty content",
			join: true,
			frame: func(t *testing.T) events.Frame {
				return frame(t, events.ChatMessage, ackID(1), "alice", "room1", "", "tok-1")
			},
			wantErr: domain.ErrContentEmpty.Error(),
		},
		{
			name: "missing token",
			join: true,
			frame: func(t *testing.T) events.Frame {
				return frame(t, events.ChatMessage, ackID(1), "alice", "room1", "hi")
			},
			wantErr: events.ErrMissingArgs.Error(),
		},
		{
			name: "empty join name",
			frame: func(t *testing.T) events.Frame {
				return frame(t, events.Join, ackID(1), "", "room1")
			},
			wantErr: domain.ErrNameEmpty.Error(),
		},
		{
			name: "wrong argument type",
			frame: func(t *testing.T) events.Frame {
				return frame(t, events.Join, ackID(1), 42, "room1")
			},
			wantErr: "invalid",
		},
		{
			name: "unknown event",
			frame: func(t *testing.T) events.Frame {
				return frame(t, "shout", ackID(1))
			},
			wantErr: ErrUnknownEvent.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRelay(t, false)
			s, conn := r.connect("h-x", Handshake{})
			if tt.join {
				require.NoError(t, s.Join(context.Background(), "alice", "room1"))
			}

			require.NoError(t, s.Dispatch(context.Background(), tt.frame(t)))

			assert.Empty(t, conn.acks())
			errs := conn.events(events.Error)
			require.Len(t, errs, 1)
			var msg string
			require.NoError(t, errs[0].DecodeArgs(&msg))
			assert.Contains(t, msg, tt.wantErr)
		})
	}
}

func TestSession_Typing(t *testing.T) {
	r := setupRelay(t, false)
	ctx := context.Background()

	x, xConn := r.joined(t, "h-x", "alice", "room1")
	_, yConn := r.joined(t, "h-y", "bob", "room1")

	require.NoError(t, x.Dispatch(ctx, frame(t, events.Typing, nil, "alice", "room1", true)))
	require.NoError(t, x.Dispatch(ctx, frame(t, events.Typing, nil, "alice", "room1", false)))

	assert.Equal(t, `"alice"`, yConn.lastArg(t, events.UserTyping))
	assert.Equal(t, `"alice"`, yConn.lastArg(t, events.ClearTyping))
	assert.Empty(t, xConn.events(events.UserTyping))
	assert.Empty(t, xConn.events(events.ClearTyping))
}

func TestSession_PrivateMessage(t *testing.T) {
	r := setupRelay(t, false)
	ctx := context.Background()

	x, xConn := r.joined(t, "h-x", "alice", "room1")
	y, yConn := r.joined(t, "h-y", "bob", "room2")

	require.NoError(t, x.Dispatch(ctx, frame(t, events.PrivateMessage, ackID(1), "bob", "psst")))
	pms := yConn.events(events.PrivateMessage)
	require.Len(t, pms, 1)
	var from, content string
	require.NoError(t, pms[0].DecodeArgs(&from, &content))
	assert.Equal(t, "alice", from)
	assert.Equal(t, "psst", content)
	assert.Equal(t, []int64{1}, xConn.acks())

	// Unknown target: dropped, no error.
	require.NoError(t, x.Dispatch(ctx, frame(t, events.PrivateMessage, ackID(2), "nobody", "hello?")))
	assert.Empty(t, xConn.events(events.Error))

	// Offline target: dropped, no mailbox.
	y.Disconnect(ctx)
	require.NoError(t, x.Dispatch(ctx, frame(t, events.PrivateMessage, ackID(3), "bob", "still there?")))
	assert.Len(t, yConn.events(events.PrivateMessage), 1)
	assert.Empty(t, xConn.events(events.PrivateMessage))
}

func TestSession_Disconnect(t *testing.T) {
	r := setupRelay(t, false)
	ctx := context.Background()

	x, _ := r.joined(t, "h-x", "alice", "room1")
	_, yConn := r.joined(t, "h-y", "bob", "room1")

	require.ErrorIs(t, x.Dispatch(ctx, events.Frame{Event: events.Disconnect}), ErrClosed)
	assert.Equal(t, StateDisconnected, x.State())

	assert.Contains(t, yConn.systemTexts(t), "alice left the room1")
	assert.JSONEq(t, `[{"room1":[{"name":"bob","status":1}]}]`, yConn.lastArg(t, events.GroupList))
	assert.JSONEq(t, `[{"name":"bob","status":1}]`, yConn.lastArg(t, events.UserList))

	// A second disconnect from the transport is a no-op.
	before := len(yConn.events(events.GroupList))
	x.Disconnect(ctx)
	assert.Len(t, yConn.events(events.GroupList), before)
	assert.ErrorIs(t, x.Dispatch(ctx, frame(t, events.Join, nil, "alice", "room1")), ErrClosed)
}

func TestSession_Disconnect_WithoutJoin(t *testing.T) {
	r := setupRelay(t, false)
	_, yConn := r.joined(t, "h-y", "bob", "room1")
	before := len(yConn.events(events.GroupList))

	s, _ := r.connect("h-x", Handshake{})
	s.Disconnect(context.Background())

	assert.Equal(t, StateDisconnected, s.State())
	assert.Len(t, yConn.events(events.GroupList), before)
}

func TestSession_Rejoin_LastJoinWins(t *testing.T) {
	r := setupRelay(t, false)
	ctx := context.Background()

	old, _ := r.joined(t, "h-old", "alice", "room1")
	_, yConn := r.joined(t, "h-y", "bob", "room1")
	_, _ = r.joined(t, "h-new", "alice", "room1")

	// The displaced connection going away does not take alice offline.
	old.Disconnect(ctx)
	assert.NotContains(t, yConn.systemTexts(t), "alice left the room1")
	assert.JSONEq(t,
		`[{"room1":[{"name":"alice","status":1},{"name":"bob","status":1}]}]`,
		yConn.lastArg(t, events.GroupList))
}

func TestSession_Join_MovesRoom(t *testing.T) {
	r := setupRelay(t, false)
	ctx := context.Background()

	x, _ := r.joined(t, "h-x", "alice", "room1")
	_, yConn := r.joined(t, "h-y", "bob", "room1")

	require.NoError(t, x.Join(ctx, "alice", "room2"))
	assert.JSONEq(t,
		`[{"room1":[{"name":"bob","status":1}]},{"room2":[{"name":"alice","status":1}]}]`,
		yConn.lastArg(t, events.GroupList))
	assert.JSONEq(t, `[{"name":"bob","status":1}]`, yConn.lastArg(t, events.UserList))
}

func TestSession_Send_OrderedUnderConcurrency(t *testing.T) {
	r := setupRelay(t, false)
	ctx := context.Background()

	_, yConn := r.joined(t, "h-y", "reader", "room1")
	senders := make([]*Session, 3)
	for i := range senders {
		senders[i], _ = r.joined(t, fmt.Sprintf("h-%d", i), fmt.Sprintf("user%d", i), "room1")
	}

	var wg sync.WaitGroup
	for i, s := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				token := fmt.Sprintf("tok-%d-%d", i, j)
				assert.NoError(t, s.Send(ctx, fmt.Sprintf("user%d", i), "room1", "msg", token))
			}
		}()
	}
	wg.Wait()

	_, ids := yConn.chatMessages(t)
	require.Len(t, ids, 30)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i], "ids must arrive in increasing order")
	}
}

func TestSingleFeed_SendReachesEveryone(t *testing.T) {
	r := setupRelay(t, true)
	ctx := context.Background()

	x, xConn := r.connect("h-x", Handshake{})
	_, yConn := r.connect("h-y", Handshake{})

	// Room argument is ignored: everything goes to the feed.
	require.NoError(t, x.Dispatch(ctx, frame(t, events.ChatMessage, ackID(1), "alice", "whatever", "hi", "tok-1")))

	xPayloads, xIDs := xConn.chatMessages(t)
	yPayloads, yIDs := yConn.chatMessages(t)
	assert.Equal(t, []events.ChatPayload{{User: "alice", Text: "hi"}}, xPayloads)
	assert.Equal(t, xPayloads, yPayloads)
	assert.Equal(t, xIDs, yIDs)
	assert.Equal(t, []int64{1}, xConn.acks())

	require.NoError(t, x.Dispatch(ctx, frame(t, events.Join, ackID(2), "alice", "room1")))
	require.Len(t, xConn.events(events.Error), 1)
}

func TestSingleFeed_Recovery(t *testing.T) {
	r := setupRelay(t, true)
	ctx := context.Background()

	sender, _ := r.connect("h-sender", Handshake{})
	var ids []int64
	for i := 1; i <= 5; i++ {
		require.NoError(t, sender.Send(ctx, "alice", "", fmt.Sprintf("m%d", i), fmt.Sprintf("tok-%d", i)))
	}
	messages, err := r.handler.store.MessagesSince(ctx, domain.FeedRoom, 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for _, m := range messages {
		ids = append(ids, m.ID)
	}

	tests := []struct {
		name      string
		handshake Handshake
		wantIDs   []int64
		wantTexts []string
	}{
		{
			name:      "fresh client replays everything",
			handshake: Handshake{},
			wantIDs:   ids,
			wantTexts: []string{"m1", "m2", "m3", "m4", "m5"},
		},
		{
			name:      "offset k replays k+1..N",
			handshake: Handshake{Offset: ids[1]},
			wantIDs:   ids[2:],
			wantTexts: []string{"m3", "m4", "m5"},
		},
		{
			name:      "up to date client gets nothing",
			handshake: Handshake{Offset: ids[4]},
		},
		{
			name:      "recovered session is not replayed",
			handshake: Handshake{Offset: 0, Recovered: true},
		},
		{
			name:      "negative offset means from the start",
			handshake: Handshake{Offset: -5},
			wantIDs:   ids,
			wantTexts: []string{"m1", "m2", "m3", "m4", "m5"},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn(fmt.Sprintf("h-reader-%d", i))
			r.handler.Connect(ctx, conn, tt.handshake)

			payloads, gotIDs := conn.chatMessages(t)
			assert.Equal(t, tt.wantIDs, gotIDs)
			var texts []string
			for _, p := range payloads {
				texts = append(texts, p.Text)
			}
			assert.Equal(t, tt.wantTexts, texts)
		})
	}
}

func TestSingleFeed_RecoveryPages(t *testing.T) {
	tests := []struct {
		name  string
		count int
	}{
		{name: "partial last page", count: 5},
		{name: "full last page", count: 4},
		{name: "single short page", count: 1},
		{name: "empty feed", count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRelay(t, true)
			r.handler.replayPage = 2
			ctx := context.Background()

			sender, _ := r.connect("h-sender", Handshake{})
			var want []string
			for i := 1; i <= tt.count; i++ {
				text := fmt.Sprintf("m%d", i)
				want = append(want, text)
				require.NoError(t, sender.Send(ctx, "alice", "", text, fmt.Sprintf("tok-%d", i)))
			}

			conn := newFakeConn("h-reader")
			session := r.handler.Connect(ctx, conn, Handshake{})

			payloads, ids := conn.chatMessages(t)
			var texts []string
			for _, p := range payloads {
				texts = append(texts, p.Text)
			}
			assert.Equal(t, want, texts)
			for i := 1; i < len(ids); i++ {
				assert.Less(t, ids[i-1], ids[i])
			}
			if len(ids) > 0 {
				assert.Equal(t, ids[len(ids)-1], session.FeedOffset())
			} else {
				assert.Zero(t, session.FeedOffset())
			}
		})
	}
}

func TestSingleFeed_FeedOffsetWithoutReplay(t *testing.T) {
	r := setupRelay(t, true)

	up, _ := r.connect("h-up", Handshake{Offset: 42})
	assert.Equal(t, int64(42), up.FeedOffset())

	recovered, _ := r.connect("h-rec", Handshake{Offset: 7, Recovered: true})
	assert.Equal(t, int64(7), recovered.FeedOffset())

	rooms := setupRelay(t, false)
	s, _ := rooms.connect("h-x", Handshake{Offset: 9})
	assert.Zero(t, s.FeedOffset())
}

func TestReplayPage_FitsNATSPayload(t *testing.T) {
	// Worst case: every character is escaped to six bytes in JSON.
	content := strings.Repeat("<", domain.MaxContentLength)
	resp := store.MessagesSinceResponse{}
	for i := 0; i < replayPageSize; i++ {
		resp.Messages = append(resp.Messages, domain.Message{
			ID:      int64(i + 1),
			Author:  strings.Repeat("a", 64),
			Room:    domain.FeedRoom,
			Content: content,
			Token:   strings.Repeat("t", 64),
		})
	}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Less(t, len(data), 1<<20)
}

func TestRoomsMode_NoReplay(t *testing.T) {
	r := setupRelay(t, false)
	x, _ := r.joined(t, "h-x", "alice", "room1")
	require.NoError(t, x.Send(context.Background(), "alice", "room1", "hi", "tok-1"))

	_, conn := r.connect("h-late", Handshake{Offset: 0})
	payloads, _ := conn.chatMessages(t)
	assert.Empty(t, payloads)
}

func TestFrameArgsRoundTrip(t *testing.T) {
	f := frame(t, events.ChatMessage, nil, events.ChatPayload{User: "a", Text: "b"}, int64(9))
	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"chat message","args":[{"user":"a","text":"b"},9]}`, string(data))
}
