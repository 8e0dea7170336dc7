package api

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/example/chat-relay/events"
	"github.com/gofiber/contrib/websocket"
)

const writeTimeout = 10 * time.Second

var errConnClosed = errors.New("connection closed")

// frameWriter is the write side of a WebSocket connection.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsConn serializes writes from the session and from the broadcast hub onto
// one WebSocket connection.
//
// While held, hub deliveries are buffered so a feed replay written through
// Emit reaches the client before any live message.
type wsConn struct {
	handle  string
	mu      sync.Mutex
	ws      frameWriter
	closed  bool
	holding bool
	held    [][]byte
	// through is the last replayed message id. Live chat messages up to it
	// are duplicates of the replay.
	through int64
}

func newWSConn(handle string, ws frameWriter) *wsConn {
	return &wsConn{handle: handle, ws: ws}
}

// Handle returns the connection handle.
func (c *wsConn) Handle() string {
	return c.handle
}

// WriteMessage writes one text frame delivered by the hub, or buffers it
// while the connection is held.
func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	if c.holding {
		c.held = append(c.held, data)
		return nil
	}
	if c.duplicate(data) {
		return nil
	}
	return c.write(data)
}

// hold starts buffering hub deliveries.
func (c *wsConn) hold() {
	c.mu.Lock()
	c.holding = true
	c.mu.Unlock()
}

// release writes the buffered hub deliveries and stops buffering. Chat
// messages with an id at or below through were already replayed and are
// dropped.
func (c *wsConn) release(through int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	held := c.held
	c.held = nil
	c.holding = false
	c.through = through
	if c.closed {
		return errConnClosed
	}
	for _, data := range held {
		if c.duplicate(data) {
			continue
		}
		if err := c.write(data); err != nil {
			return err
		}
	}
	return nil
}

// write sends data. The caller holds mu.
func (c *wsConn) write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// duplicate reports whether data is a chat message already replayed. The
// first newer chat message ends the check since later ids only grow. The
// caller holds mu.
func (c *wsConn) duplicate(data []byte) bool {
	if c.through <= 0 {
		return false
	}
	id, ok := chatMessageID(data)
	if !ok {
		return false
	}
	if id <= c.through {
		return true
	}
	c.through = 0
	return false
}

// chatMessageID returns the message id carried by a chat message frame.
func chatMessageID(data []byte) (int64, bool) {
	frame, err := events.ParseFrame(data)
	if err != nil || frame.Event != events.ChatMessage {
		return 0, false
	}
	var (
		payload json.RawMessage
		id      int64
	)
	if err := frame.DecodeArgs(&payload, &id); err != nil {
		return 0, false
	}
	return id, true
}

// Emit writes an event frame for this connection only. It is never held.
func (c *wsConn) Emit(event string, args ...any) error {
	raw, err := events.EncodeArgs(args...)
	if err != nil {
		return err
	}
	data, err := events.EncodeEvent(event, raw)
	if err != nil {
		return err
	}
	return c.writeDirect(data)
}

// Ack writes an acknowledgment frame.
func (c *wsConn) Ack(id int64) error {
	data, err := events.EncodeAck(id)
	if err != nil {
		return err
	}
	return c.writeDirect(data)
}

func (c *wsConn) writeDirect(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	return c.write(data)
}

// Close closes the connection once.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}
