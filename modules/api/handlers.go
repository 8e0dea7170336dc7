package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/example/chat-relay/events"
	"github.com/example/chat-relay/modules/broadcast"
	"github.com/example/chat-relay/modules/relay"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const healthTimeout = 2 * time.Second

// connRegistry attaches connections to the local broadcast hub.
type connRegistry interface {
	Register(handle string, conn broadcast.Conn)
	Unregister(handle string)
}

type namedCheck struct {
	name  string
	check mono.HealthCheckableModule
}

// Handlers contains the HTTP and WebSocket handlers.
type Handlers struct {
	relay     *relay.Handler
	conns     connRegistry
	newHandle func() string
	checks    []namedCheck
	logger    types.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(
	relayHandler *relay.Handler,
	conns connRegistry,
	newHandle func() string,
	checks []namedCheck,
	logger types.Logger,
) *Handlers {
	return &Handlers{
		relay:     relayHandler,
		conns:     conns,
		newHandle: newHandle,
		checks:    checks,
		logger:    logger,
	}
}

// HandleWebSocket runs one client connection until it closes.
//
// The client may pass ?offset=N with the last message id it has seen. The
// WebSocket transport keeps no session state between connections, so every
// connection is a fresh one and single-feed mode replays from the offset.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	ctx := context.Background()
	handle := h.newHandle()
	conn := newWSConn(handle, c)

	// Live deliveries wait until the feed replay has been written.
	conn.hold()
	h.conns.Register(handle, conn)
	session := h.relay.Connect(ctx, conn, relay.Handshake{
		Offset:    parseOffset(c.Query("offset")),
		Recovered: false,
	})

	defer func() {
		session.Disconnect(ctx)
		h.conns.Unregister(handle)
		_ = conn.Close()
	}()

	if err := conn.release(session.FeedOffset()); err != nil {
		h.logger.Debug("WebSocket write failed", "handle", handle, "error", err)
		return
	}

	h.logger.Debug("WebSocket connected", "handle", handle)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket error", "handle", handle, "error", err)
			}
			break
		}

		frame, err := events.ParseFrame(data)
		if err != nil {
			if err := conn.Emit(events.Error, err.Error()); err != nil {
				break
			}
			continue
		}

		if err := session.Dispatch(ctx, frame); err != nil {
			if !errors.Is(err, relay.ErrClosed) {
				h.logger.Debug("WebSocket write failed", "handle", handle, "error", err)
			}
			break
		}
	}

	h.logger.Debug("WebSocket disconnected", "handle", handle)
}

// HealthCheck handles health check requests (GET /health).
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:  "healthy",
		Modules: make(map[string]ModuleHealth, len(h.checks)),
	}
	for _, nc := range h.checks {
		status := nc.check.Health(ctx)
		resp.Modules[nc.name] = ModuleHealth{
			Healthy: status.Healthy,
			Message: status.Message,
			Details: status.Details,
		}
		if !status.Healthy {
			resp.Status = "unhealthy"
		}
	}

	code := fiber.StatusOK
	if resp.Status != "healthy" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(resp)
}

// parseOffset reads the client offset, treating anything invalid as 0.
func parseOffset(raw string) int64 {
	if raw == "" {
		return 0
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}
