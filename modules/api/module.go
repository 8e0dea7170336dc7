package api

import (
	"context"
	"fmt"
	"time"

	"github.com/example/chat-relay/config"
	"github.com/example/chat-relay/modules/broadcast"
	"github.com/example/chat-relay/modules/relay"
	"github.com/example/chat-relay/modules/store"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	nanoid "github.com/jaevor/go-nanoid"
)

// handleLength is the length of connection handles.
const handleLength = 21

// APIModule serves the WebSocket endpoint and the health check.
type APIModule struct {
	cfg         config.Config
	app         *fiber.App
	handlers    *Handlers
	store       store.Port
	broadcast   *broadcast.BroadcastModule
	checks      []namedCheck
	logger      types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule.
func NewModule(cfg config.Config, logger types.Logger) *APIModule {
	return &APIModule{
		cfg:    cfg,
		logger: logger,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"store"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "store":
		m.store = store.NewAdapter(container)
	}
}

// SetBroadcast sets the broadcast module (called from main.go). Sessions
// publish through it and connections register with its hub.
func (m *APIModule) SetBroadcast(b *broadcast.BroadcastModule) {
	m.broadcast = b
}

// AddHealthCheck reports the health of module under name on GET /health.
func (m *APIModule) AddHealthCheck(name string, module mono.HealthCheckableModule) {
	m.checks = append(m.checks, namedCheck{name: name, check: module})
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.store == nil {
		return fmt.Errorf("store adapter dependency not set")
	}
	if m.broadcast == nil {
		return fmt.Errorf("broadcast dependency not set")
	}

	newHandle, err := nanoid.Standard(handleLength)
	if err != nil {
		return fmt.Errorf("failed to create handle generator: %w", err)
	}

	relayHandler := relay.NewHandler(m.store, m.broadcast, m.cfg.SingleFeed(), m.logger)
	m.handlers = NewHandlers(relayHandler, m.broadcast, newHandle, m.checks, m.logger)

	m.app = fiber.New(fiber.Config{
		AppName:               "Chat Relay",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})
	m.app.Use(recover.New())
	m.registerRoutes()

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.cfg.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "port", m.cfg.Port, "feed_mode", m.cfg.FeedMode)
	return nil
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	m.logger.Info("HTTP server stopped")
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{
		"port":      m.cfg.Port,
		"feed_mode": m.cfg.FeedMode,
	}
	if m.broadcast != nil {
		details["connected_clients"] = m.broadcast.ClientCount()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

// registerRoutes sets up all HTTP and WebSocket routes.
func (m *APIModule) registerRoutes() {
	m.app.Get("/health", m.handlers.HealthCheck)

	// WebSocket upgrade middleware
	m.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	m.app.Get("/ws", websocket.New(m.handlers.HandleWebSocket))
}

// errorHandler handles errors globally.
func (m *APIModule) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	if code >= fiber.StatusInternalServerError {
		m.logger.Error("HTTP error", "code", code, "path", c.Path(), "error", err)
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
