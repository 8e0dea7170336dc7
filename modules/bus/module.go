package bus

import (
	"context"
	"fmt"

	"github.com/example/chat-relay/config"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/nats-io/nats-server/v2/server"
)

// Module owns the lifecycle of the configured Bus driver.
type Module struct {
	driver string
	bus    Bus
	logger types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a bus module for the driver selected in cfg.
func NewModule(cfg config.Config, logger types.Logger) *Module {
	var b Bus
	switch cfg.BusDriver {
	case config.BusDriverNATS:
		b = NewNATS(cfg.NATSURL)
	case config.BusDriverRedis:
		b = NewRedis(cfg.RedisAddr)
	default:
		b = NewEmbedded(server.RANDOM_PORT)
	}
	return &Module{
		driver: cfg.BusDriver,
		bus:    b,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "bus"
}

// Bus returns the bus. It is usable once the module has started.
func (m *Module) Bus() Bus {
	return m.bus
}

// Start connects the bus.
func (m *Module) Start(ctx context.Context) error {
	if err := m.bus.Connect(ctx); err != nil {
		return fmt.Errorf("failed to start %s bus: %w", m.driver, err)
	}
	m.logger.Info("Bus module started", "driver", m.driver)
	return nil
}

// Stop closes the bus.
func (m *Module) Stop(_ context.Context) error {
	if err := m.bus.Close(); err != nil {
		return err
	}
	m.logger.Info("Bus module stopped")
	return nil
}

// Health reports whether the bus connection is up.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	connected := m.bus.Connected()
	message := "operational"
	if !connected {
		message = "bus disconnected"
	}
	return mono.HealthStatus{
		Healthy: connected,
		Message: message,
		Details: map[string]any{
			"driver": m.driver,
		},
	}
}
