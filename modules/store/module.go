package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/chat-relay/config"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// backend is a Port that owns a database connection.
type backend interface {
	Port
	Ping(ctx context.Context) error
	Close() error
}

// Module exposes the durable store as request-reply services.
type Module struct {
	cfg     config.Config
	backend backend
	logger  types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new store module.
func NewModule(cfg config.Config, logger types.Logger) *Module {
	return &Module{
		cfg:    cfg,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "store"
}

// RegisterServices registers the store operations as request-reply services.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceUpsertRoom, json.Unmarshal, json.Marshal, m.upsertRoom,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceUpsertRoom, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceUpsertUser, json.Unmarshal, json.Marshal, m.upsertUser,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceUpsertUser, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceAppendMessage, json.Unmarshal, json.Marshal, m.appendMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceAppendMessage, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceMessagesSince, json.Unmarshal, json.Marshal, m.messagesSince,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceMessagesSince, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceSetUserStatus, json.Unmarshal, json.Marshal, m.setUserStatus,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSetUserStatus, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceFindUser, json.Unmarshal, json.Marshal, m.findUser,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceFindUser, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRoomSnapshot, json.Unmarshal, json.Marshal, m.roomSnapshot,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRoomSnapshot, err)
	}

	m.logger.Info("Registered store services", "prefix", "services.store")
	return nil
}

// Start opens the configured database and runs migrations.
func (m *Module) Start(ctx context.Context) error {
	switch m.cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := OpenPostgres(ctx, m.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		m.backend = NewPostgresRepository(pool)
	default:
		db, err := OpenSQLite(m.cfg.DBPath, m.cfg.DBDebug)
		if err != nil {
			return err
		}
		m.backend = NewRepository(db)
	}

	m.logger.Info("Store module started", "driver", m.cfg.StoreDriver)
	return nil
}

// Stop closes the database connection.
func (m *Module) Stop(_ context.Context) error {
	if m.backend == nil {
		return nil
	}
	if err := m.backend.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	m.logger.Info("Store module stopped")
	return nil
}

// Health pings the database.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.backend == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}
	if err := m.backend.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"driver": m.cfg.StoreDriver,
		},
	}
}

// Service handlers. Store outcomes travel in Result; the handler error is
// reserved for failures of the service itself.

func (m *Module) upsertRoom(ctx context.Context, req UpsertRoomRequest, _ *mono.Msg) (UpsertRoomResponse, error) {
	id, err := m.backend.UpsertRoom(ctx, req.Name)
	return UpsertRoomResponse{Result: m.resultOf(ServiceUpsertRoom, err), ID: id}, nil
}

func (m *Module) upsertUser(ctx context.Context, req UpsertUserRequest, _ *mono.Msg) (UpsertUserResponse, error) {
	id, err := m.backend.UpsertUser(ctx, req.Name, req.Room, req.Handle)
	return UpsertUserResponse{Result: m.resultOf(ServiceUpsertUser, err), ID: id}, nil
}

func (m *Module) appendMessage(ctx context.Context, req AppendMessageRequest, _ *mono.Msg) (AppendMessageResponse, error) {
	id, err := m.backend.AppendMessage(ctx, req.Author, req.Room, req.Content, req.Token)
	return AppendMessageResponse{Result: m.resultOf(ServiceAppendMessage, err), ID: id}, nil
}

func (m *Module) messagesSince(ctx context.Context, req MessagesSinceRequest, _ *mono.Msg) (MessagesSinceResponse, error) {
	messages, err := m.backend.MessagesSince(ctx, req.Room, req.Offset, req.Limit)
	return MessagesSinceResponse{Result: m.resultOf(ServiceMessagesSince, err), Messages: messages}, nil
}

func (m *Module) setUserStatus(ctx context.Context, req SetUserStatusRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.backend.SetUserStatus(ctx, req.Handle, req.Status)
	return UserResponse{Result: m.resultOf(ServiceSetUserStatus, err), User: user}, nil
}

func (m *Module) findUser(ctx context.Context, req FindUserRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.backend.FindUser(ctx, req.Name)
	return UserResponse{Result: m.resultOf(ServiceFindUser, err), User: user}, nil
}

func (m *Module) roomSnapshot(ctx context.Context, _ RoomSnapshotRequest, _ *mono.Msg) (RoomSnapshotResponse, error) {
	snap, err := m.backend.RoomSnapshot(ctx)
	return RoomSnapshotResponse{Result: m.resultOf(ServiceRoomSnapshot, err), Snapshot: snap}, nil
}

func (m *Module) resultOf(service string, err error) Result {
	res := resultOf(err)
	if res.Code == CodeError {
		m.logger.Warn("Store call failed", "service", service, "error", err)
	}
	return res
}
