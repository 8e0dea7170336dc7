package store

import (
	"context"
	"encoding/json"

	domain "github.com/example/chat-relay/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Adapter implements Port by calling the store module's services through its
// ServiceContainer.
type Adapter struct {
	container mono.ServiceContainer
}

var _ Port = (*Adapter)(nil)

// NewAdapter creates a new Adapter.
func NewAdapter(container mono.ServiceContainer) *Adapter {
	if container == nil {
		panic("store: ServiceContainer is nil")
	}
	return &Adapter{container: container}
}

// call invokes service. A failed call is transient: the store may or may not
// have applied it, and the client retry with the same token settles it.
func (a *Adapter) call(ctx context.Context, service string, req, resp any) error {
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		&resp,
	); err != nil {
		return domain.Transient(service, err)
	}
	return nil
}

// UpsertRoom creates the room if absent.
func (a *Adapter) UpsertRoom(ctx context.Context, name string) (uint, error) {
	req := UpsertRoomRequest{Name: name}
	var resp UpsertRoomResponse
	if err := a.call(ctx, ServiceUpsertRoom, &req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, resp.Err(ServiceUpsertRoom)
}

// UpsertUser binds a user to a room and connection.
func (a *Adapter) UpsertUser(ctx context.Context, name, room, handle string) (uint, error) {
	req := UpsertUserRequest{Name: name, Room: room, Handle: handle}
	var resp UpsertUserResponse
	if err := a.call(ctx, ServiceUpsertUser, &req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, resp.Err(ServiceUpsertUser)
}

// AppendMessage stores a message.
func (a *Adapter) AppendMessage(ctx context.Context, author, room, content, token string) (int64, error) {
	req := AppendMessageRequest{Author: author, Room: room, Content: content, Token: token}
	var resp AppendMessageResponse
	if err := a.call(ctx, ServiceAppendMessage, &req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, resp.Err(ServiceAppendMessage)
}

// MessagesSince returns messages of room newer than offset.
func (a *Adapter) MessagesSince(ctx context.Context, room string, offset int64, limit int) ([]domain.Message, error) {
	req := MessagesSinceRequest{Room: room, Offset: offset, Limit: limit}
	var resp MessagesSinceResponse
	if err := a.call(ctx, ServiceMessagesSince, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, resp.Err(ServiceMessagesSince)
}

// SetUserStatus updates the user bound to handle.
func (a *Adapter) SetUserStatus(ctx context.Context, handle string, status domain.Status) (*domain.User, error) {
	req := SetUserStatusRequest{Handle: handle, Status: status}
	var resp UserResponse
	if err := a.call(ctx, ServiceSetUserStatus, &req, &resp); err != nil {
		return nil, err
	}
	return resp.User, resp.Err(ServiceSetUserStatus)
}

// FindUser looks a user up by name.
func (a *Adapter) FindUser(ctx context.Context, name string) (*domain.User, error) {
	req := FindUserRequest{Name: name}
	var resp UserResponse
	if err := a.call(ctx, ServiceFindUser, &req, &resp); err != nil {
		return nil, err
	}
	return resp.User, resp.Err(ServiceFindUser)
}

// RoomSnapshot returns every room with its online members.
func (a *Adapter) RoomSnapshot(ctx context.Context) (domain.Snapshot, error) {
	req := RoomSnapshotRequest{}
	var resp RoomSnapshotResponse
	if err := a.call(ctx, ServiceRoomSnapshot, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Snapshot, resp.Err(ServiceRoomSnapshot)
}
