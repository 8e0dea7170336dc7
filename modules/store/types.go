package store

import (
	"errors"

	domain "github.com/example/chat-relay/domain/chat"
)

// Service names registered by the store module. The framework prefixes them
// with "services.store.".
const (
	ServiceUpsertRoom    = "upsert-room"
	ServiceUpsertUser    = "upsert-user"
	ServiceAppendMessage = "append-message"
	ServiceMessagesSince = "messages-since"
	ServiceSetUserStatus = "set-user-status"
	ServiceFindUser      = "find-user"
	ServiceRoomSnapshot  = "room-snapshot"
)

// Result codes carried across the service boundary.
const (
	CodeOK        = "ok"
	CodeDuplicate = "duplicate"
	CodeNotFound  = "not_found"
	CodeError     = "error"
)

// Result tags every service response with the outcome of the store call.
type Result struct {
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}

func resultOf(err error) Result {
	switch {
	case err == nil:
		return Result{Code: CodeOK}
	case errors.Is(err, domain.ErrDuplicateToken):
		return Result{Code: CodeDuplicate}
	case errors.Is(err, domain.ErrNotFound):
		return Result{Code: CodeNotFound}
	default:
		return Result{Code: CodeError, Error: err.Error()}
	}
}

// Err turns the result back into the store error it was built from.
func (r Result) Err(op string) error {
	switch r.Code {
	case CodeOK:
		return nil
	case CodeDuplicate:
		return domain.ErrDuplicateToken
	case CodeNotFound:
		return domain.ErrNotFound
	default:
		return domain.Transient(op, errors.New(r.Error))
	}
}

// UpsertRoomRequest is the request for the upsert-room service.
type UpsertRoomRequest struct {
	Name string `json:"name"`
}

// UpsertRoomResponse is the response of the upsert-room service.
type UpsertRoomResponse struct {
	Result
	ID uint `json:"id,omitempty"`
}

// UpsertUserRequest is the request for the upsert-user service.
type UpsertUserRequest struct {
	Name   string `json:"name"`
	Room   string `json:"room"`
	Handle string `json:"handle"`
}

// UpsertUserResponse is the response of the upsert-user service.
type UpsertUserResponse struct {
	Result
	ID uint `json:"id,omitempty"`
}

// AppendMessageRequest is the request for the append-message service.
type AppendMessageRequest struct {
	Author  string `json:"author"`
	Room    string `json:"room"`
	Content string `json:"content"`
	Token   string `json:"token"`
}

// AppendMessageResponse is the response of the append-message service.
type AppendMessageResponse struct {
	Result
	ID int64 `json:"id,omitempty"`
}

// MessagesSinceRequest is the request for the messages-since service.
type MessagesSinceRequest struct {
	Room   string `json:"room"`
	Offset int64  `json:"offset"`
	Limit  int    `json:"limit,omitempty"`
}

// MessagesSinceResponse is the response of the messages-since service.
type MessagesSinceResponse struct {
	Result
	Messages []domain.Message `json:"messages"`
}

// SetUserStatusRequest is the request for the set-user-status service.
type SetUserStatusRequest struct {
	Handle string        `json:"handle"`
	Status domain.Status `json:"status"`
}

// FindUserRequest is the request for the find-user service.
type FindUserRequest struct {
	Name string `json:"name"`
}

// UserResponse is the response of the set-user-status and find-user services.
type UserResponse struct {
	Result
	User *domain.User `json:"user,omitempty"`
}

// RoomSnapshotRequest is the request for the room-snapshot service.
type RoomSnapshotRequest struct{}

// RoomSnapshotResponse is the response of the room-snapshot service.
type RoomSnapshotResponse struct {
	Result
	Snapshot domain.Snapshot `json:"snapshot"`
}
