// Package store is the durable store of the relay: users, rooms and messages.
//
// Ordering and deduplication are enforced by the database. Message ids are
// assigned by the storage layer and the idempotency token carries a unique
// constraint, so two relay processes racing on the same token produce exactly
// one row.
package store

import (
	"context"

	domain "github.com/example/chat-relay/domain/chat"
)

// Port is the durable store contract used by the session handler.
type Port interface {
	// UpsertRoom creates the room if absent and returns its id.
	UpsertRoom(ctx context.Context, name string) (uint, error)
	// UpsertUser binds name to room and handle with status online. A handle
	// previously bound to another user is released from that user.
	UpsertUser(ctx context.Context, name, room, handle string) (uint, error)
	// AppendMessage stores a message and returns its id, or
	// domain.ErrDuplicateToken when token was already used.
	AppendMessage(ctx context.Context, author, room, content, token string) (int64, error)
	// MessagesSince returns up to limit messages of room with id > offset,
	// ascending. A limit of zero or less returns all of them.
	MessagesSince(ctx context.Context, room string, offset int64, limit int) ([]domain.Message, error)
	// SetUserStatus updates the user bound to handle and returns it as it was
	// before the update. Going offline releases the handle.
	SetUserStatus(ctx context.Context, handle string, status domain.Status) (*domain.User, error)
	// FindUser looks a user up by name.
	FindUser(ctx context.Context, name string) (*domain.User, error)
	// RoomSnapshot returns every room with its online members.
	RoomSnapshot(ctx context.Context) (domain.Snapshot, error)
}

// snapshotRow is one row of the room/member join used by RoomSnapshot.
type snapshotRow struct {
	Room   string
	Name   *string
	Status *int
}

// buildSnapshot groups ordered snapshot rows by room.
func buildSnapshot(rows []snapshotRow) domain.Snapshot {
	snap := make(domain.Snapshot, len(rows))
	for _, row := range rows {
		members, ok := snap[row.Room]
		if !ok {
			members = []domain.Member{}
		}
		if row.Name != nil {
			status := domain.StatusOnline
			if row.Status != nil {
				status = domain.Status(*row.Status)
			}
			members = append(members, domain.Member{Name: *row.Name, Status: status})
		}
		snap[row.Room] = members
	}
	return snap
}

const snapshotQuery = `SELECT r.name AS room, u.name AS name, u.status AS status
FROM rooms r
LEFT JOIN users u ON u.room = r.name AND u.status = 1
ORDER BY r.name, u.name`
