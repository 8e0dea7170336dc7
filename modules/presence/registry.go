// Package presence derives who is online in which room from the durable store.
// Nothing is kept in memory: every call recomputes from a fresh snapshot.
package presence

import (
	"context"
	"fmt"
	"sort"

	domain "github.com/example/chat-relay/domain/chat"
	"github.com/example/chat-relay/events"
)

// SnapshotSource is the part of the store the registry reads.
type SnapshotSource interface {
	RoomSnapshot(ctx context.Context) (domain.Snapshot, error)
}

// Registry computes presence views.
type Registry struct {
	source SnapshotSource
}

// NewRegistry creates a Registry reading from source.
func NewRegistry(source SnapshotSource) *Registry {
	return &Registry{source: source}
}

// View is one consistent presence snapshot.
type View struct {
	snap domain.Snapshot
}

// Compute reads the current snapshot.
func (r *Registry) Compute(ctx context.Context) (View, error) {
	snap, err := r.source.RoomSnapshot(ctx)
	if err != nil {
		return View{}, fmt.Errorf("failed to compute presence: %w", err)
	}
	if snap == nil {
		snap = domain.Snapshot{}
	}
	return View{snap: snap}, nil
}

// GroupList returns one single-key object per room, ordered by room name:
// [{"room1": [{"name":"alice","status":1}]}, {"room2": []}].
func (v View) GroupList() []map[string][]domain.Member {
	rooms := make([]string, 0, len(v.snap))
	for room := range v.snap {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	groups := make([]map[string][]domain.Member, 0, len(rooms))
	for _, room := range rooms {
		groups = append(groups, map[string][]domain.Member{room: v.members(room)})
	}
	return groups
}

// UserList returns the members of room.
func (v View) UserList(room string) []domain.Member {
	return v.members(room)
}

// Update builds the presence push for a membership change: the room list for
// every connection and the member list of each of rooms for that room only.
func (v View) Update(rooms ...string) *events.PresenceUpdate {
	update := &events.PresenceUpdate{
		Groups: v.GroupList(),
		Rooms:  make([]events.RoomMembers, 0, len(rooms)),
	}
	for _, room := range rooms {
		update.Rooms = append(update.Rooms, events.RoomMembers{Room: room, Members: v.UserList(room)})
	}
	return update
}

func (v View) members(room string) []domain.Member {
	members := v.snap[room]
	if members == nil {
		return []domain.Member{}
	}
	return members
}
