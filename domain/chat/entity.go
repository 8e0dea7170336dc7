package chat

import "time"

// Status is the presence state of a user.
type Status int

const (
	StatusOffline Status = 0
	StatusOnline  Status = 1
)

// FeedRoom is the room every message belongs to in single-feed mode.
const FeedRoom = "global"

// User is a chat identity. Users are created on first join and never deleted.
type User struct {
	ID               uint   `json:"id"`
	Name             string `json:"name"`
	Room             string `json:"room,omitempty"`
	ConnectionHandle string `json:"connection_handle,omitempty"`
	Status           Status `json:"status"`
}

// Room is a named broadcast group.
type Room struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// Message is an immutable chat message. ID is the global ordering offset.
type Message struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Room      string    `json:"room"`
	Content   string    `json:"content"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is one entry of a presence listing.
type Member struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// Snapshot maps room names to their members, each list ordered by name.
type Snapshot map[string][]Member
