package store

import (
	"time"

	domain "github.com/example/chat-relay/domain/chat"
)

// User is the GORM model of the users relation.
type User struct {
	ID               uint          `gorm:"primaryKey"`
	Name             string        `gorm:"size:50;not null;uniqueIndex"`
	Room             *string       `gorm:"size:100;index"`
	ConnectionHandle *string       `gorm:"size:64;index"`
	Status           domain.Status `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Room is the GORM model of the rooms relation.
type Room struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:100;not null;uniqueIndex"`
	CreatedAt time.Time
}

// TableName returns the table name for Room.
func (Room) TableName() string {
	return "rooms"
}

// Message is the GORM model of the messages relation.
type Message struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Author    string `gorm:"size:50;not null"`
	Room      string `gorm:"size:100;not null;index"`
	Content   string `gorm:"type:text;not null"`
	Token     string `gorm:"size:128;not null;uniqueIndex"`
	CreatedAt time.Time
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "messages"
}

func (u *User) toDomain() *domain.User {
	user := &domain.User{
		ID:     u.ID,
		Name:   u.Name,
		Status: u.Status,
	}
	if u.Room != nil {
		user.Room = *u.Room
	}
	if u.ConnectionHandle != nil {
		user.ConnectionHandle = *u.ConnectionHandle
	}
	return user
}

func (m *Message) toDomain() domain.Message {
	return domain.Message{
		ID:        m.ID,
		Author:    m.Author,
		Room:      m.Room,
		Content:   m.Content,
		Token:     m.Token,
		CreatedAt: m.CreatedAt,
	}
}
