package chat

import (
	"errors"
	"unicode/utf8"
)

// Validation limits.
const (
	MaxNameLength    = 50
	MaxRoomLength    = 100
	MaxContentLength = 5000
	MaxTokenLength   = 128
)

// Validation errors.
var (
	ErrNameEmpty       = errors.New("name cannot be empty")
	ErrNameTooLong     = errors.New("name exceeds maximum length")
	ErrRoomEmpty       = errors.New("room cannot be empty")
	ErrRoomTooLong     = errors.New("room exceeds maximum length")
	ErrContentEmpty    = errors.New("message content cannot be empty")
	ErrContentTooLong  = errors.New("message exceeds maximum length")
	ErrTokenEmpty      = errors.New("idempotency token cannot be empty")
	ErrTokenTooLong    = errors.New("idempotency token exceeds maximum length")
	ErrInvalidEncoding = errors.New("value is not valid UTF-8")
)

// ValidateName validates a user name.
func ValidateName(name string) error {
	return validate(name, MaxNameLength, ErrNameEmpty, ErrNameTooLong)
}

// ValidateRoom validates a room name.
func ValidateRoom(room string) error {
	return validate(room, MaxRoomLength, ErrRoomEmpty, ErrRoomTooLong)
}

// ValidateContent validates message content.
func ValidateContent(content string) error {
	return validate(content, MaxContentLength, ErrContentEmpty, ErrContentTooLong)
}

// ValidateToken validates an idempotency token.
func ValidateToken(token string) error {
	return validate(token, MaxTokenLength, ErrTokenEmpty, ErrTokenTooLong)
}

func validate(v string, max int, errEmpty, errTooLong error) error {
	if v == "" {
		return errEmpty
	}
	if len(v) > max {
		return errTooLong
	}
	if !utf8.ValidString(v) {
		return ErrInvalidEncoding
	}
	return nil
}
