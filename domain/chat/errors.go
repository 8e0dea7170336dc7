package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateToken is returned when a message with the same idempotency
	// token was already stored.
	ErrDuplicateToken = errors.New("duplicate idempotency token")
	// ErrNotFound is returned when a user or room lookup misses.
	ErrNotFound = errors.New("not found")
)

// StoreError is a transient store failure. The write it belongs to was not
// applied and the client is expected to retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Transient wraps err as a StoreError for op.
func Transient(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsTransient reports whether err is a transient store failure.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
