package store

import (
	"errors"
	"fmt"
)

// Common store errors.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict indicates a conditional write lost to a concurrent update.
	ErrConflict = errors.New("concurrent modification")

	// ErrConnection indicates a connection problem with the backing store.
	ErrConnection = errors.New("store connection error")

	// ErrInvalidID indicates the provided ID is invalid.
	ErrInvalidID = errors.New("invalid entity ID")
)

// NotFoundError wraps ErrNotFound with entity details.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a typed not found error.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError wraps ErrConflict with the version the caller expected.
type ConflictError struct {
	Entity   string
	ID       string
	Expected string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s (expected version %s)", e.Entity, e.ID, ErrConflict, e.Expected)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a lost conditional write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsConnection checks if an error is a connection error.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}
