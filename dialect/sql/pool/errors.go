package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoResource is matched by every NoResourceError.
	ErrNoResource = errors.New("pool: no connection available")
	// ErrClosed is returned by Borrow after Close.
	ErrClosed = errors.New("pool: closed")
	// ErrNotAllocated is returned when a connection that is not currently
	// borrowed is returned or invalidated.
	ErrNotAllocated = errors.New("pool: connection is not allocated")
	// ErrBroken is returned when validating a connection that saw a
	// disconnection error.
	ErrBroken = errors.New("pool: connection is broken")
	// ErrExpired is returned by activation when a connection outlived the
	// configured maximum lifetime.
	ErrExpired = errors.New("pool: connection exceeded its maximum lifetime")
)

// errTimeout marks a single borrow attempt that ran out of MaxWait.
var errTimeout = errors.New("pool: borrow timed out")

// NoResourceError is returned by Borrow when no connection could be handed
// out within the configured wait, including one internal retry.
type NoResourceError struct {
	Wait   time.Duration // Wait per attempt
	Active int           // Connections in use when giving up
	Max    int           // Pool capacity
}

// Error implements the error interface.
func (e *NoResourceError) Error() string {
	return fmt.Sprintf("pool: no connection available after %s (active=%d, max=%d)", e.Wait, e.Active, e.Max)
}

// Is reports whether target is ErrNoResource.
func (e *NoResourceError) Is(target error) bool {
	return target == ErrNoResource
}

// CreateError is returned by Borrow when a new physical connection could not
// be opened or failed its first activation.
type CreateError struct {
	Err error
}

// Error implements the error interface.
func (e *CreateError) Error() string {
	return fmt.Sprintf("pool: create connection: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *CreateError) Unwrap() error {
	return e.Err
}
