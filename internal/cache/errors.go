package cache

import (
	"errors"
	"fmt"

	"ctxpilot/internal/panel"
)

// Sentinel errors
var (
	// ErrPoolClosed is returned when submitting to a stopped pool.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrQueueFull is returned when the request queue is at capacity.
	ErrQueueFull = errors.New("request queue is full")
	// ErrFetchTimeout marks a fetch that exceeded its deadline.
	ErrFetchTimeout = errors.New("fetch timed out")
	// ErrFetchPanic marks a fetch that panicked.
	ErrFetchPanic = errors.New("fetch panicked")
)

// FetchError is the error carried by an Update when a fetch fails, times out
// or panics. The element moves to Error and is retried on the next
// invalidation or manual refresh.
type FetchError struct {
	ID  panel.ID
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
