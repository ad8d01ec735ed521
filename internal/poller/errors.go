package poller

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned for operations on a name that is not registered.
	ErrTaskNotFound = errors.New("poller: task not found")

	// ErrInvalidInterval is returned for intervals below MinInterval.
	ErrInvalidInterval = errors.New("poller: interval must be at least one second")

	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("poller: scheduler closed")
)

// FetchError records a failed run of a task. It never stops the schedule.
type FetchError struct {
	Task string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("poll %s: %v", e.Task, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
