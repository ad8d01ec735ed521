package settings

import "fmt"

// ReadError reports an unreadable or malformed persisted record. Callers
// treat it as absence: the defaults are used and nothing is rewritten.
type ReadError struct {
	Key string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("settings: reading %s: %v", e.Key, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports a failed write to durable storage. When it is
// returned, no settings-changed event has been published.
type WriteError struct {
	Key string
	Op  string // "put" or "delete"
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("settings: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
