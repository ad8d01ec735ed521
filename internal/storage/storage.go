// Package storage defines the durable key/value layer that settings are
// persisted in, and the change notification sibling execution contexts use
// to learn about each other's writes.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written or was deleted.
var ErrNotFound = errors.New("storage: key not found")

// Store is a synchronous key/value store. A Put replaces the whole value
// atomically: readers see either the old or the new bytes, never a mix.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Change describes a write made by some execution context.
type Change struct {
	Key      string `json:"key"`
	OldValue []byte `json:"old_value,omitempty"`
	NewValue []byte `json:"new_value,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
	Origin   string `json:"origin"`
}

// Watcher reports writes made by other execution contexts. Implementations
// never report the watching context's own writes, and never report reads.
type Watcher interface {
	// Watch calls fn for every foreign change, in the order the changes
	// were observed, on a goroutine owned by the watcher. The returned
	// cancel function stops delivery and is idempotent.
	Watch(ctx context.Context, fn func(Change)) (cancel func(), err error)
}
