package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/alfredjeanlab/panelsync/internal/idgen"
)

// Memory is durable storage shared by every execution context in the
// process. It stands in for a real backend in tests and in the CLI's
// memory mode; each context talks to it through its own MemoryContext.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]byte
	nextID   uint64
	watchers map[uint64]*memoryWatch
}

type memoryWatch struct {
	origin string
	d      *dispatcher
}

// NewMemory returns empty shared storage.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		watchers: make(map[uint64]*memoryWatch),
	}
}

// Context returns a view bound to a new execution context.
func (m *Memory) Context() *MemoryContext {
	return &MemoryContext{mem: m, origin: idgen.MustContextID()}
}

// MemoryContext is one execution context's handle on a Memory.
type MemoryContext struct {
	mem    *Memory
	origin string
}

var (
	_ Store   = (*MemoryContext)(nil)
	_ Watcher = (*MemoryContext)(nil)
)

// Origin returns the context ID stamped on this view's writes.
func (c *MemoryContext) Origin() string { return c.origin }

func (c *MemoryContext) Get(_ context.Context, key string) ([]byte, error) {
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	v, ok := c.mem.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (c *MemoryContext) Put(_ context.Context, key string, value []byte) error {
	c.mem.mu.Lock()
	old, had := c.mem.data[key]
	c.mem.data[key] = bytes.Clone(value)
	change := Change{Key: key, NewValue: bytes.Clone(value), Origin: c.origin}
	if had {
		change.OldValue = old
	}
	c.mem.notifyLocked(change)
	c.mem.mu.Unlock()
	return nil
}

func (c *MemoryContext) Delete(_ context.Context, key string) error {
	c.mem.mu.Lock()
	old, had := c.mem.data[key]
	delete(c.mem.data, key)
	if had {
		c.mem.notifyLocked(Change{Key: key, OldValue: old, Deleted: true, Origin: c.origin})
	}
	c.mem.mu.Unlock()
	return nil
}

// Close is a no-op; the shared Memory outlives its contexts.
func (c *MemoryContext) Close() error { return nil }

func (c *MemoryContext) Watch(ctx context.Context, fn func(Change)) (func(), error) {
	d := startDispatcher(ctx, fn)

	c.mem.mu.Lock()
	c.mem.nextID++
	id := c.mem.nextID
	c.mem.watchers[id] = &memoryWatch{origin: c.origin, d: d}
	c.mem.mu.Unlock()

	return func() {
		c.mem.mu.Lock()
		delete(c.mem.watchers, id)
		c.mem.mu.Unlock()
		d.close()
	}, nil
}

func (m *Memory) notifyLocked(change Change) {
	for _, w := range m.watchers {
		if w.origin == change.Origin {
			continue
		}
		w.d.enqueue(change)
	}
}
