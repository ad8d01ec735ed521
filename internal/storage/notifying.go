package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alfredjeanlab/panelsync/internal/events"
)

// Notifying adds cross-context change notification to a Store that has
// none (file, sqlite, s3). Every successful Put or Delete is announced on
// NATS subject "panel.storage.<key>", stamped with this context's origin.
// Watch subscribes to the announcements and drops this context's own.
type Notifying struct {
	Store

	origin string
	pub    events.Publisher
	sub    events.Subscriber
	logger *slog.Logger

	writeMu sync.Mutex
}

var _ Watcher = (*Notifying)(nil)

// NewNotifying wraps inner. A nil logger uses slog.Default().
func NewNotifying(inner Store, origin string, pub events.Publisher, sub events.Subscriber, logger *slog.Logger) *Notifying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifying{Store: inner, origin: origin, pub: pub, sub: sub, logger: logger}
}

// Origin returns the context ID stamped on announcements.
func (n *Notifying) Origin() string { return n.origin }

func (n *Notifying) Put(ctx context.Context, key string, value []byte) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	old, err := n.Store.Get(ctx, key)
	if err != nil {
		old = nil
	}
	if err := n.Store.Put(ctx, key, value); err != nil {
		return err
	}
	n.announce(ctx, Change{Key: key, OldValue: old, NewValue: value, Origin: n.origin})
	return nil
}

func (n *Notifying) Delete(ctx context.Context, key string) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	old, err := n.Store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err := n.Store.Delete(ctx, key); err != nil {
		return err
	}
	n.announce(ctx, Change{Key: key, OldValue: old, Deleted: true, Origin: n.origin})
	return nil
}

// announce never fails the write: the record is durable either way and a
// sibling that misses the announcement picks the value up on its next read.
func (n *Notifying) announce(ctx context.Context, c Change) {
	if err := n.pub.Publish(ctx, Subject(c.Key), c); err != nil {
		n.logger.Warn("storage: change announcement failed", "key", c.Key, "err", err)
	}
}

// Watch delivers foreign changes on its own goroutine. The returned cancel
// waits for that goroutine, so it must not be called from fn.
func (n *Notifying) Watch(ctx context.Context, fn func(Change)) (func(), error) {
	ch, unsubscribe, err := n.sub.Subscribe(events.SubjectStoragePrefix + ">")
	if err != nil {
		return nil, fmt.Errorf("watch storage changes: %w", err)
	}

	ctx, cancelCtx := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal(raw, &c); err != nil {
					n.logger.Warn("storage: bad change announcement", "err", err)
					continue
				}
				if c.Origin == n.origin {
					continue
				}
				fn(c)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelCtx()
			unsubscribe()
			<-done
		})
	}, nil
}

// Subject returns the NATS subject a change to key is announced on.
func Subject(key string) string {
	return events.SubjectStoragePrefix + subjectReplacer.Replace(key)
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
