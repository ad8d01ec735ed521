package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives the payload of a published event. A returned error is
// reported to the bus ErrorSink and does not affect other handlers.
//
// ctx is the publisher's context marked as being inside a delivery of this
// bus. A handler that publishes or calls something that does (such as a
// settings write) must pass ctx along.
type Handler func(ctx context.Context, payload any) error

// ErrorSink receives handler failures, including recovered panics.
type ErrorSink func(topic string, err error)

// Bus is the in-process publish/subscribe channel of one execution context.
//
// Delivery is synchronous and in subscription order, and no two handlers
// ever run at the same time. Events are delivered in FIFO order.
//
// Publish returns after the event has reached every handler. The one
// exception is a publish from inside a handler (its ctx carries the
// delivery mark): that event is queued behind the current one and
// delivered before the outermost Publish returns. A publish from another
// goroutine while a delivery is in progress waits for its own event.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[string][]*subscription
	queue    []envelope
	draining bool
	sink     ErrorSink
}

type subscription struct {
	id      uint64
	handler Handler
	removed atomic.Bool
}

type envelope struct {
	ctx     context.Context
	topic   string
	payload any
	// done is closed once the event has been delivered; nil for events
	// nobody waits on.
	done chan struct{}
}

type deliveryKey struct{}

// inDelivery reports whether ctx was handed to a handler of b.
func (b *Bus) inDelivery(ctx context.Context) bool {
	owner, _ := ctx.Value(deliveryKey{}).(*Bus)
	return owner == b
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithErrorSink replaces the default sink, which logs through slog.
func WithErrorSink(sink ErrorSink) BusOption {
	return func(b *Bus) { b.sink = sink }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs: make(map[string][]*subscription),
		sink: func(topic string, err error) {
			slog.Error("events: handler failed", "topic", topic, "err", err)
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for topic. The returned function removes it; it is
// idempotent and takes effect immediately, even for an event currently
// being delivered.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: h}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.removed.Store(true)
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == sub.id {
					// Copy so snapshots held by an in-progress delivery stay intact.
					next := make([]*subscription, 0, len(list)-1)
					next = append(next, list[:i]...)
					next = append(next, list[i+1:]...)
					b.subs[topic] = next
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Publish delivers payload to every handler subscribed to topic. If ctx
// is cancelled while waiting behind another goroutine's delivery, Publish
// returns early; the event is still delivered.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	if ctx == nil {
		ctx = context.Background()
	}
	ev := envelope{ctx: ctx, topic: topic, payload: payload}

	b.mu.Lock()
	if b.draining {
		if b.inDelivery(ctx) {
			b.queue = append(b.queue, ev)
			b.mu.Unlock()
			return
		}
		ev.done = make(chan struct{})
		b.queue = append(b.queue, ev)
		b.mu.Unlock()
		select {
		case <-ev.done:
		case <-ctx.Done():
		}
		return
	}
	b.queue = append(b.queue, ev)
	b.draining = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue[0] = envelope{}
		b.queue = b.queue[1:]
		handlers := b.subs[next.topic]
		b.mu.Unlock()

		hctx := context.WithValue(next.ctx, deliveryKey{}, b)
		for _, sub := range handlers {
			if sub.removed.Load() {
				continue
			}
			if err := b.call(hctx, sub.handler, next.payload); err != nil {
				b.sink(next.topic, err)
			}
		}
		if next.done != nil {
			close(next.done)
		}

		b.mu.Lock()
	}
	b.draining = false
	b.mu.Unlock()
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *Bus) call(ctx context.Context, h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}
