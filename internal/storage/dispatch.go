package storage

import (
	"context"
	"sync"
)

// dispatcher delivers changes to one watch callback in order, on its own
// goroutine, so a writer never runs another context's handlers.
type dispatcher struct {
	fn func(Change)

	mu      sync.Mutex
	queue   []Change
	stopped bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startDispatcher(ctx context.Context, fn func(Change)) *dispatcher {
	d := &dispatcher{
		fn:   fn,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.loop(ctx)
	return d
}

func (d *dispatcher) enqueue(c Change) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, c)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if d.stopped || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			c := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()
			d.fn(c)
		}
	}
}

// close stops delivery. It does not wait for an in-progress callback when
// called from that callback.
func (d *dispatcher) close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.queue = nil
		d.mu.Unlock()
		close(d.stop)
	})
}
