package event

import (
	"context"
	"sync"
)

// Bus is an ordered, unbounded FIFO of events. Publish never blocks the
// producer; a slow or absent consumer grows the queue without limit. That
// trade-off is deliberate: producers on the supervision path must never
// stall on a downstream relay.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
}

func NewBus() *Bus {
	return &Bus{signal: make(chan struct{}, 1)}
}

// Publish appends e to the queue and wakes the consumer if it is waiting.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued event, blocking until one is available or
// ctx is done.
func (b *Bus) Next(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			e := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return e, nil
		}
		b.mu.Unlock()

		select {
		case <-b.signal:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len reports the number of queued events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
