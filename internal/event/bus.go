package event

import "sync"

// Bus is an ordered FIFO queue of events. Any component may enqueue; only the
// driver dequeues. Enqueue is serialized so that multiple logical producers
// preserve submission order; events are never reordered across bars.
type Bus struct {
	mu     sync.Mutex
	events []Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Enqueue appends an event to the tail. Nil events are ignored.
func (b *Bus) Enqueue(e Event) {
	if e == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Dequeue removes and returns the head event, or false when the bus is empty.
func (b *Bus) Dequeue() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil, false
	}
	e := b.events[0]
	b.events = b.events[1:]
	return e, true
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
