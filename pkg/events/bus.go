package events

import (
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the channel capacity used when Subscribe is
// called with a non-positive buffer.
const DefaultSubscriberBuffer = 256

// Bus fans events out to any number of subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// and the drop is counted. Engine readers must not stall on a slow consumer.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64

	dropped atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

var _ Publisher = (*Bus)(nil)
