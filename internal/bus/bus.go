package bus

import (
	"strings"
	"sync"
)

// Bus is the in-process publish/subscribe seam between the sync core
// and its collaborators: the loader and orchestrator publish progress
// ("history.", "sync."), the ingest pipeline publishes message events
// ("message."), and UI-side consumers subscribe by kind prefix.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

type subscriber struct {
	prefix string
	ch     chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Publish fans the event out to every subscriber whose prefix matches
// its Kind. Delivery never blocks; a subscriber that has fallen behind
// loses the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribe registers a kind-prefix subscription with a buffered channel
// of bufSize. The returned func cancels the subscription; the channel is
// left open so racing publishes never panic.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
