package engine

import "sync"

// Event types published on the change feed.
const (
	EventSource   = "source"
	EventLayer    = "layer"
	EventImage    = "image"
	EventViewport = "viewport"
	EventWarning  = "warning"
)

// Event describes a change to the map.
type Event struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"` // "added", "updated"
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Bus is a fan-out pub/sub for map change events.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}
