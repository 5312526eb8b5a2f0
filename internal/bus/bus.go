// Package bus is the in-process event publisher behind the admin events
// feed. Control-plane mutations publish events; WebSocket clients
// subscribe through the admin server.
package bus

import (
	"sync"
	"time"
)

// Event is a control-plane notification (apply, install, automation run).
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	TS   string `json:"ts"`
}

// subscriberBuffer bounds each subscriber channel. A slow consumer drops
// events rather than blocking publishers.
const subscriberBuffer = 16

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers a subscriber and returns its event channel.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers an event to every subscriber. Full buffers drop the
// event for that subscriber.
func (b *Bus) Publish(eventType string, data any) {
	e := Event{
		Type: eventType,
		Data: data,
		TS:   time.Now().UTC().Format(time.RFC3339),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
