// Package events is the in-process broadcaster for capture lifecycle
// notifications. Delivery is at-most-once: a subscriber that is not keeping
// up drops events instead of slowing the publisher or other subscribers,
// and subscribers never see events published before they joined.
package events

import (
	"sync"
	"time"
)

// Event types published by the capture listeners.
const (
	RequestCreated       = "request:created"
	RequestUpdated       = "request:updated"
	ConnectionCreated    = "tcp_connection:created"
	ConnectionUpdated    = "tcp_connection:updated"
	ConnectionClosed     = "tcp_connection:closed"
	ConnectionFailed     = "tcp_connection:failed"
	defaultSubscriberBuf = 100
)

// Event is one notification.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Time    time.Time      `json:"time"`
}

// Publisher is the narrow interface the listeners depend on.
type Publisher interface {
	Publish(eventType string, payload map[string]any)
}

// Bus fans events out to any number of subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	bufSize     int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
		bufSize:     defaultSubscriberBuf,
	}
}

// Publish delivers an event to every current subscriber without blocking.
func (b *Bus) Publish(eventType string, payload map[string]any) {
	ev := Event{Type: eventType, Payload: payload, Time: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; calling it more than once is safe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.bufSize)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Ensure Bus implements Publisher.
var _ Publisher = (*Bus)(nil)
