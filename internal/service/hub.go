package service

import (
	"context"
	"sync"

	"github.com/capitalize-ai/agentwatch/internal/model"
)

const subscriberBuffer = 64

// Hub fans stored events out to live subscribers. A subscriber that falls
// behind misses events rather than blocking storage writes.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan *model.Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan *model.Event)}
}

// Publish delivers event to every subscriber that has room for it.
func (h *Hub) Publish(ctx context.Context, event *model.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- event.Clone():
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of events and a function that ends the subscription.
func (h *Hub) Subscribe() (<-chan *model.Event, func()) {
	ch := make(chan *model.Event, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
