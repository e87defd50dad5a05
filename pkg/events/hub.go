// Package events carries progress events from the motion core to
// whoever is watching: the CLI's live output and the daemon's SSE stream.
package events

import (
	"encoding/json"
	"sync"
)

// Hub fans events out to subscribers. Publishing to a nil hub is a no-op,
// so the motion core can publish unconditionally.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub { return &Hub{subs: make(map[chan Event]struct{})} }

func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := Event{Name: name, Data: b}
	h.mu.RLock()
	for ch := range h.subs {
		// Non-blocking send; drop if subscriber is slow. A move must never
		// stall because a watcher stopped reading.
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.RUnlock()
}
