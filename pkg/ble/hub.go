package ble

import (
	"context"
	"sync"
)

// subscriberBuffer smooths bursts; delivery still blocks once it is full.
const subscriberBuffer = 16

type subscriber struct {
	ch   chan Notification
	done <-chan struct{}
}

// Hub fans notifications out to every open subscription. Publish blocks
// until each live subscriber has taken the value, so a subscriber in the
// middle of a transfer never misses a frame. Per-subscriber order matches
// publish order.
type Hub struct {
	// pubMu serialises publishers and guards channel closes against sends.
	pubMu   sync.Mutex
	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
	closing chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		closing: make(chan struct{}),
	}
}

// Subscribe opens a stream that closes when ctx is done or the hub closes.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Notification, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	s := &subscriber{
		ch:   make(chan Notification, subscriberBuffer),
		done: ctx.Done(),
	}
	h.clients[s] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			h.remove(s)
		case <-h.closing:
		}
	}()
	return s.ch, nil
}

func (h *Hub) remove(s *subscriber) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	_, ok := h.clients[s]
	delete(h.clients, s)
	h.mu.Unlock()

	if ok {
		close(s.ch)
	}
}

// Publish delivers n to every subscriber. Subscribers whose context ends
// while Publish waits on them are skipped, and a Close releases a blocked
// Publish.
func (h *Hub) Publish(n Notification) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	clients := make([]*subscriber, 0, len(h.clients))
	for s := range h.clients {
		clients = append(clients, s)
	}
	h.mu.Unlock()

	for _, s := range clients {
		select {
		case s.ch <- n:
		case <-s.done:
		case <-h.closing:
			return
		}
	}
}

// Len reports the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close ends every subscription. Later Subscribe calls fail with
// ErrHubClosed. Close is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.closing)
	h.mu.Unlock()

	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		delete(h.clients, s)
		close(s.ch)
	}
}
