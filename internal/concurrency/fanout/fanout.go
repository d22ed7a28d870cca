package fanout

import (
	"sync"

	"pricestream/internal/domain/model"
)

const subscriberBuffer = 16

// Hub broadcasts quote batches to a dynamic set of subscribers. A slow
// subscriber has batches dropped rather than stalling the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []model.PriceQuote]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []model.PriceQuote]struct{})}
}

// Subscribe registers a receiver and returns its channel plus a cancel
// function. The channel is closed on cancel or hub close.
func (h *Hub) Subscribe() (<-chan []model.PriceQuote, func()) {
	ch := make(chan []model.PriceQuote, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the batch to every subscriber, dropping it for those
// whose buffer is full.
func (h *Hub) Publish(batch []model.PriceQuote) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- batch:
		default:
		}
	}
}

// Subscribers reports the current receiver count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
