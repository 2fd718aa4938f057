package realtime

import (
	"context"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

type subscriber struct {
	ch     chan Change
	topics map[string]struct{}
}

// Hub is an in-process Broker. Slow subscribers lose changes rather than
// block publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[*subscriber]struct{}{}}
}

func (h *Hub) Publish(ctx context.Context, change Change) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if _, ok := sub.topics[change.Topic]; !ok {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	sub := &subscriber{ch: make(chan Change, subscriberBuffer), topics: map[string]struct{}{}}
	for _, topic := range topics {
		sub.topics[topic] = struct{}{}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	s := &Subscription{C: sub.ch}
	s.closeFn = func() error {
		close(done)
		h.mu.Lock()
		delete(h.subs, sub)
		close(sub.ch)
		h.mu.Unlock()
		return nil
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()
	return s, nil
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many changes were discarded for full subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
