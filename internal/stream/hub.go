// Package stream provides an in-process fan-out hub used to drive the
// repositories' reactive list queries. Subscribers receive an invalidation
// signal whenever the topic they watch changes and requery the store
// themselves; publishes never block.
package stream

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Hub fans out topic invalidation signals to subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id      int64
	signals chan struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  subscriberBuffer,
	}
}

// Subscribe registers interest in a topic. The returned channel receives a
// signal after every publish on the topic; the cleanup function removes the
// registration. Cancellation of ctx triggers cleanup as well.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func()) {
	if topic == "" {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:      h.nextSequence(),
		signals: make(chan struct{}, h.bufferSize),
	}
	h.register(topic, sub)
	cleanup := func() {
		h.unregister(topic, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.signals, cleanup
}

// Publish signals every subscriber of the topic. Slow subscribers with a
// full buffer miss the signal; they coalesce on the next requery anyway.
func (h *Hub) Publish(topic string) {
	if topic == "" {
		return
	}
	h.mu.RLock()
	subscribers := h.subscribers[topic]
	if len(subscribers) == 0 {
		h.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	h.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.signals <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *Hub) register(topic string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[int64]*subscriber)
	}
	h.subscribers[topic][sub.id] = sub
}

func (h *Hub) unregister(topic string, subscriberID int64) {
	h.mu.Lock()
	subscribers := h.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(h.subscribers, topic)
		}
	}
	h.mu.Unlock()
}
