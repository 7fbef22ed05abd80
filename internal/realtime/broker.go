package realtime

import (
	"context"
	"sync"
)

// Handler receives a published payload. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(payload []byte)

// Broker is the live-update boundary: writers publish to a topic after a
// commit, subscribers attached to that topic are pushed the payload.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, h Handler) (cancel func())
}

func IndexTopic(uid string) string { return "index:" + uid }

func MessagesTopic(conversationID string) string { return "messages:" + conversationID }

// Hub is an in-process Broker.
type Hub struct {
	mu     sync.RWMutex
	next   uint64
	topics map[string]map[uint64]Handler
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[uint64]Handler)}
}

var _ Broker = (*Hub)(nil)

func (h *Hub) Publish(_ context.Context, topic string, payload []byte) error {
	h.Dispatch(topic, payload)
	return nil
}

// Dispatch delivers payload to local subscribers and returns how many got it.
func (h *Hub) Dispatch(topic string, payload []byte) int {
	h.mu.RLock()
	subs := h.topics[topic]
	handlers := make([]Handler, 0, len(subs))
	for _, fn := range subs {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(payload)
	}
	return len(handlers)
}

func (h *Hub) Subscribe(topic string, fn Handler) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[uint64]Handler)
		h.topics[topic] = subs
	}
	subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs := h.topics[topic]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.topics, topic)
				}
			}
		})
	}
}

// Subscribers reports the number of live handlers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
