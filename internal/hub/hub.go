// Package hub implements named broadcast topics with dynamic subscriber
// membership. Membership is process state only; nothing here is persisted.
package hub

import (
	"log"
	"sync"
)

// Subscriber is one live connection. Send must be safe for concurrent use
// and should fail fast when the connection is dead.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
}

type Hub struct {
	mu     sync.Mutex
	topics map[string]map[Subscriber]struct{}
	log    *log.Logger
}

func New(logger *log.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[Subscriber]struct{}),
		log:    logger,
	}
}

func (h *Hub) Subscribe(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[Subscriber]struct{})
		h.topics[topic] = members
	}
	members[sub] = struct{}{}
}

func (h *Hub) Unsubscribe(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(h.topics, topic)
	}
}

// Deliver sends payload to every subscriber that is a member of topic when
// the snapshot is taken. Sends happen outside the lock: a subscriber added
// mid-delivery may or may not receive this payload, and a slow or dead
// subscriber never blocks the others. A subscriber whose Send fails is
// removed from the topic. Returns the number of sends attempted.
func (h *Hub) Deliver(topic string, payload []byte) int {
	h.mu.Lock()
	members := make([]Subscriber, 0, len(h.topics[topic]))
	for sub := range h.topics[topic] {
		members = append(members, sub)
	}
	h.mu.Unlock()

	for _, sub := range members {
		if err := sub.Send(payload); err != nil {
			if h.log != nil {
				h.log.Printf("dropping subscriber %s from %q: %v", sub.ID(), topic, err)
			}
			h.Unsubscribe(topic, sub)
		}
	}
	return len(members)
}

// MemberCount reports current membership of a topic.
func (h *Hub) MemberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
